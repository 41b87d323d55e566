package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/relaydesk/switchboard/internal/config"
	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/internal/presentation/tui"
	"github.com/relaydesk/switchboard/pkg/agent"
	"github.com/relaydesk/switchboard/pkg/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agents from the terminal",
	Long:  `Runs the full agent platform in-process and opens an interactive conversation, including live handoffs between agents.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runChat(cmd); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("workflows"); dir != "" {
		cfg.WorkflowsDir = dir
	}
	// The chat command is always single-process.
	cfg.Redis.Addr = ""

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		tui.PrintBanner()
	}

	render := tui.NewRenderer()
	profile := termenv.ColorProfile()

	sink := agent.EmitterFunc(func(_ context.Context, env domain.Envelope) error {
		switch env.Type {
		case domain.WireAgentSay:
			prefix := termenv.String(env.FromAgent + ">").Foreground(profile.Color("#34d399")).Bold()
			fmt.Printf("%s %s", prefix, render(env.Text))
		case domain.WireError:
			fmt.Println(termenv.String("error: " + env.Reason).Foreground(profile.Color("#f87171")))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := buildPlatform(ctx, cfg, sink, logging.New(slog.LevelWarn))
	if err != nil {
		return err
	}
	defer p.close()

	sessionID := uuid.NewString()
	rt, ok := p.client.Runtime(cfg.DefaultAgent)
	if !ok {
		return fmt.Errorf("default agent %q is not attached", cfg.DefaultAgent)
	}
	if err := rt.Deliver(ctx, domain.Envelope{
		Type:      domain.WireSessionInit,
		SessionID: sessionID,
	}); err != nil {
		return err
	}

	if interactive {
		fmt.Println("Type your message, or /quit to leave.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			break
		}

		owner, _, err := p.registry.Owner(ctx, sessionID)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				fmt.Println("Conversation ended.")
				break
			}
			return err
		}
		rt, ok := p.client.Runtime(owner)
		if !ok {
			return fmt.Errorf("owning agent %q is not attached", owner)
		}

		err = rt.Deliver(ctx, domain.Envelope{
			Type:      domain.WireUtterance,
			SessionID: sessionID,
			Text:      text,
			MessageID: uuid.NewString(),
		})
		if err != nil {
			fmt.Println(termenv.String("error: " + err.Error()).Foreground(profile.Color("#f87171")))
		}
	}
	return scanner.Err()
}
