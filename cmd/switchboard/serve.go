package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaydesk/switchboard/internal/config"
	"github.com/relaydesk/switchboard/internal/logging"
	"github.com/relaydesk/switchboard/pkg/gateway"
	"github.com/relaydesk/switchboard/pkg/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and hosted agents",
	Long:  `Starts the gateway with its websocket session endpoint, the configured agents, the routing engine and the agent health monitor.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().Bool("json-logs", false, "Emit JSON logs")
}

func runServe(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("workflows"); dir != "" {
		cfg.WorkflowsDir = dir
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	var logger *slog.Logger
	if jsonLogs, _ := cmd.Flags().GetBool("json-logs"); jsonLogs {
		logger = logging.NewJSON(slog.LevelInfo)
	} else {
		logger = logging.New(slog.LevelInfo)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := gateway.NewHub(logger)
	p, err := buildPlatform(ctx, cfg, hub, logger)
	if err != nil {
		return err
	}
	defer p.close()

	heartbeat := cfg.Heartbeat.Std(10 * time.Second)
	for _, rt := range p.runtimes {
		go rt.RunHeartbeat(ctx, heartbeat)
	}

	monitorCfg := registry.DefaultMonitorConfig()
	monitorCfg.Interval = heartbeat
	go p.registry.RunMonitor(ctx, monitorCfg)

	server := gateway.NewServer(p.registry, p.engine, p.client, hub, cfg.DefaultAgent,
		gateway.WithLogger(logger),
		gateway.WithMetrics(p.metrics, p.prom),
	)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Handler(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Listen, "agents", len(p.runtimes))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "err", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("error closing server: %w", err)
			}
		}
		logger.Info("gateway stopped")
	}
	return nil
}
