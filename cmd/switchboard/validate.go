package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaydesk/switchboard/pkg/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check all workflow definitions for consistency",
	Long:  `Parses every workflow JSON file in the directory, checking schema conformance, edge targets, decision defaults and per-node-type rules.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("workflows")
		if dir == "" && len(args) > 0 {
			dir = args[0]
		}
		if dir == "" {
			dir = "./workflows"
		}
		if err := runValidate(dir); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("All workflows are valid.")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow directory: %w", err)
	}

	checked := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		if _, err := workflow.Parse(raw); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		fmt.Printf("  %s ok\n", entry.Name())
		checked++
	}
	if checked == 0 {
		return fmt.Errorf("no workflow files found in %s", dir)
	}
	return nil
}
