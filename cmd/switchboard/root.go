package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard is a multi-agent conversational platform",
	Long:  `Switchboard routes user conversations between specialist agents, each driven by a declarative workflow graph, with seamless mid-conversation handoffs.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "switchboard.yaml", "Path to the platform configuration file")
	rootCmd.PersistentFlags().String("workflows", "", "Workflow directory (overrides config)")
}
