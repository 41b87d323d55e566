package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaydesk/switchboard/internal/presentation/graph"
	"github.com/relaydesk/switchboard/pkg/workflow"
)

var graphCmd = &cobra.Command{
	Use:   "graph <workflow>",
	Short: "Export a workflow graph visualization",
	Long:  `Loads a workflow by reference and outputs a Mermaid diagram (graph TD) of its nodes and edges.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("workflows")
		if dir == "" {
			dir = "./workflows"
		}

		loader := workflow.NewFileLoader(dir)
		wf, err := loader.Load(context.Background(), args[0])
		if err != nil {
			fmt.Printf("Error loading workflow: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(graph.GenerateMermaid(wf, nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
