package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydesk/switchboard"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("switchboard", switchboard.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
