package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "LTI 1.3 tool gateway for the course AI assistant",
	Long: `gateway serves the LTI 1.3 login, launch and key-set endpoints, the
instructor dashboard API and the student chat proxy.

Configuration is read from the environment (see internal/config).`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newGenSecretCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
