package main

import (
	"os"

	"github.com/spf13/cobra"
)

// main wires the CLI. Business logic lives in internal service packages.
func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:           "ehrconsent",
		Short:         "Patient consent service for cross-hospital EHR access",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file read before the environment")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(identityTokenCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
