package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "conflux",
	Short:         "Conflux syncs third-party SaaS data into Postgres and streams the changes.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd)
}
