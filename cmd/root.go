// Package cmd implements the command-line interface for the dataset URL
// registry. It provides the root command and subcommands for running the API
// server and the background workers.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/goregistry/cmd/httpd"
	"github.com/jonesrussell/goregistry/cmd/urls"
	"github.com/jonesrussell/goregistry/cmd/worker"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// rootCmd represents the root command for the registry CLI.
	rootCmd = &cobra.Command{
		Use:   "goregistry",
		Short: "A registry of remote dataset repositories",
		Long: `A registry tracking remote dataset repository URLs: clones them
into a local cache, extracts metadata, and periodically rechecks them
for upstream changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or /etc/goregistry/config.yaml)",
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goregistry version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(httpd.Command(&cfgFile))
	rootCmd.AddCommand(worker.Command(&cfgFile))
	rootCmd.AddCommand(urls.Command(&cfgFile))
}
