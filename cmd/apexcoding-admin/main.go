// Package main is the entry point for the ApexCoding admin CLI.
// This tool works directly against the configured store for operator tasks
// such as creating admin users and releasing stuck checkouts.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/apexcoding/apexcoding/internal/app"
	"github.com/apexcoding/apexcoding/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "apexcoding-admin",
	Short:         "Administrative commands for ApexCoding",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log store activity to stderr")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newProjectCmd())
	rootCmd.AddCommand(newDBCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("ApexCoding Admin CLI\n")
			cmd.Printf("Version: %s\n", Version)
			cmd.Printf("Build Time: %s\n", BuildTime)
			cmd.Printf("Git Commit: %s\n", GitCommit)
		},
	}
}

func newLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// openApp builds the services without the HTTP-only components.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Metrics.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Idempotency.Enabled = false
	return app.New(ctx, cfg, newLogger())
}
