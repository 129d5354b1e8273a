// Package main is the entry point for the ApexCoding schema tool.
// It prepares the configured store before the first server start.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/app"
	"github.com/apexcoding/apexcoding/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("ApexCoding Schema Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up":
		if err := up(); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		if err := status(); err != nil {
			fmt.Fprintf(os.Stderr, "status check failed: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(os.Getenv("APEX_CONFIG"))
}

func up() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg.Database, nil, logger)
	if err != nil {
		return err
	}
	defer backend.Database.Close()

	fmt.Printf("%s schema is up to date\n", cfg.Database.Driver)
	return nil
}

func status() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg.Database, nil, zerolog.Nop())
	if err != nil {
		return err
	}
	defer backend.Database.Close()

	if err := backend.Database.Health(ctx); err != nil {
		return err
	}
	fmt.Printf("driver: %s\nstatus: healthy\n", cfg.Database.Driver)
	return nil
}

func printUsage() {
	fmt.Println(`ApexCoding Schema Tool

Usage:
  apexcoding-migrate <command>

Commands:
  up          Create missing SQLite tables or MongoDB indexes
  status      Check the configured store is reachable
  version     Print version information
  help        Show this help message

Environment Variables:
  APEX_CONFIG              Path to the configuration file
  APEX_DATABASE_DRIVER     memory, sqlite or mongo
  APEX_DATABASE_PATH       SQLite database file
  APEX_DATABASE_MONGO_URI  MongoDB connection string
                           Example: mongodb://localhost:27017/?replicaSet=rs0

Examples:
  apexcoding-migrate up
  APEX_DATABASE_DRIVER=sqlite apexcoding-migrate status`)
}
