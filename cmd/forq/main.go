package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rvallejo/forq/internal/cmd/client"
	serverrun "github.com/rvallejo/forq/internal/cmd/server"
	cfgpkg "github.com/rvallejo/forq/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forq",
		Short: "forq job queue CLI",
		Long:  "forq is a durable background job queue. This CLI manages the server and talks to its HTTP API.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the forq server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}

			// Flags override file and environment when set explicitly.
			if cmd.Flags().Changed("http") {
				cfg.Server.HTTPAddr, _ = cmd.Flags().GetString("http")
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Storage.DataDir, _ = cmd.Flags().GetString("data-dir")
			}
			if cmd.Flags().Changed("backend") {
				cfg.Storage.Backend, _ = cmd.Flags().GetString("backend")
			}
			if cmd.Flags().Changed("redis-addr") {
				cfg.Redis.Addr, _ = cmd.Flags().GetString("redis-addr")
			}
			if cmd.Flags().Changed("fsync") {
				cfg.Storage.Fsync, _ = cmd.Flags().GetString("fsync")
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format, _ = cmd.Flags().GetString("log-format")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Path to a JSON config file")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (defaults to the OS application data directory)")
	serverStartCmd.Flags().String("backend", "pebble", "Broker backend: pebble|redis")
	serverStartCmd.Flags().String("redis-addr", "", "Redis address for the redis backend")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// client commands against a running server
	rootCmd.AddCommand(clientcmd.NewQueueCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("FORQ_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
