package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/config"
	"github.com/jackzampolin/dafmap/internal/home"
	"github.com/jackzampolin/dafmap/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dafmap server",
	Long: `Start the dafmap HTTP server.

The server runs annotation sessions in the background and persists
session state and finalized page documents under the dafmap home
directory. On first run a commented default config file is written
to ~/.dafmap/config.yaml.

The server provides:
  - /health        - Basic server health check
  - /status        - Store, session and provider status
  - /api/sessions  - Annotation session management
  - /api/pages     - Finalized page documents

Examples:
  dafmap serve                    # Start on default port 8080
  dafmap serve --port 3000        # Start on custom port
  dafmap serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Write a commented default config on first run
		path := cfgFile
		if path == "" {
			if !h.ConfigExists() {
				if err := config.WriteDefault(h.ConfigPath()); err != nil {
					return fmt.Errorf("failed to write default config: %w", err)
				}
				fmt.Printf("Wrote default config to %s\n", h.ConfigPath())
			}
			path = h.ConfigPath()
		}

		mgr, err := config.NewManager(path)
		if err != nil {
			return err
		}
		mgr.WatchConfig()

		cfg := mgr.Get()
		logger := buildLogger(cfg)

		// Flags override the config file when set explicitly
		host := cfg.Server.Host
		port := cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			ConfigManager: mgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// buildLogger constructs the process logger from the logging section.
func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
