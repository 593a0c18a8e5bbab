package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running dafmap server via HTTP.

These commands require a running server (dafmap serve).
Use --server to specify a custom server URL.

Examples:
  dafmap api health                   # Check server health
  dafmap api sessions list            # List annotation sessions
  dafmap api sessions get <id>        # Inspect one session
  dafmap api pages get "Shabbat 2a"   # Fetch a finalized page document`,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Annotation session commands",
}

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "Page document commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health and settings endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SettingsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	// Sessions as subcommand group
	for _, ep := range endpoints.SessionCommands() {
		sessionsCmd.AddCommand(ep.Command(getServerURL))
	}

	// Pages as subcommand group
	for _, ep := range endpoints.PageCommands() {
		pagesCmd.AddCommand(ep.Command(getServerURL))
	}

	apiCmd.AddCommand(sessionsCmd)
	apiCmd.AddCommand(pagesCmd)
	rootCmd.AddCommand(apiCmd)
}
