package endpoints

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/config"
	"github.com/jackzampolin/dafmap/internal/svcctx"
)

// SettingsEndpoint handles GET /api/settings.
type SettingsEndpoint struct{}

func (e *SettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *SettingsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Get server settings
//	@Description	Returns the effective configuration with secrets redacted
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	config.Config
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/settings [get]
func (e *SettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config manager not initialized")
		return
	}

	cfg := cm.Get()
	redacted := *cfg
	redacted.Providers.OpenAI.APIKey = redactSecret(cfg.Providers.OpenAI.APIKey)

	writeJSON(w, http.StatusOK, redacted)
}

// redactSecret hides literal secret values while keeping ${ENV_VAR}
// placeholders visible, since those only name where the value comes from.
func redactSecret(v string) string {
	if v == "" || strings.HasPrefix(v, "${") {
		return v
	}
	return "[redacted]"
}

func (e *SettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the server's effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp config.Config
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
