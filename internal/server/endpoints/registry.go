package endpoints

import (
	"github.com/jackzampolin/dafmap/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Session endpoints
		&StartSessionEndpoint{},
		&ListSessionsEndpoint{},
		&GetSessionEndpoint{},
		&ApplyFixesEndpoint{},
		&FinalizeSessionEndpoint{},

		// Page endpoints
		&GetPageEndpoint{},

		// Settings endpoint
		&SettingsEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}

// SessionCommands returns the endpoints grouped under the "sessions"
// CLI subcommand.
func SessionCommands() []api.Endpoint {
	return []api.Endpoint{
		&StartSessionEndpoint{},
		&ListSessionsEndpoint{},
		&GetSessionEndpoint{},
		&ApplyFixesEndpoint{},
		&FinalizeSessionEndpoint{},
	}
}

// PageCommands returns the endpoints grouped under the "pages" CLI
// subcommand.
func PageCommands() []api.Endpoint {
	return []api.Endpoint{
		&GetPageEndpoint{},
	}
}
