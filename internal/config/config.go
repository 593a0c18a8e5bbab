// Package config loads dafmap configuration from defaults, an optional
// YAML file and DAFMAP_* environment variables, with hot-reload support.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/dafmap/internal/align"
	"github.com/jackzampolin/dafmap/internal/assign"
	"github.com/jackzampolin/dafmap/internal/cuts"
	"github.com/jackzampolin/dafmap/internal/layout"
	"github.com/jackzampolin/dafmap/internal/ocr/tesseract"
	"github.com/jackzampolin/dafmap/internal/pipeline"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/script"
	"github.com/jackzampolin/dafmap/internal/sefaria"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("logging", defaults.Logging)
	viper.SetDefault("home", defaults.Home)
	viper.SetDefault("providers", defaults.Providers)
	viper.SetDefault("sefaria", defaults.Sefaria)
	viper.SetDefault("ocr", defaults.OCR)
	viper.SetDefault("layout", defaults.Layout)
	viper.SetDefault("assign", defaults.Assign)
	viper.SetDefault("align", defaults.Align)
	viper.SetDefault("cuts", defaults.Cuts)
	viper.SetDefault("split", defaults.Split)

	// Environment variables with DAFMAP_ prefix; nested keys map dots to
	// underscores, e.g. DAFMAP_SERVER_PORT sets server.port.
	viper.SetEnvPrefix("DAFMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.dafmap")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToRegistryConfig converts the config to a format suitable for
// providers.Registry. It resolves ${ENV_VAR} references in the API key.
func (c *Config) ToRegistryConfig() providers.RegistryConfig {
	oa := c.Providers.OpenAI
	return providers.RegistryConfig{
		APIKey:     ResolveEnvVars(oa.APIKey),
		BaseURL:    oa.BaseURL,
		Model:      oa.Model,
		EmbedModel: oa.EmbedModel,
		RateLimit:  oa.RequestsPerSecond,
		MaxRetries: oa.MaxRetries,
	}
}

// ToSefariaConfig converts the config for the Sefaria client.
func (c *Config) ToSefariaConfig() sefaria.Config {
	return sefaria.Config{
		BaseURL:  c.Sefaria.BaseURL,
		Prefixes: c.Sefaria.CommentaryPrefixes,
	}
}

// ToPipelineConfig converts the stage sections into the pipeline's
// per-stage settings.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Margin: layout.MarginConfig{
			TopBandFrac:   c.Layout.Margin.TopBandFrac,
			MarginXFrac:   c.Layout.Margin.MarginXFrac,
			MarginYFrac:   c.Layout.Margin.MarginYFrac,
			SmallAreaFrac: c.Layout.Margin.SmallAreaFrac,
		},
		Split: script.SplitConfig{
			CropPad:   c.Split.CropPad,
			Delimiter: c.Split.Delimiter,
		},
		Assign: assign.Config{
			PrefixSegments: c.Assign.PrefixSegments,
			PrefixLines:    c.Assign.PrefixLines,
			MinScore:       c.Assign.MinScore,
		},
		Align: align.Config{
			LexicalWindow:   c.Align.Lexical.Window,
			LexicalMinScore: c.Align.Lexical.MinScore,
			EmbedWindow:     c.Align.Embed.Window,
			EmbedMinScore:   c.Align.Embed.MinScore,
			ShareBoundaries: c.Align.ShareBoundaries,
		},
		Cuts: cuts.Config{
			WordMatchThreshold: c.Cuts.WordMatchThreshold,
			CropPad:            c.Cuts.CropPad,
		},
	}
}

// TesseractConfig returns the engine settings for the main script.
func (c *Config) TesseractConfig() tesseract.Config {
	return tesseract.Config{
		Language:       c.OCR.Language,
		TessdataPrefix: c.OCR.TessdataPrefix,
		DPI:            c.OCR.DPI,
	}
}

// RashiTesseractConfig returns the engine settings for the commentary
// script.
func (c *Config) RashiTesseractConfig() tesseract.Config {
	return tesseract.Config{
		Language:       c.OCR.RashiLanguage,
		TessdataPrefix: c.OCR.TessdataPrefix,
		DPI:            c.OCR.DPI,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# dafmap configuration
# Values use ${ENV_VAR} syntax to reference environment variables
# Set the vision/embedding key in your shell: export OPENAI_API_KEY=sk-...

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
