package providers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/dafmap/internal/page"
)

// ErrNoProvider is returned when a model call is made and no provider
// is configured.
var ErrNoProvider = errors.New("no model provider configured")

// Registry holds the model providers behind the three pipeline-facing
// interfaces. It supports config-driven instantiation, hot-reload, and
// thread-safe access. Reload owns all three slots; tests inject mocks
// through the setters instead.
type Registry struct {
	mu         sync.RWMutex
	classifier ScriptClassifier
	recognizer LineRecognizer
	embedder   Embedder
	openai     *OpenAI
	openaiCfg  OpenAIConfig
	logger     *slog.Logger
}

// RegistryConfig carries resolved provider settings; environment
// references must already be expanded.
type RegistryConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	RateLimit  float64
	MaxRetries int
	Timeout    time.Duration
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// NewRegistryFromConfig creates a registry and instantiates the OpenAI
// provider when an API key is configured.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.APIKey != "" {
		r.applyLocked(cfg)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Reload updates the registry from new configuration. The provider is
// recreated only when its settings changed; an emptied API key removes it.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.APIKey == "" {
		if r.openai != nil {
			r.openai = nil
			r.classifier = nil
			r.recognizer = nil
			r.embedder = nil
			if r.logger != nil {
				r.logger.Info("unregistered provider", "name", OpenAIName)
			}
		}
		return
	}

	if r.openai != nil && !needsOpenAIUpdate(r.openaiCfg, cfg) {
		return
	}
	hadExisting := r.openai != nil
	r.applyLocked(cfg)
	if r.logger != nil {
		if hadExisting {
			r.logger.Info("updated provider", "name", OpenAIName, "model", cfg.Model)
		} else {
			r.logger.Info("registered provider", "name", OpenAIName, "model", cfg.Model)
		}
	}
}

// applyLocked creates the provider and fills all three slots. Must be
// called with the lock held.
func (r *Registry) applyLocked(cfg RegistryConfig) {
	oc := OpenAIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		EmbedModel: cfg.EmbedModel,
		RateLimit:  cfg.RateLimit,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
	}
	p := NewOpenAI(oc)
	r.openai = p
	r.openaiCfg = oc
	r.classifier = p
	r.recognizer = p
	r.embedder = p
}

// needsOpenAIUpdate checks if the provider needs to be recreated.
func needsOpenAIUpdate(old OpenAIConfig, cfg RegistryConfig) bool {
	return old.APIKey != cfg.APIKey ||
		old.BaseURL != cfg.BaseURL ||
		old.Model != cfg.Model ||
		old.EmbedModel != cfg.EmbedModel ||
		old.RateLimit != cfg.RateLimit ||
		old.MaxRetries != cfg.MaxRetries ||
		old.Timeout != cfg.Timeout
}

// Classifier returns the script classifier, or nil when none is configured.
func (r *Registry) Classifier() ScriptClassifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classifier
}

// Recognizer returns the line recognizer, or nil when none is configured.
func (r *Registry) Recognizer() LineRecognizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognizer
}

// Embedder returns the embedder, or nil when none is configured.
func (r *Registry) Embedder() Embedder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder
}

// SetClassifier overrides the script classifier.
func (r *Registry) SetClassifier(c ScriptClassifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier = c
}

// SetRecognizer overrides the line recognizer.
func (r *Registry) SetRecognizer(c LineRecognizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer = c
}

// SetEmbedder overrides the embedder.
func (r *Registry) SetEmbedder(e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder = e
}

// The registry itself satisfies the three pipeline-facing interfaces by
// delegating to the current slot on every call, so a config reload takes
// effect without rebuilding the pipeline. Calls without a configured
// provider fail with ErrNoProvider.

// ClassifyScript implements ScriptClassifier.
func (r *Registry) ClassifyScript(ctx context.Context, crop []byte) (page.Script, error) {
	c := r.Classifier()
	if c == nil {
		return "", ErrNoProvider
	}
	return c.ClassifyScript(ctx, crop)
}

// RecognizeLine implements LineRecognizer.
func (r *Registry) RecognizeLine(ctx context.Context, crop []byte) (string, float64, error) {
	rec := r.Recognizer()
	if rec == nil {
		return "", 0, ErrNoProvider
	}
	return rec.RecognizeLine(ctx, crop)
}

// Embed implements Embedder.
func (r *Registry) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e := r.Embedder()
	if e == nil {
		return nil, ErrNoProvider
	}
	return e.Embed(ctx, texts)
}

// Name returns the configured provider's identifier, or "none".
func (r *Registry) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.openai == nil {
		return "none"
	}
	return r.openai.Name()
}

// RegistryStatus reports the configured provider for the status endpoint.
type RegistryStatus struct {
	Provider   string             `json:"provider,omitempty"`
	Model      string             `json:"model,omitempty"`
	EmbedModel string             `json:"embed_model,omitempty"`
	Limiter    *RateLimiterStatus `json:"limiter,omitempty"`
}

// Status returns the configured provider and its limiter state.
func (r *Registry) Status() RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.openai == nil {
		return RegistryStatus{}
	}
	ls := r.openai.LimiterStatus()
	return RegistryStatus{
		Provider:   OpenAIName,
		Model:      r.openai.Model(),
		EmbedModel: r.openai.EmbedModel(),
		Limiter:    &ls,
	}
}
