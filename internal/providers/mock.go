package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/dafmap/internal/page"
)

const MockProviderName = "mock"

// MockProvider implements all three provider interfaces for testing.
type MockProvider struct {
	// Configurable behavior
	Latency    time.Duration
	ShouldFail bool
	FailAfter  int // Fail after N requests (0 = never)

	// Classification: ScriptFn wins, then Script, then main.
	Script   page.Script
	ScriptFn func(crop []byte) page.Script

	// Recognition: TextFn wins, then Texts consumed in call order, then Text.
	Text   string
	TextFn func(crop []byte) string
	Texts  []string

	// Embedding: EmbedFn wins, else a deterministic vector derived from
	// the text so equal strings embed identically.
	EmbedFn  func(text string) []float64
	EmbedDim int

	// State
	mu           sync.Mutex
	textCursor   int
	requestCount atomic.Int64
}

// NewMockProvider creates a new mock provider with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{EmbedDim: 8}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return MockProviderName
}

// ClassifyScript returns the configured script label.
func (m *MockProvider) ClassifyScript(ctx context.Context, crop []byte) (page.Script, error) {
	if err := m.step(ctx); err != nil {
		return "", err
	}
	if m.ScriptFn != nil {
		return m.ScriptFn(crop), nil
	}
	if m.Script.Valid() {
		return m.Script, nil
	}
	return page.ScriptMain, nil
}

// RecognizeLine returns the configured recognition text.
func (m *MockProvider) RecognizeLine(ctx context.Context, crop []byte) (string, float64, error) {
	if err := m.step(ctx); err != nil {
		return "", 0, err
	}
	if m.TextFn != nil {
		return m.TextFn(crop), DefaultLineConfidence, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.textCursor < len(m.Texts) {
		t := m.Texts[m.textCursor]
		m.textCursor++
		return t, DefaultLineConfidence, nil
	}
	return m.Text, DefaultLineConfidence, nil
}

// Embed returns one vector per input.
func (m *MockProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := m.step(ctx); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if m.EmbedFn != nil {
			out[i] = m.EmbedFn(t)
			continue
		}
		out[i] = hashVector(t, m.dim())
	}
	return out, nil
}

func (m *MockProvider) dim() int {
	if m.EmbedDim > 0 {
		return m.EmbedDim
	}
	return 8
}

func (m *MockProvider) step(ctx context.Context) error {
	count := m.requestCount.Add(1)

	if m.ShouldFail {
		return fmt.Errorf("mock provider configured to fail")
	}
	if m.FailAfter > 0 && int(count) > m.FailAfter {
		return fmt.Errorf("mock provider failed after %d requests", m.FailAfter)
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RequestCount returns the number of calls across all three interfaces.
func (m *MockProvider) RequestCount() int64 {
	return m.requestCount.Load()
}

// Reset clears the call counter and the recognition cursor.
func (m *MockProvider) Reset() {
	m.requestCount.Store(0)
	m.mu.Lock()
	m.textCursor = 0
	m.mu.Unlock()
}

// hashVector derives a stable pseudo-embedding from the text. Equal
// strings map to identical vectors, so cosine similarity is exactly 1 for
// matching texts.
func hashVector(text string, dim int) []float64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed)) / float64(math.MaxInt64)
	}
	return vec
}

// Verify interfaces
var (
	_ ScriptClassifier = (*MockProvider)(nil)
	_ LineRecognizer   = (*MockProvider)(nil)
	_ Embedder         = (*MockProvider)(nil)
)
