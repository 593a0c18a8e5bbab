package ocr

import (
	"context"
	"fmt"
	"sync"
)

// MockEngine is an Engine for testing with scripted responses.
type MockEngine struct {
	// LayoutRegions is returned by every Layout call.
	LayoutRegions []Region

	// WordsFn computes word regions per crop when set; otherwise WordsSeq
	// is consumed one entry per call (empty result once exhausted).
	WordsFn  func(crop []byte) []Region
	WordsSeq [][]Region

	// TextFn computes crop text when set; otherwise Texts is consumed one
	// entry per call (empty string once exhausted).
	TextFn func(crop []byte) string
	Texts  []string

	FailLayout bool
	FailWords  bool
	FailText   bool

	mu          sync.Mutex
	layoutCalls int
	wordsCalls  int
	textCalls   int
}

func (m *MockEngine) Layout(ctx context.Context, img []byte) ([]Region, error) {
	m.mu.Lock()
	m.layoutCalls++
	m.mu.Unlock()
	if m.FailLayout {
		return nil, fmt.Errorf("mock layout configured to fail")
	}
	return m.LayoutRegions, nil
}

func (m *MockEngine) Words(ctx context.Context, img []byte) ([]Region, error) {
	m.mu.Lock()
	call := m.wordsCalls
	m.wordsCalls++
	m.mu.Unlock()
	if m.FailWords {
		return nil, fmt.Errorf("mock words configured to fail")
	}
	if m.WordsFn != nil {
		return m.WordsFn(img), nil
	}
	if call < len(m.WordsSeq) {
		return m.WordsSeq[call], nil
	}
	return nil, nil
}

func (m *MockEngine) Text(ctx context.Context, img []byte) (string, error) {
	m.mu.Lock()
	call := m.textCalls
	m.textCalls++
	m.mu.Unlock()
	if m.FailText {
		return "", fmt.Errorf("mock text configured to fail")
	}
	if m.TextFn != nil {
		return m.TextFn(img), nil
	}
	if call < len(m.Texts) {
		return m.Texts[call], nil
	}
	return "", nil
}

// LayoutCalls returns how many Layout calls were made.
func (m *MockEngine) LayoutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layoutCalls
}

// WordsCalls returns how many Words calls were made.
func (m *MockEngine) WordsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wordsCalls
}

// TextCalls returns how many Text calls were made.
func (m *MockEngine) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls
}

var _ Engine = (*MockEngine)(nil)
