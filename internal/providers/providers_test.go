package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/dafmap/internal/page"
)

func TestNewOpenAIDefaults(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{APIKey: "test-key"})

	if p.Model() != "gpt-4o-mini" {
		t.Fatalf("default model = %q", p.Model())
	}
	if p.EmbedModel() != "text-embedding-3-small" {
		t.Fatalf("default embed model = %q", p.EmbedModel())
	}
	if p.MaxRetries() != 3 {
		t.Fatalf("default retries = %d", p.MaxRetries())
	}
	if p.RequestsPerSecond() != 2.0 {
		t.Fatalf("default rate limit = %f", p.RequestsPerSecond())
	}
	if p.RetryDelayBase() != time.Second {
		t.Fatalf("default retry delay = %v", p.RetryDelayBase())
	}
}

func TestDecodeScriptJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    page.Script
		wantErr bool
	}{
		{name: "rashi", content: `{"script": "rashi"}`, want: page.ScriptCommentary},
		{name: "hebrew", content: `{"script": "hebrew"}`, want: page.ScriptMain},
		{name: "fenced", content: "```json\n{\"script\": \"rashi\"}\n```", want: page.ScriptCommentary},
		{name: "embedded", content: `The block uses {"script": "rashi"} typeface.`, want: page.ScriptCommentary},
		{name: "plain word", content: "rashi", wantErr: true},
		{name: "bad enum", content: `{"script": "latin"}`, wantErr: true},
		{name: "extra field", content: `{"script": "rashi", "confidence": 1}`, wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeScriptJSON(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeScriptJSON: %v", err)
			}
			if got != tt.want {
				t.Fatalf("script = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenAIClassifyScript(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"{\"script\": \"rashi\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, RateLimit: 1000})

	script, err := p.ClassifyScript(context.Background(), []byte("png-bytes"))
	if err != nil {
		t.Fatalf("ClassifyScript: %v", err)
	}
	if script != page.ScriptCommentary {
		t.Fatalf("script = %q, want commentary", script)
	}

	if got, _ := payload["model"].(string); got != "gpt-4o-mini" {
		t.Fatalf("model = %q", got)
	}
	if got, _ := payload["max_tokens"].(float64); got != 16 {
		t.Fatalf("max_tokens = %v", payload["max_tokens"])
	}
	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", payload["messages"])
	}
	msg, _ := msgs[0].(map[string]any)
	parts, _ := msg["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected text + image parts, got %v", msg["content"])
	}
	text, _ := parts[0].(map[string]any)
	if got, _ := text["text"].(string); !strings.Contains(got, "Rashi script") {
		t.Fatalf("prompt = %q", got)
	}
	img, _ := parts[1].(map[string]any)
	imgURL, _ := img["image_url"].(map[string]any)
	if got, _ := imgURL["url"].(string); !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("image url = %q", got)
	}
}

func TestOpenAIClassifyScriptWordFallback(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    page.Script
	}{
		{name: "rashi prose", content: "This block is in Rashi script.", want: page.ScriptCommentary},
		{name: "hebrew prose", content: "Regular hebrew.", want: page.ScriptMain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				resp := map[string]any{
					"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
					"choices": []any{map[string]any{
						"index":         0,
						"message":       map[string]any{"role": "assistant", "content": tt.content},
						"finish_reason": "stop",
					}},
				}
				_ = json.NewEncoder(w).Encode(resp)
			}))
			defer server.Close()

			p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, RateLimit: 1000})
			script, err := p.ClassifyScript(context.Background(), []byte("png"))
			if err != nil {
				t.Fatalf("ClassifyScript: %v", err)
			}
			if script != tt.want {
				t.Fatalf("script = %q, want %q", script, tt.want)
			}
		})
	}
}

func TestOpenAIRecognizeLineRetries(t *testing.T) {
	var attempts atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"rate_limit_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"  שלום  "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		RateLimit:  1000,
		RetryDelay: time.Millisecond,
	})

	text, conf, err := p.RecognizeLine(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("RecognizeLine: %v", err)
	}
	if text != "שלום" {
		t.Fatalf("text = %q, want trimmed", text)
	}
	if conf != DefaultLineConfidence {
		t.Fatalf("conf = %f", conf)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestOpenAIRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		RateLimit:  1000,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	_, _, err := p.RecognizeLine(context.Background(), []byte("png"))
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	rle, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rle.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rle.StatusCode)
	}
	if rle.RetryAfter != 3*time.Second {
		t.Fatalf("retry after = %v", rle.RetryAfter)
	}
}

func TestOpenAIEmbed(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		// Data deliberately out of order; Index must drive placement.
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":1,"embedding":[0.5,0.5]},{"object":"embedding","index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, RateLimit: 1000})

	vecs, err := p.Embed(context.Background(), []string{"שלום", ""})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[0][1] != 0 {
		t.Fatalf("vecs[0] = %v, want [1 0]", vecs[0])
	}
	if vecs[1][0] != 0.5 {
		t.Fatalf("vecs[1] = %v, want [0.5 0.5]", vecs[1])
	}

	inputs, _ := payload["input"].([]any)
	if len(inputs) != 2 {
		t.Fatalf("input = %v", payload["input"])
	}
	if got, _ := inputs[1].(string); got != " " {
		t.Fatalf("empty input sent as %q, want single space", got)
	}
	if got, _ := payload["model"].(string); got != "text-embedding-3-small" {
		t.Fatalf("model = %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("consume to empty", func(t *testing.T) {
		rl := NewRateLimiter(10)
		for i := 0; i < 10; i++ {
			if !rl.TryConsume() {
				t.Fatalf("token %d unavailable", i)
			}
		}
		if rl.TryConsume() {
			t.Fatal("expected empty bucket")
		}
	})

	t.Run("wait respects context", func(t *testing.T) {
		rl := NewRateLimiter(0.5)
		if !rl.TryConsume() {
			t.Fatal("first token unavailable")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); err == nil {
			t.Fatal("expected context error")
		}
	})

	t.Run("record 429 drains", func(t *testing.T) {
		rl := NewRateLimiter(10)
		rl.Record429(time.Second)
		if rl.TryConsume() {
			t.Fatal("expected drained bucket")
		}
		if rl.Status().Last429Time.IsZero() {
			t.Fatal("expected 429 timestamp")
		}
	})

	t.Run("status", func(t *testing.T) {
		rl := NewRateLimiter(10)
		st := rl.Status()
		if st.TokensAvailable != 10 {
			t.Fatalf("tokens = %d", st.TokensAvailable)
		}
		if st.RequestsPerSecond != 10 {
			t.Fatalf("rps = %f", st.RequestsPerSecond)
		}
	})
}

func TestRegistryReload(t *testing.T) {
	reg := NewRegistryFromConfig(RegistryConfig{APIKey: "k1", Model: "gpt-4o-mini"})
	if reg.Classifier() == nil || reg.Recognizer() == nil || reg.Embedder() == nil {
		t.Fatal("expected providers after config with key")
	}
	first := reg.Classifier()

	// Unchanged config keeps the same instance.
	reg.Reload(RegistryConfig{APIKey: "k1", Model: "gpt-4o-mini"})
	if reg.Classifier() != first {
		t.Fatal("unchanged config must not recreate the provider")
	}

	// Changed settings recreate it.
	reg.Reload(RegistryConfig{APIKey: "k2", Model: "gpt-4o-mini"})
	if reg.Classifier() == first {
		t.Fatal("changed key must recreate the provider")
	}

	// Removing the key removes the providers.
	reg.Reload(RegistryConfig{})
	if reg.Classifier() != nil {
		t.Fatal("expected nil classifier after key removal")
	}
	if reg.Status().Provider != "" {
		t.Fatal("expected empty status after key removal")
	}
}

func TestRegistryStatus(t *testing.T) {
	reg := NewRegistryFromConfig(RegistryConfig{APIKey: "k", Model: "gpt-4o-mini", RateLimit: 5})
	st := reg.Status()
	if st.Provider != OpenAIName {
		t.Fatalf("provider = %q", st.Provider)
	}
	if st.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", st.Model)
	}
	if st.Limiter == nil || st.Limiter.RequestsPerSecond != 5 {
		t.Fatalf("limiter = %+v", st.Limiter)
	}
}

func TestRegistryMockOverride(t *testing.T) {
	reg := NewRegistry()
	mock := NewMockProvider()
	reg.SetClassifier(mock)
	reg.SetRecognizer(mock)
	reg.SetEmbedder(mock)

	if reg.Classifier() != ScriptClassifier(mock) {
		t.Fatal("classifier override lost")
	}
	if reg.Status().Provider != "" {
		t.Fatal("mock override must not report a configured provider")
	}
}

func TestRegistryDelegation(t *testing.T) {
	reg := NewRegistry()

	// Unconfigured calls fail instead of panicking.
	if _, err := reg.ClassifyScript(context.Background(), nil); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("ClassifyScript error = %v, want ErrNoProvider", err)
	}
	if _, _, err := reg.RecognizeLine(context.Background(), nil); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("RecognizeLine error = %v, want ErrNoProvider", err)
	}
	if _, err := reg.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("Embed error = %v, want ErrNoProvider", err)
	}
	if reg.Name() != "none" {
		t.Fatalf("Name() = %q, want none", reg.Name())
	}

	// Calls reach whatever is configured at call time.
	mock := NewMockProvider()
	mock.Script = page.ScriptCommentary
	reg.SetClassifier(mock)
	script, err := reg.ClassifyScript(context.Background(), nil)
	if err != nil {
		t.Fatalf("ClassifyScript: %v", err)
	}
	if script != page.ScriptCommentary {
		t.Fatalf("script = %q", script)
	}
}

func TestMockProvider(t *testing.T) {
	t.Run("classify defaults to main", func(t *testing.T) {
		m := NewMockProvider()
		script, err := m.ClassifyScript(context.Background(), []byte("crop"))
		if err != nil {
			t.Fatalf("ClassifyScript: %v", err)
		}
		if script != page.ScriptMain {
			t.Fatalf("script = %q", script)
		}
	})

	t.Run("script fn wins", func(t *testing.T) {
		m := NewMockProvider()
		m.Script = page.ScriptMain
		m.ScriptFn = func(crop []byte) page.Script { return page.ScriptCommentary }
		script, _ := m.ClassifyScript(context.Background(), nil)
		if script != page.ScriptCommentary {
			t.Fatalf("script = %q", script)
		}
	})

	t.Run("texts consumed in order", func(t *testing.T) {
		m := NewMockProvider()
		m.Texts = []string{"one", "two"}
		m.Text = "fallback"
		for _, want := range []string{"one", "two", "fallback"} {
			got, conf, err := m.RecognizeLine(context.Background(), nil)
			if err != nil {
				t.Fatalf("RecognizeLine: %v", err)
			}
			if got != want {
				t.Fatalf("text = %q, want %q", got, want)
			}
			if conf != DefaultLineConfidence {
				t.Fatalf("conf = %f", conf)
			}
		}
	})

	t.Run("embed is deterministic", func(t *testing.T) {
		m := NewMockProvider()
		vecs, err := m.Embed(context.Background(), []string{"alpha", "beta", "alpha"})
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if len(vecs[0]) != 8 {
			t.Fatalf("dim = %d", len(vecs[0]))
		}
		for i := range vecs[0] {
			if vecs[0][i] != vecs[2][i] {
				t.Fatal("equal texts must embed identically")
			}
		}
		same := true
		for i := range vecs[0] {
			if vecs[0][i] != vecs[1][i] {
				same = false
				break
			}
		}
		if same {
			t.Fatal("different texts must embed differently")
		}
	})

	t.Run("fail after", func(t *testing.T) {
		m := NewMockProvider()
		m.FailAfter = 2
		for i := 0; i < 2; i++ {
			if _, err := m.ClassifyScript(context.Background(), nil); err != nil {
				t.Fatalf("call %d: %v", i, err)
			}
		}
		if _, err := m.ClassifyScript(context.Background(), nil); err == nil {
			t.Fatal("expected failure after limit")
		}
		if m.RequestCount() != 3 {
			t.Fatalf("count = %d", m.RequestCount())
		}
		m.Reset()
		if m.RequestCount() != 0 {
			t.Fatal("reset did not clear the counter")
		}
	})
}
