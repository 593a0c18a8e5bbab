package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/dafmap/internal/page"
)

const (
	OpenAIName = "openai"

	openAIDefaultModel      = "gpt-4o-mini"
	openAIDefaultEmbedModel = string(openai.EmbeddingModelTextEmbedding3Small)
	openAIDefaultBatchSize  = 100

	// DefaultLineConfidence is reported for vision line reads; the API
	// returns no usable per-line confidence.
	DefaultLineConfidence = 0.95

	recognizePrompt = "Extract the Hebrew (or Aramaic) text from this image of a single line. " +
		"Return only the raw text, no explanation or punctuation changes."

	classifyPrompt = "Does this image show a block of text in regular Hebrew font or in Rashi script? " +
		`Reply with a single JSON object, {"script": "hebrew"} or {"script": "rashi"}, and nothing else.`
)

// OpenAIConfig holds configuration for the OpenAI-backed providers.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // vision model for classification and line reads
	EmbedModel string        // embedding model
	BatchSize  int           // embedding batch size
	RateLimit  float64       // requests per second
	MaxRetries int           // attempts per call, including the first
	RetryDelay time.Duration // base backoff delay
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAI implements ScriptClassifier, LineRecognizer and Embedder using the
// official OpenAI SDK.
type OpenAI struct {
	apiKey     string
	model      string
	embedModel string
	batchSize  int
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	limiter    *RateLimiter
	client     openai.Client
}

// NewOpenAI creates a new OpenAI provider, filling config defaults.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = openAIDefaultEmbedModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = openAIDefaultBatchSize
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Backoff lives in this package; the SDK must not retry on its own.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		batchSize:  cfg.BatchSize,
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		limiter:    NewRateLimiter(cfg.RateLimit),
		client:     openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *OpenAI) Name() string {
	return OpenAIName
}

// Model returns the configured vision model.
func (p *OpenAI) Model() string {
	return p.model
}

// EmbedModel returns the configured embedding model.
func (p *OpenAI) EmbedModel() string {
	return p.embedModel
}

// RequestsPerSecond returns the configured rate limit.
func (p *OpenAI) RequestsPerSecond() float64 {
	return p.rateLimit
}

// MaxRetries returns the attempts per call.
func (p *OpenAI) MaxRetries() int {
	return p.maxRetries
}

// RetryDelayBase returns the base delay for exponential backoff.
func (p *OpenAI) RetryDelayBase() time.Duration {
	return p.retryDelay
}

// LimiterStatus reports the token bucket state.
func (p *OpenAI) LimiterStatus() RateLimiterStatus {
	return p.limiter.Status()
}

// ClassifyScript asks the vision model for the typeface of a block crop.
// The reply is requested as structured JSON and validated; replies that
// ignore the instruction fall back to plain-word matching.
func (p *OpenAI) ClassifyScript(ctx context.Context, crop []byte) (page.Script, error) {
	content, err := p.visionChat(ctx, classifyPrompt, crop, 16)
	if err != nil {
		return "", err
	}
	if script, err := decodeScriptJSON(content); err == nil {
		return script, nil
	}
	if strings.Contains(strings.ToLower(content), "rashi") {
		return page.ScriptCommentary, nil
	}
	return page.ScriptMain, nil
}

// RecognizeLine reads the text of a single line crop.
func (p *OpenAI) RecognizeLine(ctx context.Context, crop []byte) (string, float64, error) {
	content, err := p.visionChat(ctx, recognizePrompt, crop, 300)
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(content), DefaultLineConfidence, nil
}

// Embed returns one vector per input string, issuing batched requests.
// Empty inputs are sent as a single space so the batch stays aligned.
func (p *OpenAI) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			if strings.TrimSpace(t) == "" {
				t = " "
			}
			batch[i] = t
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		err := p.retry(ctx, func() error {
			resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
				Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
				Model: openai.EmbeddingModel(p.embedModel),
			})
			if err != nil {
				return p.mapErr(err)
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(resp.Data), len(batch))
			}
			for _, d := range resp.Data {
				out[start+int(d.Index)] = d.Embedding
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("embeddings batch at %d: %w", start, err)
		}
	}
	return out, nil
}

func (p *OpenAI) visionChat(ctx context.Context, prompt string, crop []byte, maxTokens int64) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(crop)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxTokens: openai.Int(maxTokens),
	}

	var content string
	err := p.retry(ctx, func() error {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return p.mapErr(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (p *OpenAI) retry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(p.maxRetries)),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(8*time.Second),
		retry.LastErrorOnly(true),
	)
}

func (p *OpenAI) mapErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			p.limiter.Record429(retryAfter)
			return &RateLimitError{
				Message:    fmt.Sprintf("openai rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("openai error (status %d)", apiErr.StatusCode)
	}
	return err
}

var (
	_ ScriptClassifier = (*OpenAI)(nil)
	_ LineRecognizer   = (*OpenAI)(nil)
	_ Embedder         = (*OpenAI)(nil)
)
