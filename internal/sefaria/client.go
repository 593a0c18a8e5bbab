// Package sefaria fetches canonical text streams from the Sefaria API: the
// main text of a reference range plus its commentaries.
package sefaria

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/jackzampolin/dafmap/internal/page"
)

const DefaultBaseURL = "https://www.sefaria.org"

// DefaultCommentaryPrefixes selects which commentaries become streams.
var DefaultCommentaryPrefixes = []string{"Rashi on", "Tosafot on"}

// Config holds configuration for the Sefaria client.
type Config struct {
	BaseURL    string
	Prefixes   []string // commentary title prefixes
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// Client talks to the Sefaria texts API.
type Client struct {
	baseURL    string
	prefixes   []string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

// New creates a new Sefaria client, filling config defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = DefaultCommentaryPrefixes
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		prefixes:   append([]string(nil), cfg.Prefixes...),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: httpClient,
	}
}

// Prefixes returns the configured commentary title prefixes.
func (c *Client) Prefixes() []string {
	return append([]string(nil), c.prefixes...)
}

// FetchStreams returns the canonical streams for the reference range. The
// first stream is the main text; the rest are commentaries whose titles
// match the configured prefixes, in API order. Stream ids are s0..sN.
// Segment refs fall back to synthetic "{ref}#segN" refs when the API does
// not return one ref per segment.
func (c *Client) FetchStreams(ctx context.Context, refRange string) ([]*page.Stream, error) {
	refRange = strings.TrimSpace(refRange)
	if refRange == "" {
		return nil, fmt.Errorf("ref range is required")
	}

	payload, err := c.fetchText(ctx, refRange)
	if err != nil {
		return nil, err
	}

	title := payload.Title
	if title == "" {
		title = "Base"
	}
	segs := flattenSegments(payload.He)
	refs := payload.Refs
	if len(refs) != len(segs) {
		refs = fallbackSegRefs(refRange, len(segs))
	}

	streams := []*page.Stream{{
		ID:       "s0",
		Title:    title,
		Lang:     "he",
		SegRefs:  refs,
		SegTexts: segs,
	}}

	comm := payload.Commentary
	if len(comm) == 0 {
		comm = payload.Commentaries
	}
	for _, cm := range comm {
		title := cm.displayTitle()
		if !hasAnyPrefix(title, c.prefixes) {
			continue
		}
		segs := flattenSegments(cm.He)
		if len(segs) == 0 {
			continue
		}
		refs := cm.Refs
		if len(refs) != len(segs) {
			refs = fallbackSegRefs(title+":"+refRange, len(segs))
		}
		streams = append(streams, &page.Stream{
			ID:       fmt.Sprintf("s%d", len(streams)),
			Title:    title,
			Lang:     "he",
			SegRefs:  refs,
			SegTexts: segs,
		})
	}

	return streams, nil
}

func (c *Client) fetchText(ctx context.Context, refRange string) (*textResponse, error) {
	u := fmt.Sprintf("%s/api/texts/%s?commentary=1&context=0", c.baseURL, url.PathEscape(refRange))

	var payload textResponse
	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("sefaria returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Unrecoverable(fmt.Errorf("sefaria returned status %d: %s", resp.StatusCode, truncateBody(body)))
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to decode sefaria response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(8*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch text for %q: %w", refRange, err)
	}
	return &payload, nil
}

// flattenSegments normalizes the "he" payload, which may be a bare string,
// a list of strings, or a list with one level of nested string lists.
// Blank segments are dropped from list forms.
func flattenSegments(he any) []string {
	switch v := he.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, x := range v {
			switch item := x.(type) {
			case string:
				out = append(out, item)
			case []any:
				for _, y := range item {
					if s, ok := y.(string); ok {
						out = append(out, s)
					}
				}
			}
		}
		kept := out[:0]
		for _, s := range out {
			if strings.TrimSpace(s) != "" {
				kept = append(kept, s)
			}
		}
		return kept
	}
	return nil
}

func fallbackSegRefs(refRange string, n int) []string {
	refs := make([]string, n)
	for i := range refs {
		refs[i] = fmt.Sprintf("%s#seg%d", refRange, i+1)
	}
	return refs
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func truncateBody(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// textResponse is the subset of the Sefaria texts payload this client
// consumes.
type textResponse struct {
	Title        string       `json:"title"`
	He           any          `json:"he"`
	Refs         []string     `json:"refs"`
	Commentary   []commentary `json:"commentary"`
	Commentaries []commentary `json:"commentaries"`
}

type commentary struct {
	Title           string          `json:"title"`
	CollectiveTitle json.RawMessage `json:"collectiveTitle"`
	He              any             `json:"he"`
	Refs            []string        `json:"refs"`
}

// displayTitle resolves the commentary title; collectiveTitle may be a bare
// string or a {en, he} object depending on the endpoint version.
func (c *commentary) displayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	if len(c.CollectiveTitle) > 0 {
		var s string
		if err := json.Unmarshal(c.CollectiveTitle, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			En string `json:"en"`
		}
		if err := json.Unmarshal(c.CollectiveTitle, &obj); err == nil && obj.En != "" {
			return obj.En
		}
	}
	return "Commentary"
}
