// Package pdf turns a page source (a remote or local PDF, or a direct
// page image) into the page scan bytes the pipeline works on.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

var httpURL = regexp.MustCompile(`^https?://`)

// IsHTTPURL reports whether the source names a remote document.
func IsHTTPURL(s string) bool {
	return httpURL.MatchString(s)
}

// Config holds PDF fetcher settings.
type Config struct {
	// CacheDir receives downloaded documents and extraction scratch space.
	CacheDir string

	// Timeout bounds one download attempt. Defaults to 60s.
	Timeout time.Duration

	// MaxRetries bounds download attempts for transient failures.
	// Defaults to 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Defaults to 1s.
	RetryDelay time.Duration

	// Optional (tests).
	HTTPClient *http.Client
}

// Fetcher resolves page sources to local files and extracts page scans.
type Fetcher struct {
	cacheDir   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a Fetcher, creating the cache directory if needed.
func New(cfg Config) (*Fetcher, error) {
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("pdf cache dir is required")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pdf cache dir: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		cacheDir:   cfg.CacheDir,
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// EnsureLocal resolves the source to a local file path: remote documents
// are downloaded into the cache keyed by session id, local paths must
// already exist. A missing local path is an input error, not retried.
func (f *Fetcher) EnsureLocal(ctx context.Context, source, sessionID string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("pdf source is required")
	}
	if IsHTTPURL(source) {
		dest := filepath.Join(f.cacheDir, sessionID+sourceExt(source))
		if err := f.download(ctx, source, dest); err != nil {
			return "", err
		}
		return dest, nil
	}
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("pdf path not found: %s", source)
	}
	return source, nil
}

// PageCount returns the number of pages in the document. Direct page
// images count as one page.
func (f *Fetcher) PageCount(path string) (int, error) {
	if isImagePath(path) {
		return 1, nil
	}
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count of %s: %w", path, err)
	}
	return n, nil
}

// PageImage is one extracted page scan.
type PageImage struct {
	Data []byte
	W    int
	H    int
}

// RenderPage produces the scan of the zero-based page index. For a PDF
// the page's largest embedded image is taken: scanned documents embed
// the full-page scan as a single image. Direct page images are read
// as-is and only support index 0.
func (f *Fetcher) RenderPage(ctx context.Context, path string, pageIndex int) (*PageImage, error) {
	if pageIndex < 0 {
		return nil, fmt.Errorf("page index %d out of range", pageIndex)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isImagePath(path) {
		if pageIndex != 0 {
			return nil, fmt.Errorf("page index %d out of range for single page image", pageIndex)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read page image: %w", err)
		}
		return decodePageImage(data)
	}

	count, err := f.PageCount(path)
	if err != nil {
		return nil, err
	}
	if pageIndex >= count {
		return nil, fmt.Errorf("page index %d out of range, document has %d pages", pageIndex, count)
	}

	outDir, err := os.MkdirTemp(f.cacheDir, "page-")
	if err != nil {
		return nil, fmt.Errorf("extraction scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pages := []string{strconv.Itoa(pageIndex + 1)}
	if err := pdfapi.ExtractImagesFile(path, outDir, pages, nil); err != nil {
		return nil, fmt.Errorf("extract page %d of %s: %w", pageIndex, path, err)
	}

	data, err := largestFile(outDir)
	if err != nil {
		return nil, fmt.Errorf("page %d of %s: %w", pageIndex, path, err)
	}
	return decodePageImage(data)
}

func (f *Fetcher) download(ctx context.Context, src, dest string) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("fetch pdf: %w", err))
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch pdf: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("fetch pdf %s: status %d", src, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("fetch pdf %s: status %d", src, resp.StatusCode))
			}

			tmp := dest + ".tmp"
			out, err := os.Create(tmp)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("write pdf: %w", err))
			}
			if _, err := io.Copy(out, resp.Body); err != nil {
				out.Close()
				os.Remove(tmp)
				return fmt.Errorf("write pdf: %w", err)
			}
			if err := out.Close(); err != nil {
				os.Remove(tmp)
				return fmt.Errorf("write pdf: %w", err)
			}
			return os.Rename(tmp, dest)
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.maxRetries)),
		retry.Delay(f.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(8*time.Second),
		retry.LastErrorOnly(true),
	)
}

func decodePageImage(data []byte) (*PageImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	return &PageImage{Data: data, W: cfg.Width, H: cfg.Height}, nil
}

// largestFile reads the biggest file in dir. Scanned pages embed exactly
// one image; when a page carries decorations too, the scan dominates.
func largestFile(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	best := ""
	var bestSize int64 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestSize = info.Size()
			best = filepath.Join(dir, e.Name())
		}
	}
	if best == "" {
		return nil, fmt.Errorf("no embedded page image")
	}
	return os.ReadFile(best)
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// sourceExt picks the cached file's extension from the URL path.
func sourceExt(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ".pdf"
	}
	if isImagePath(u.Path) {
		return strings.ToLower(filepath.Ext(u.Path))
	}
	return ".pdf"
}
