package pdf

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(Config{
		CacheDir:   t.TempDir(),
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func TestIsHTTPURL(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"http", "http://example.com/daf.pdf", true},
		{"https", "https://example.com/daf.pdf", true},
		{"ftp", "ftp://example.com/daf.pdf", false},
		{"local path", "/scans/daf.pdf", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHTTPURL(tt.source); got != tt.want {
				t.Errorf("IsHTTPURL(%q) = %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}

func TestNewRequiresCacheDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing cache dir")
	}
}

func TestEnsureLocalDownloads(t *testing.T) {
	body := []byte("%PDF-1.4 fake document")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	f := newTestFetcher(t)
	path, err := f.EnsureLocal(context.Background(), server.URL+"/daf.pdf", "sess1")
	if err != nil {
		t.Fatalf("EnsureLocal() error = %v", err)
	}
	if filepath.Base(path) != "sess1.pdf" {
		t.Errorf("cached file = %s, want sess1.pdf", filepath.Base(path))
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cached file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("cached bytes = %q, want %q", got, body)
	}
}

func TestEnsureLocalRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(t)
	path, err := f.EnsureLocal(context.Background(), server.URL+"/daf.pdf", "sess2")
	if err != nil {
		t.Fatalf("EnsureLocal() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "ok" {
		t.Errorf("cached bytes = %q, want ok", got)
	}
}

func TestEnsureLocalClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(t)
	if _, err := f.EnsureLocal(context.Background(), server.URL+"/daf.pdf", "sess3"); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestEnsureLocalPassesThroughLocalPath(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "daf.pdf")
	if err := os.WriteFile(local, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t)
	got, err := f.EnsureLocal(context.Background(), local, "sess4")
	if err != nil {
		t.Fatalf("EnsureLocal() error = %v", err)
	}
	if got != local {
		t.Errorf("EnsureLocal() = %s, want %s", got, local)
	}
}

func TestEnsureLocalMissingLocalPath(t *testing.T) {
	f := newTestFetcher(t)
	_, err := f.EnsureLocal(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), "sess5")
	if err == nil {
		t.Fatal("expected error for missing local path")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want path not found", err)
	}
}

func TestEnsureLocalKeepsImageExtension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png bytes"))
	}))
	defer server.Close()

	f := newTestFetcher(t)
	path, err := f.EnsureLocal(context.Background(), server.URL+"/scan.png", "sess6")
	if err != nil {
		t.Fatalf("EnsureLocal() error = %v", err)
	}
	if filepath.Base(path) != "sess6.png" {
		t.Errorf("cached file = %s, want sess6.png", filepath.Base(path))
	}
}

func writeTestPNG(t *testing.T, path string, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRenderPageDirectImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daf.png")
	data := writeTestPNG(t, path, 32, 48)

	f := newTestFetcher(t)
	page, err := f.RenderPage(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	if !bytes.Equal(page.Data, data) {
		t.Error("page bytes differ from source image")
	}
	if page.W != 32 || page.H != 48 {
		t.Errorf("page dims = %dx%d, want 32x48", page.W, page.H)
	}
}

func TestRenderPageDirectImageRejectsNonzeroIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daf.png")
	writeTestPNG(t, path, 16, 16)

	f := newTestFetcher(t)
	if _, err := f.RenderPage(context.Background(), path, 1); err == nil {
		t.Fatal("expected error for page index 1 on a single image")
	}
}

func TestRenderPageRejectsNegativeIndex(t *testing.T) {
	f := newTestFetcher(t)
	if _, err := f.RenderPage(context.Background(), "daf.pdf", -1); err == nil {
		t.Fatal("expected error for negative page index")
	}
}

func TestRenderPageInvalidPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t)
	if _, err := f.RenderPage(context.Background(), path, 0); err == nil {
		t.Fatal("expected error for unparseable document")
	}
}

func TestPageCountDirectImage(t *testing.T) {
	f := newTestFetcher(t)
	n, err := f.PageCount("scan.jpeg")
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PageCount() = %d, want 1", n)
	}
}
