package sefaria

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const textsPayload = `{
	"title": "Shabbat",
	"he": ["seg one", "seg two", ["nested three", "   "], ""],
	"refs": ["Shabbat 2a:1", "Shabbat 2a:2", "Shabbat 2a:3"],
	"commentary": [
		{"title": "Rashi on Shabbat", "he": ["rashi one", "rashi two"]},
		{"title": "Ramban on Shabbat", "he": ["ramban one"]},
		{"collectiveTitle": {"en": "Tosafot on Shabbat", "he": "תוספות"}, "he": ["tosafot one"], "refs": ["Tosafot on Shabbat 2a:1:1"]},
		{"title": "Rashi on Something", "he": []}
	]
}`

func TestFetchStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/texts/Shabbat 2a" {
			t.Fatalf("unexpected path: %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("commentary") != "1" || q.Get("context") != "0" {
			t.Fatalf("unexpected query: %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(textsPayload))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	streams, err := client.FetchStreams(context.Background(), "Shabbat 2a")
	if err != nil {
		t.Fatalf("FetchStreams: %v", err)
	}

	// Main stream plus Rashi and Tosafot; Ramban filtered by prefix, the
	// empty Rashi entry skipped.
	if len(streams) != 3 {
		t.Fatalf("got %d streams, want 3", len(streams))
	}

	main := streams[0]
	if main.ID != "s0" || main.Title != "Shabbat" || main.Lang != "he" {
		t.Fatalf("main stream = %+v", main)
	}
	if got, want := main.SegTexts, []string{"seg one", "seg two", "nested three"}; !equalStrings(got, want) {
		t.Fatalf("main segments = %v, want %v", got, want)
	}
	if got, want := main.SegRefs, []string{"Shabbat 2a:1", "Shabbat 2a:2", "Shabbat 2a:3"}; !equalStrings(got, want) {
		t.Fatalf("main refs = %v, want %v", got, want)
	}

	rashi := streams[1]
	if rashi.ID != "s1" || rashi.Title != "Rashi on Shabbat" {
		t.Fatalf("rashi stream = %+v", rashi)
	}
	// No refs in the payload: synthetic title-prefixed refs.
	wantRefs := []string{"Rashi on Shabbat:Shabbat 2a#seg1", "Rashi on Shabbat:Shabbat 2a#seg2"}
	if !equalStrings(rashi.SegRefs, wantRefs) {
		t.Fatalf("rashi refs = %v, want %v", rashi.SegRefs, wantRefs)
	}

	tosafot := streams[2]
	if tosafot.ID != "s2" || tosafot.Title != "Tosafot on Shabbat" {
		t.Fatalf("tosafot stream = %+v", tosafot)
	}
	if got, want := tosafot.SegRefs, []string{"Tosafot on Shabbat 2a:1:1"}; !equalStrings(got, want) {
		t.Fatalf("tosafot refs = %v, want %v", got, want)
	}
}

func TestFetchStreamsFallbackRefs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// refs length does not match segment count.
		_, _ = w.Write([]byte(`{"title": "Shabbat", "he": ["a", "b"], "refs": ["only one"]}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	streams, err := client.FetchStreams(context.Background(), "Shabbat 2a")
	if err != nil {
		t.Fatalf("FetchStreams: %v", err)
	}
	want := []string{"Shabbat 2a#seg1", "Shabbat 2a#seg2"}
	if !equalStrings(streams[0].SegRefs, want) {
		t.Fatalf("refs = %v, want %v", streams[0].SegRefs, want)
	}
}

func TestFetchStreamsCommentariesKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title": "Shabbat", "he": "one segment", "commentaries": [{"title": "Rashi on Shabbat", "he": ["c"]}]}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	streams, err := client.FetchStreams(context.Background(), "Shabbat 2a")
	if err != nil {
		t.Fatalf("FetchStreams: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
	if streams[1].Title != "Rashi on Shabbat" {
		t.Fatalf("commentary title = %q", streams[1].Title)
	}
}

func TestFetchStreamsRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title": "Shabbat", "he": ["a"]}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, RetryDelay: time.Millisecond})
	streams, err := client.FetchStreams(context.Background(), "Shabbat 2a")
	if err != nil {
		t.Fatalf("FetchStreams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams", len(streams))
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestFetchStreamsClientErrorNoRetry(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "no such ref"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, RetryDelay: time.Millisecond})
	_, err := client.FetchStreams(context.Background(), "Nonexistent 1a")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on 4xx)", attempts.Load())
	}
}

func TestFetchStreamsEmptyRef(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := client.FetchStreams(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty ref range")
	}
}

func TestNewDefaults(t *testing.T) {
	client := New(Config{})
	if client.baseURL != DefaultBaseURL {
		t.Fatalf("base url = %q", client.baseURL)
	}
	if got := client.Prefixes(); !equalStrings(got, DefaultCommentaryPrefixes) {
		t.Fatalf("prefixes = %v", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
