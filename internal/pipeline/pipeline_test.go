package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/pdf"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/sefaria"
	"github.com/jackzampolin/dafmap/internal/session"
	"github.com/jackzampolin/dafmap/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writePageImage writes a 600x600 page scan to disk and returns its path.
func writePageImage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 600, 600))); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "daf.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sefariaServer(t *testing.T, payload string) *sefaria.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return sefaria.New(sefaria.Config{
		BaseURL:    srv.URL,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
}

func newTestFetcher(t *testing.T) *pdf.Fetcher {
	t.Helper()
	f, err := pdf.New(pdf.Config{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func newTestSessions(t *testing.T) *session.Manager {
	t.Helper()
	fs, err := store.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return session.NewManager(fs, nil, discardLogger())
}

// mainOnlyRegions lays out one main block with two lines.
func mainOnlyRegions() []ocr.Region {
	return []ocr.Region{
		{Level: ocr.LevelBlock, BBox: geom.BBox{X: 100, Y: 100, W: 400, H: 60}, BlockNum: 1},
		{Level: ocr.LevelLine, BBox: geom.BBox{X: 100, Y: 100, W: 400, H: 20}, BlockNum: 1, ParNum: 1, LineNum: 1, Text: "אבג", Conf: 0.9},
		{Level: ocr.LevelLine, BBox: geom.BBox{X: 100, Y: 130, W: 400, H: 20}, BlockNum: 1, ParNum: 1, LineNum: 2, Text: "דהו", Conf: 0.9},
	}
}

func endWord(text string) []ocr.Region {
	return []ocr.Region{
		{Level: ocr.LevelWord, BBox: geom.BBox{X: 370, Y: 8, W: 24, H: 12}, Text: text},
	}
}

func TestRunPersistsCleanRun(t *testing.T) {
	engine := &ocr.MockEngine{
		LayoutRegions: mainOnlyRegions(),
		Texts:         []string{"אבג", "דהו"},
		// Boundary cuts look for each segment's last word on its end line.
		WordsSeq: [][]ocr.Region{endWord("אבג"), endWord("דהו")},
	}
	classifier := &providers.MockProvider{Script: page.ScriptMain}
	client := sefariaServer(t, `{
		"title": "Shabbat",
		"he": ["אבג", "דהו"],
		"refs": ["Shabbat 2a:1", "Shabbat 2a:2"]
	}`)
	sessions := newTestSessions(t)

	runner, err := New(Deps{
		PDF:        newTestFetcher(t),
		Engine:     engine,
		Classifier: classifier,
		Sefaria:    client,
		Sessions:   sessions,
		Logger:     discardLogger(),
	}, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	rec, err := sessions.Create(ctx, "Shabbat 2a:1-2", writePageImage(t), 0, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := runner.Run(ctx, rec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.Status != session.StatusFinalized {
		t.Fatalf("status = %s, want finalized (error %q, flags %v)", rec.Status, rec.Error, rec.State.ValidationFlags)
	}
	if rec.PageDocID != "Shabbat 2a" {
		t.Errorf("PageDocID = %q, want Shabbat 2a", rec.PageDocID)
	}
	if got := len(rec.Progress); got != 14 {
		t.Errorf("progress entries = %d, want 14", got)
	}
	if rec.Progress[0].Stage != "render_page" || rec.Progress[len(rec.Progress)-1].Stage != "persist" {
		t.Errorf("progress order wrong: first %s last %s", rec.Progress[0].Stage, rec.Progress[len(rec.Progress)-1].Stage)
	}

	st := rec.State
	if len(st.Spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(st.Spans))
	}
	for i, sp := range st.Spans {
		if sp.Score != 1.0 {
			t.Errorf("span %d score = %v, want 1.0", i, sp.Score)
		}
		if !sp.HasFlag(page.FlagCutOK) {
			t.Errorf("span %d missing cut_ok, flags %v", i, sp.Flags)
		}
		if sp.EndCutX == nil || *sp.EndCutX != 464 {
			t.Errorf("span %d EndCutX = %v, want 464", i, sp.EndCutX)
		}
	}

	// Persisted artifacts: finalized session and the page document.
	stored, err := sessions.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.StatusFinalized {
		t.Errorf("stored status = %s, want finalized", stored.Status)
	}

	doc, err := sessions.GetPage(ctx, "Shabbat 2a")
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if len(doc.BBoxes) != 2 {
		t.Fatalf("doc bboxes = %d, want 2", len(doc.BBoxes))
	}
	if doc.BBoxes[0].Ref != "Shabbat 2a:1" {
		t.Errorf("first bbox ref = %q", doc.BBoxes[0].Ref)
	}
	// End line truncated at the cut: width (464-100)/600.
	if want := 364.0 / 600.0; math.Abs(doc.BBoxes[0].Width-want) > 1e-6 {
		t.Errorf("first bbox width = %v, want %v", doc.BBoxes[0].Width, want)
	}
	if doc.ImageData == "" {
		t.Error("doc image data empty")
	}
}

func TestRunPausesForCommentaryReview(t *testing.T) {
	regions := append(mainOnlyRegions(),
		ocr.Region{Level: ocr.LevelBlock, BBox: geom.BBox{X: 100, Y: 300, W: 400, H: 20}, BlockNum: 2},
		ocr.Region{Level: ocr.LevelLine, BBox: geom.BBox{X: 100, Y: 300, W: 400, H: 20}, BlockNum: 2, ParNum: 1, LineNum: 1, Conf: 0.6},
	)
	engine := &ocr.MockEngine{
		LayoutRegions: regions,
		Texts:         []string{"אבג", "דהו"},
		// First the split pass scans the commentary line, then cuts visit
		// the three span end lines.
		WordsSeq: [][]ocr.Region{nil, endWord("אבג"), endWord("דהו"), endWord("גדול")},
	}
	rashiEngine := &ocr.MockEngine{Texts: []string{"פרש גדול"}}

	var classified int
	classifier := &providers.MockProvider{ScriptFn: func([]byte) page.Script {
		classified++
		if classified == 1 {
			return page.ScriptMain
		}
		return page.ScriptCommentary
	}}

	client := sefariaServer(t, `{
		"title": "Shabbat",
		"he": ["אבג", "דהו"],
		"refs": ["Shabbat 2a:1", "Shabbat 2a:2"],
		"commentary": [
			{"title": "Rashi on Shabbat", "he": ["פרש גדול"], "refs": ["Rashi on Shabbat 2a:1:1"]}
		]
	}`)
	sessions := newTestSessions(t)

	runner, err := New(Deps{
		PDF:         newTestFetcher(t),
		Engine:      engine,
		RashiEngine: rashiEngine,
		Classifier:  classifier,
		Embedder:    providers.NewMockProvider(),
		Sefaria:     client,
		Sessions:    sessions,
		Logger:      discardLogger(),
	}, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	rec, err := sessions.Create(ctx, "Shabbat 2a:1-2", writePageImage(t), 0, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := runner.Run(ctx, rec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.Status != session.StatusNeedsReview {
		t.Fatalf("status = %s, want needs_review (error %q)", rec.Status, rec.Error)
	}
	st := rec.State
	if !st.NeedsHumanReview {
		t.Error("state not flagged for review")
	}
	if len(st.ValidationFlags) != 1 || st.ValidationFlags[0] != page.ValidationUnknownBlocks {
		t.Errorf("validation flags = %v, want [unknown_blocks]", st.ValidationFlags)
	}
	if len(st.UnknownBlockIDs) != 1 || st.UnknownBlockIDs[0] != "b2" {
		t.Errorf("unknown blocks = %v, want [b2]", st.UnknownBlockIDs)
	}

	// The commentary block still matched its stream by embedding.
	var commentarySpan *page.SegmentSpan
	for _, sp := range st.Spans {
		if sp.StreamID == "s1" {
			commentarySpan = sp
		}
	}
	if commentarySpan == nil {
		t.Fatalf("no commentary span in %d spans", len(st.Spans))
	}
	if !commentarySpan.HasFlag(page.FlagCommentaryEmbed) {
		t.Errorf("commentary span flags = %v", commentarySpan.Flags)
	}
	if commentarySpan.SegRef != "Rashi on Shabbat 2a:1:1" {
		t.Errorf("commentary span ref = %q", commentarySpan.SegRef)
	}

	// Paused runs persist the session but no page document.
	stored, err := sessions.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.StatusNeedsReview {
		t.Errorf("stored status = %s, want needs_review", stored.Status)
	}
	if _, err := sessions.GetPage(ctx, "Shabbat 2a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPage() error = %v, want ErrNotFound", err)
	}
}

func TestRunFailureMarksSessionFailed(t *testing.T) {
	engine := &ocr.MockEngine{
		LayoutRegions: mainOnlyRegions(),
		Texts:         []string{"אבג", "דהו"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "no such text"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	client := sefaria.New(sefaria.Config{
		BaseURL:    srv.URL,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	sessions := newTestSessions(t)

	runner, err := New(Deps{
		PDF:        newTestFetcher(t),
		Engine:     engine,
		Classifier: &providers.MockProvider{Script: page.ScriptMain},
		Sefaria:    client,
		Sessions:   sessions,
		Logger:     discardLogger(),
	}, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	rec, err := sessions.Create(ctx, "Shabbat 2a:1-2", writePageImage(t), 0, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := runner.Run(ctx, rec); err == nil {
		t.Fatal("Run() succeeded, want fetch failure")
	}

	if rec.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "fetch_streams") {
		t.Errorf("error = %q, want failed stage named", rec.Error)
	}
	if rec.CompletedAt == nil {
		t.Error("CompletedAt not set on failure")
	}

	stored, err := sessions.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != session.StatusFailed {
		t.Errorf("stored status = %s, want failed", stored.Status)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	sessions := newTestSessions(t)
	deps := Deps{
		PDF:        newTestFetcher(t),
		Engine:     &ocr.MockEngine{},
		Classifier: providers.NewMockProvider(),
		Sefaria:    sefaria.New(sefaria.Config{}),
		Sessions:   sessions,
	}

	if _, err := New(deps, DefaultConfig()); err != nil {
		t.Errorf("New() with full deps error = %v", err)
	}

	broken := deps
	broken.Engine = nil
	if _, err := New(broken, DefaultConfig()); err == nil {
		t.Error("expected error for missing engine")
	}
	broken = deps
	broken.Classifier = nil
	if _, err := New(broken, DefaultConfig()); err == nil {
		t.Error("expected error for missing classifier")
	}
}

func TestValidStrategy(t *testing.T) {
	for _, s := range []string{"", StrategyLexical, StrategyEmbedding} {
		if !ValidStrategy(s) {
			t.Errorf("ValidStrategy(%q) = false", s)
		}
	}
	if ValidStrategy("semantic") {
		t.Error("ValidStrategy(semantic) = true")
	}
}
