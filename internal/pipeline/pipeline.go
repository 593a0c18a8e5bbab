// Package pipeline drives one page annotation run end to end: rendering,
// layout, script handling, stream fetching, assignment, alignment,
// boundary cuts, and the validation gate that decides between automatic
// persistence and a human review pause.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jackzampolin/dafmap/internal/align"
	"github.com/jackzampolin/dafmap/internal/assign"
	"github.com/jackzampolin/dafmap/internal/cuts"
	"github.com/jackzampolin/dafmap/internal/layout"
	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/pdf"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/script"
	"github.com/jackzampolin/dafmap/internal/sefaria"
	"github.com/jackzampolin/dafmap/internal/session"
	"github.com/jackzampolin/dafmap/internal/validate"
)

// Alignment strategies selectable per session.
const (
	StrategyLexical   = "lexical"
	StrategyEmbedding = "embedding"
)

// ValidStrategy reports whether s names a known alignment strategy.
// Empty selects the default.
func ValidStrategy(s string) bool {
	return s == "" || s == StrategyLexical || s == StrategyEmbedding
}

// Deps are the external services a run needs. RashiEngine, Recognizer,
// and Embedder are optional: a missing RashiEngine falls back to Engine,
// a missing Recognizer leaves text fill to the OCR engine, and a missing
// Embedder only fails runs that actually need embeddings.
type Deps struct {
	PDF         *pdf.Fetcher
	Engine      ocr.Engine
	RashiEngine ocr.Engine
	Classifier  providers.ScriptClassifier
	Recognizer  providers.LineRecognizer
	Embedder    providers.Embedder
	Sefaria     *sefaria.Client
	Sessions    *session.Manager
	Logger      *slog.Logger
}

// Config collects the per-stage tunables.
type Config struct {
	Margin layout.MarginConfig
	Split  script.SplitConfig
	Assign assign.Config
	Align  align.Config
	Cuts   cuts.Config
}

// DefaultConfig returns the stage defaults.
func DefaultConfig() Config {
	return Config{
		Margin: layout.DefaultMarginConfig(),
		Split:  script.DefaultSplitConfig(),
		Assign: assign.DefaultConfig(),
		Align:  align.DefaultConfig(),
		Cuts:   cuts.DefaultConfig(),
	}
}

// Runner executes annotation runs.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New validates the required dependencies and returns a Runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	if deps.PDF == nil {
		return nil, fmt.Errorf("pipeline requires a pdf fetcher")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("pipeline requires an ocr engine")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("pipeline requires a script classifier")
	}
	if deps.Sefaria == nil {
		return nil, fmt.Errorf("pipeline requires a sefaria client")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("pipeline requires a session manager")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger}, nil
}

type stage struct {
	name string
	fn   func(context.Context) error
}

// Run executes the full pipeline for the session record. The record is
// mutated and persisted as the run progresses; a clean pass through the
// validation gate finalizes it, otherwise it pauses in needs_review.
// Stage errors mark the session failed and are returned.
func (r *Runner) Run(ctx context.Context, rec *session.Record) error {
	now := time.Now().UTC()
	rec.Status = session.StatusRunning
	rec.StartedAt = &now
	rec.State = page.NewState(rec.ID, rec.PDF, rec.PageIndex, rec.Ref)
	if err := r.deps.Sessions.Save(ctx, rec); err != nil {
		return fmt.Errorf("save running session: %w", err)
	}

	w := &run{
		deps:   r.deps,
		cfg:    r.cfg,
		logger: r.logger.With("session", rec.ID),
		rec:    rec,
		st:     rec.State,
	}

	stages := []stage{
		{"render_page", w.renderPage},
		{"extract_blocks_lines", w.extractLayout},
		{"filter_margins", w.filterMargins},
		{"classify_scripts", w.classifyScripts},
		{"split_rashi_lines", w.splitCommentaryLines},
		{"rashi_tesseract", w.recognizeCommentary},
		{"fill_line_text", w.fillLineText},
		{"fetch_streams", w.fetchStreams},
		{"assign_blocks", w.assignBlocks},
		{"align_segments", w.alignSegments},
		{"match_commentary", w.matchCommentary},
		{"boundary_cuts", w.refineCuts},
		{"validate", w.validateRun},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return r.fail(rec, s.name, err)
		}
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			return r.fail(rec, s.name, err)
		}
		w.logger.Info("stage complete", "stage", s.name, "took", time.Since(start))
		rec.Progress = append(rec.Progress, session.StageProgress{
			Stage:       s.name,
			CompletedAt: time.Now().UTC(),
		})
		r.deps.Sessions.Snapshot(rec)
	}

	if w.outcome == validate.OutcomePersist {
		rec.Progress = append(rec.Progress, session.StageProgress{
			Stage:       "persist",
			CompletedAt: time.Now().UTC(),
		})
		pageID, err := r.deps.Sessions.FinalizeRecord(ctx, rec)
		if err != nil {
			return r.fail(rec, "persist", err)
		}
		w.logger.Info("run persisted", "page", pageID)
		return nil
	}

	rec.Status = session.StatusNeedsReview
	if err := r.deps.Sessions.Save(ctx, rec); err != nil {
		return r.fail(rec, "pause_for_review", err)
	}
	w.logger.Info("run paused for review", "flags", w.st.ValidationFlags)
	return nil
}

// fail marks the session failed and persists it; the save uses a fresh
// context because the run context may already be canceled.
func (r *Runner) fail(rec *session.Record, stageName string, err error) error {
	now := time.Now().UTC()
	rec.Status = session.StatusFailed
	rec.Error = fmt.Sprintf("%s: %v", stageName, err)
	rec.CompletedAt = &now
	if saveErr := r.deps.Sessions.Save(context.Background(), rec); saveErr != nil {
		r.logger.Error("recording session failure failed",
			"session", rec.ID,
			"error", saveErr)
	}
	r.logger.Error("run failed", "session", rec.ID, "stage", stageName, "error", err)
	return fmt.Errorf("stage %s: %w", stageName, err)
}

// run is the per-execution scratch shared by the stage closures.
type run struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	rec     *session.Record
	st      *page.State
	img     image.Image
	outcome validate.Outcome
}

func (w *run) renderPage(ctx context.Context) error {
	local, err := w.deps.PDF.EnsureLocal(ctx, w.rec.PDF, w.rec.ID)
	if err != nil {
		return err
	}
	pg, err := w.deps.PDF.RenderPage(ctx, local, w.rec.PageIndex)
	if err != nil {
		return err
	}
	img, err := ocr.DecodePage(pg.Data)
	if err != nil {
		return err
	}
	w.st.PageImage = pg.Data
	w.st.PageW = pg.W
	w.st.PageH = pg.H
	w.img = img
	return nil
}

func (w *run) extractLayout(ctx context.Context) error {
	blocks, lines, err := layout.Extract(ctx, w.deps.Engine, w.st.PageImage)
	if err != nil {
		return err
	}
	w.st.Blocks = blocks
	w.st.Lines = lines
	w.logger.Debug("layout extracted", "blocks", len(blocks), "lines", len(lines))
	return nil
}

func (w *run) filterMargins(context.Context) error {
	layout.FilterMargins(w.cfg.Margin, w.st.PageW, w.st.PageH, w.st.Blocks, w.st.Lines)
	return nil
}

func (w *run) classifyScripts(ctx context.Context) error {
	return script.Classify(ctx, w.deps.Classifier, w.img, w.st)
}

func (w *run) splitCommentaryLines(ctx context.Context) error {
	return script.SplitLines(ctx, w.deps.Engine, w.img, w.st, w.cfg.Split)
}

func (w *run) recognizeCommentary(ctx context.Context) error {
	engine := w.deps.RashiEngine
	if engine == nil {
		engine = w.deps.Engine
	}
	return script.RecognizeRashi(ctx, engine, w.img, w.st)
}

func (w *run) fillLineText(ctx context.Context) error {
	return script.FillLineText(ctx, w.deps.Engine, w.deps.Recognizer, w.img, w.st)
}

func (w *run) fetchStreams(ctx context.Context) error {
	streams, err := w.deps.Sefaria.FetchStreams(ctx, w.rec.Ref)
	if err != nil {
		return err
	}
	w.st.Streams = streams
	return nil
}

func (w *run) assignBlocks(context.Context) error {
	assign.Blocks(w.st, w.cfg.Assign)
	w.logger.Debug("blocks assigned",
		"unknown", len(w.st.UnknownBlockIDs),
		"unassigned_streams", len(w.st.UnassignedStreamIDs))
	return nil
}

func (w *run) alignSegments(ctx context.Context) error {
	acfg := w.cfg.Align
	if w.rec.Strategy == StrategyEmbedding {
		acfg.EmbedMainStream = true
	}
	return align.Segments(ctx, w.deps.Embedder, w.st, acfg)
}

func (w *run) matchCommentary(ctx context.Context) error {
	return align.MatchCommentaryBlocks(ctx, w.deps.Embedder, w.st)
}

func (w *run) refineCuts(ctx context.Context) error {
	return cuts.Refine(ctx, w.deps.Engine, w.img, w.st, w.cfg.Cuts)
}

func (w *run) validateRun(context.Context) error {
	w.outcome = validate.State(w.st)
	return nil
}
