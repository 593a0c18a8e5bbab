// Package cuts refines span end boundaries to the pixel edge of each
// segment's last word, so a span's box does not bleed into the next
// segment's text on the same physical line.
package cuts

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/textsim"
)

// Config tunes boundary cut refinement.
type Config struct {
	// WordMatchThreshold is the 0-100 similarity floor for accepting a
	// candidate word as the segment's last.
	WordMatchThreshold float64

	// CropPad pads the end-line crop sent for word boxes.
	CropPad int
}

// DefaultConfig returns the standard refinement configuration.
func DefaultConfig() Config {
	return Config{WordMatchThreshold: 60.0, CropPad: 6}
}

// Refine walks every span and sets its end cut: the page x coordinate of
// the word on the end line best matching the segment's last word. A span
// that cannot be refined keeps a nil cut and collects exactly one
// diagnostic flag naming what went wrong; every failure is also recorded
// on the state's cut failure list. A successful cut is flagged cut_ok and
// always lands within the end line's horizontal extent.
func Refine(ctx context.Context, engine ocr.Engine, img image.Image, st *page.State, cfg Config) error {
	if cfg.WordMatchThreshold <= 0 {
		cfg.WordMatchThreshold = 60.0
	}
	if cfg.CropPad <= 0 {
		cfg.CropPad = 6
	}

	failures := make([]page.CutFailure, 0)
	fail := func(sp *page.SegmentSpan, flag string) {
		sp.AddFlag(flag)
		failures = append(failures, page.CutFailure{StreamID: sp.StreamID, SegRef: sp.SegRef})
	}

	for _, sp := range st.Spans {
		stream := st.StreamByID(sp.StreamID)
		if stream == nil {
			fail(sp, page.FlagMissingStream)
			continue
		}
		segText, ok := segTextForRef(stream, sp.SegRef)
		if !ok {
			fail(sp, page.FlagMissingSegRef)
			continue
		}
		last := lastWord(segText)
		if last == "" {
			fail(sp, page.FlagNoLastWord)
			continue
		}
		endLine, ok := st.Lines[sp.EndLineID]
		if !ok {
			fail(sp, page.FlagMissingEndLine)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		padded := endLine.BBox.Pad(cfg.CropPad)
		crop, err := ocr.CropPNG(img, padded)
		if err != nil {
			return fmt.Errorf("crop end line %s: %w", sp.EndLineID, err)
		}
		words, err := engine.Words(ctx, crop)
		if err != nil {
			return fmt.Errorf("word boxes for span %s/%s: %w", sp.StreamID, sp.SegRef, err)
		}

		bestX, bestScore := -1, -1.0
		for _, w := range words {
			sc := textsim.WordScore(w.Text, last)
			if sc > bestScore {
				bestScore = sc
				bestX = w.BBox.X
			}
		}
		if bestX < 0 || bestScore < cfg.WordMatchThreshold {
			fail(sp, page.FlagCutFailed)
			continue
		}

		// Word boxes are crop-local; translate back to page coordinates
		// and keep the cut inside the end line.
		cut := min(max(padded.X+bestX, endLine.BBox.X), endLine.BBox.Right())
		sp.EndCutX = &cut
		sp.AddFlag(page.FlagCutOK)
	}

	st.CutFailures = failures
	return nil
}

// lastWord returns the final whitespace-delimited token of the text.
func lastWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// segTextForRef finds the text of the stream segment carrying the ref.
func segTextForRef(stream *page.Stream, ref string) (string, bool) {
	for i, r := range stream.SegRefs {
		if r != ref {
			continue
		}
		if i < len(stream.SegTexts) {
			return stream.SegTexts[i], true
		}
		return "", false
	}
	return "", false
}
