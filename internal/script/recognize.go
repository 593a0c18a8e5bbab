package script

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/providers"
)

// RecognizeRashi reads every line of every commentary block with the
// commentary-trained engine and stores the result on the line. A failed
// read leaves the line's commentary text unset; only context cancellation
// aborts the pass.
func RecognizeRashi(ctx context.Context, rashiEngine ocr.Engine, img image.Image, st *page.State) error {
	for _, b := range st.OrderedBlocks() {
		if b.Script != page.ScriptCommentary {
			continue
		}
		for _, lid := range b.LineIDs {
			ln, ok := st.Lines[lid]
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			crop, err := ocr.CropPNG(img, ln.BBox.Pad(defaultLineCropPad))
			if err != nil {
				slog.Warn("commentary line crop failed", "line", lid, "error", err)
				continue
			}
			text, err := rashiEngine.Text(ctx, crop)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("commentary recognition failed", "line", lid, "error", err)
				continue
			}
			ln.RashiText = strings.TrimSpace(text)
		}
	}
	return nil
}

// FillLineText settles the working text of every line on the page.
// Commentary-engine text wins when present; other lines get a fresh read
// of their crop. With a nil recognizer the reads come from the engine and
// a failed read leaves the line empty; a non-nil recognizer takes over the
// fresh reads and its failures abort the run.
func FillLineText(ctx context.Context, engine ocr.Engine, rec providers.LineRecognizer, img image.Image, st *page.State) error {
	for _, b := range st.OrderedBlocks() {
		for _, lid := range b.LineIDs {
			ln, ok := st.Lines[lid]
			if !ok {
				continue
			}
			if ln.RashiText != "" {
				ln.Text = ln.RashiText
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			crop, err := ocr.CropPNG(img, ln.BBox.Pad(defaultLineCropPad))
			if err != nil {
				slog.Warn("line crop failed", "line", lid, "error", err)
				continue
			}
			if rec != nil {
				text, conf, err := rec.RecognizeLine(ctx, crop)
				if err != nil {
					return fmt.Errorf("recognize line %s: %w", lid, err)
				}
				ln.Text = strings.TrimSpace(text)
				ln.Conf = conf
				continue
			}
			text, err := engine.Text(ctx, crop)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("line recognition failed", "line", lid, "error", err)
				continue
			}
			ln.Text = strings.TrimSpace(text)
		}
	}
	return nil
}
