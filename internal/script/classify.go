// Package script handles typeface concerns on a segmented page: deciding
// which blocks are set in commentary (Rashi) script, splitting commentary
// lines at their terminal delimiter words, and filling in the recognized
// text every downstream stage works from.
package script

import (
	"context"
	"image"
	"log/slog"

	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/providers"
)

const (
	// defaultBlockCropPad pads block crops sent to the classifier.
	defaultBlockCropPad = 4

	// defaultLineCropPad pads line crops for word boxes and recognition.
	defaultLineCropPad = 2
)

// Classify labels every block in reading order with the script the
// classifier sees in its crop. A failed classification is logged and the
// block defaults to the main script; only context cancellation aborts.
func Classify(ctx context.Context, classifier providers.ScriptClassifier, img image.Image, st *page.State) error {
	for _, b := range st.OrderedBlocks() {
		if err := ctx.Err(); err != nil {
			return err
		}
		script, err := classifyBlock(ctx, classifier, img, b)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("script classification failed, defaulting to main",
				"block", b.ID,
				"error", err)
			script = page.ScriptMain
		}
		b.Script = script
	}
	return nil
}

func classifyBlock(ctx context.Context, classifier providers.ScriptClassifier, img image.Image, b *page.Block) (page.Script, error) {
	crop, err := ocr.CropPNG(img, b.BBox.Pad(defaultBlockCropPad))
	if err != nil {
		return "", err
	}
	return classifier.ClassifyScript(ctx, crop)
}
