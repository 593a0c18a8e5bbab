package script

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"unicode"

	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
)

// SplitConfig tunes commentary line splitting.
type SplitConfig struct {
	// CropPad pads the line crop passed to the word-box engine.
	CropPad int

	// Delimiter is the mark a word must end with to close a commentary
	// segment on its line.
	Delimiter string
}

// DefaultSplitConfig returns the standard splitting configuration.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{CropPad: defaultLineCropPad, Delimiter: ":"}
}

// SplitLines cuts every commentary-block line at words ending with the
// delimiter. A line with delimiter words is replaced by one synthetic line
// per horizontal segment, ordered rightmost first to match the script's
// reading direction, each marked as a span end. Lines without delimiter
// words pass through untouched. The segments of a split line tile its full
// horizontal extent with no gaps or overlaps.
func SplitLines(ctx context.Context, engine ocr.Engine, img image.Image, st *page.State, cfg SplitConfig) error {
	if cfg.CropPad <= 0 {
		cfg.CropPad = defaultLineCropPad
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = ":"
	}

	for _, b := range st.OrderedBlocks() {
		if b.Script != page.ScriptCommentary {
			continue
		}
		newIDs := make([]string, 0, len(b.LineIDs))
		for _, lid := range b.LineIDs {
			ln, ok := st.Lines[lid]
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			pts, err := splitPoints(ctx, engine, img, ln, cfg)
			if err != nil {
				return fmt.Errorf("split line %s: %w", lid, err)
			}
			if len(pts) == 0 {
				newIDs = append(newIDs, lid)
				continue
			}

			for idx, seg := range lineSegments(ln.BBox, pts) {
				segID := fmt.Sprintf("%s_s%d", lid, idx)
				st.Lines[segID] = &page.Line{
					ID:        segID,
					BlockID:   b.ID,
					BBox:      geom.BBox{X: seg.left, Y: ln.BBox.Y, W: seg.right - seg.left, H: ln.BBox.H},
					OrderHint: ln.OrderHint + float64(idx)*0.0001,
					IsSpanEnd: true,
				}
				newIDs = append(newIDs, segID)
			}
			delete(st.Lines, lid)
		}
		b.LineIDs = newIDs
	}
	return nil
}

// splitPoints returns the page-absolute left edges of delimiter words on
// the line, sorted ascending with duplicates removed.
func splitPoints(ctx context.Context, engine ocr.Engine, img image.Image, ln *page.Line, cfg SplitConfig) ([]int, error) {
	box := ln.BBox.Pad(cfg.CropPad)
	crop, err := ocr.CropPNG(img, box)
	if err != nil {
		return nil, err
	}
	words, err := engine.Words(ctx, crop)
	if err != nil {
		return nil, err
	}

	set := make(map[int]struct{})
	for _, w := range words {
		txt := strings.TrimRightFunc(w.Text, unicode.IsSpace)
		if txt == "" || !strings.HasSuffix(txt, cfg.Delimiter) {
			continue
		}
		// Word boxes are crop-local; anchor them on the line's left edge.
		set[ln.BBox.X+w.BBox.X] = struct{}{}
	}
	pts := make([]int, 0, len(set))
	for p := range set {
		pts = append(pts, p)
	}
	sort.Ints(pts)
	return pts, nil
}

type segRange struct {
	left, right int
}

// lineSegments partitions the line's horizontal extent at the split points
// and returns the pieces ordered by descending left edge.
func lineSegments(box geom.BBox, pts []int) []segRange {
	segs := make([]segRange, 0, len(pts)+1)
	left := box.X
	for _, p := range pts {
		segs = append(segs, segRange{left: left, right: p})
		left = p
	}
	segs = append(segs, segRange{left: left, right: box.Right()})
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].left > segs[j].left })
	return segs
}
