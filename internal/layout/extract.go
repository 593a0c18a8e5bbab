// Package layout turns raw OCR geometry into the block/line hierarchy used
// by the rest of the pipeline and prunes marginal annotation blocks.
package layout

import (
	"context"
	"fmt"

	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/ocr"
	"github.com/jackzampolin/dafmap/internal/page"
)

// Extract runs the OCR layout pass over the page image and builds the
// block and line maps. Block ids are "b{block}"; line ids are
// "l{block}_{par}_{line}". A block implied by a line but missing from the
// block-level regions is synthesized from that line's box. Line text from
// the layout pass is kept as the weak backup text.
func Extract(ctx context.Context, engine ocr.Engine, img []byte) (map[string]*page.Block, map[string]*page.Line, error) {
	regions, err := engine.Layout(ctx, img)
	if err != nil {
		return nil, nil, fmt.Errorf("ocr layout: %w", err)
	}

	blocks := make(map[string]*page.Block)
	lines := make(map[string]*page.Line)

	for _, r := range regions {
		if r.Level != ocr.LevelBlock {
			continue
		}
		id := fmt.Sprintf("b%d", r.BlockNum)
		blocks[id] = &page.Block{ID: id, BBox: r.BBox, LineIDs: []string{}}
	}

	for _, r := range regions {
		if r.Level != ocr.LevelLine {
			continue
		}
		bid := fmt.Sprintf("b%d", r.BlockNum)
		lid := fmt.Sprintf("l%d_%d_%d", r.BlockNum, r.ParNum, r.LineNum)

		lines[lid] = &page.Line{
			ID:        lid,
			BlockID:   bid,
			BBox:      r.BBox,
			OrderHint: geom.OrderHint(r.BBox),
			WeakText:  r.Text,
			Conf:      r.Conf,
		}
		if _, ok := blocks[bid]; !ok {
			blocks[bid] = &page.Block{ID: bid, BBox: r.BBox, LineIDs: []string{}}
		}
		blocks[bid].LineIDs = append(blocks[bid].LineIDs, lid)
	}

	return blocks, lines, nil
}
