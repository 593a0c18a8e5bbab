package layout

import (
	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/page"
)

// MarginConfig tunes the margin pruning pass. Zero fields fall back to
// defaults tuned on Vilna-layout scans.
type MarginConfig struct {
	// TopBandFrac is the fraction of page height searched for seed blocks.
	TopBandFrac float64
	// MarginXFrac is the width fraction of the left and right margin zones.
	MarginXFrac float64
	// MarginYFrac is the height fraction of the top margin zone.
	MarginYFrac float64
	// SmallAreaFrac is the page-area fraction below which a block counts
	// as small.
	SmallAreaFrac float64
}

// DefaultMarginConfig returns the tuned pruning fractions.
func DefaultMarginConfig() MarginConfig {
	return MarginConfig{
		TopBandFrac:   0.12,
		MarginXFrac:   0.12,
		MarginYFrac:   0.10,
		SmallAreaFrac: 0.002,
	}
}

// FilterMargins prunes marginal annotation blocks in place. The leftmost
// and rightmost blocks of the top band seed the search; a block is removed
// when it sits in a margin zone or is very small, and shares a horizontal
// or vertical strip with either seed. Lines of removed blocks are dropped
// and surviving blocks keep only line ids that still resolve.
//
// pageW and pageH should be the rendered image dimensions; when either is
// zero they are estimated from the block extents. Fixed dimensions keep the
// margin zones stable, so running the filter on its own output changes
// nothing.
func FilterMargins(cfg MarginConfig, pageW, pageH int, blocks map[string]*page.Block, lines map[string]*page.Line) {
	def := DefaultMarginConfig()
	if cfg.TopBandFrac <= 0 {
		cfg.TopBandFrac = def.TopBandFrac
	}
	if cfg.MarginXFrac <= 0 {
		cfg.MarginXFrac = def.MarginXFrac
	}
	if cfg.MarginYFrac <= 0 {
		cfg.MarginYFrac = def.MarginYFrac
	}
	if cfg.SmallAreaFrac <= 0 {
		cfg.SmallAreaFrac = def.SmallAreaFrac
	}

	if len(blocks) <= 1 {
		return
	}

	if pageW <= 0 || pageH <= 0 {
		for _, b := range blocks {
			pageW = max(pageW, b.BBox.Right())
			pageH = max(pageH, b.BBox.Bottom())
		}
	}
	if pageW <= 0 || pageH <= 0 {
		return
	}

	topBandH := int(cfg.TopBandFrac * float64(pageH))
	marginX := int(cfg.MarginXFrac * float64(pageW))
	marginY := int(cfg.MarginYFrac * float64(pageH))
	smallArea := cfg.SmallAreaFrac * float64(pageW) * float64(pageH)

	var candidates []*page.Block
	for _, b := range blocks {
		if b.BBox.Y < topBandH {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		for _, b := range blocks {
			candidates = append(candidates, b)
		}
	}

	leftSeed := pickSeed(candidates, func(a, b *page.Block) bool {
		if a.BBox.X != b.BBox.X {
			return a.BBox.X < b.BBox.X
		}
		if a.BBox.Y != b.BBox.Y {
			return a.BBox.Y < b.BBox.Y
		}
		return a.ID < b.ID
	})
	rightSeed := pickSeed(candidates, func(a, b *page.Block) bool {
		if a.BBox.Right() != b.BBox.Right() {
			return a.BBox.Right() > b.BBox.Right()
		}
		if a.BBox.Y != b.BBox.Y {
			return a.BBox.Y < b.BBox.Y
		}
		return a.ID < b.ID
	})

	marginLike := func(bb geom.BBox) bool {
		switch {
		case bb.X < marginX:
			return true
		case bb.Right() > pageW-marginX:
			return true
		case bb.Y < marginY:
			return true
		case float64(bb.Area()) < smallArea:
			return true
		}
		return false
	}
	sharesStrip := func(bb, seed geom.BBox) bool {
		return bb.OverlapsX(seed) || bb.OverlapsY(seed)
	}

	for bid, b := range blocks {
		if !marginLike(b.BBox) {
			continue
		}
		if sharesStrip(b.BBox, leftSeed.BBox) || sharesStrip(b.BBox, rightSeed.BBox) {
			delete(blocks, bid)
		}
	}

	for lid, ln := range lines {
		if _, ok := blocks[ln.BlockID]; !ok {
			delete(lines, lid)
		}
	}
	for _, b := range blocks {
		kept := make([]string, 0, len(b.LineIDs))
		for _, lid := range b.LineIDs {
			if _, ok := lines[lid]; ok {
				kept = append(kept, lid)
			}
		}
		b.LineIDs = kept
	}
}

func pickSeed(cands []*page.Block, less func(a, b *page.Block) bool) *page.Block {
	best := cands[0]
	for _, b := range cands[1:] {
		if less(b, best) {
			best = b
		}
	}
	return best
}
