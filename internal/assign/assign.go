// Package assign matches layout blocks to canonical text streams by fuzzy
// comparison of their leading text.
package assign

import (
	"strings"

	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/textsim"
)

// Config tunes block-to-stream assignment.
type Config struct {
	// PrefixSegments caps how many leading segments form a stream's
	// fingerprint.
	PrefixSegments int

	// PrefixLines caps how many leading lines form a block's fingerprint.
	PrefixLines int

	// MinScore is the floor under which a best match is rejected.
	MinScore float64
}

// DefaultConfig returns the standard assignment configuration.
func DefaultConfig() Config {
	return Config{PrefixSegments: 3, PrefixLines: 10, MinScore: 0.25}
}

// Blocks assigns every main-script block to its best-scoring stream and
// records the leftovers on the state. Commentary blocks are matched later
// at span granularity, so they always land in UnknownBlockIDs, as do
// blocks whose best score sits under the floor. Streams no block chose
// make up UnassignedStreamIDs, in stream order. Ties go to the earlier
// stream.
func Blocks(st *page.State, cfg Config) {
	if cfg.PrefixSegments <= 0 {
		cfg.PrefixSegments = 3
	}
	if cfg.PrefixLines <= 0 {
		cfg.PrefixLines = 10
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.25
	}

	prefixes := make([]string, len(st.Streams))
	for i, stream := range st.Streams {
		k := min(cfg.PrefixSegments, len(stream.SegTexts))
		prefixes[i] = strings.Join(stream.SegTexts[:k], " ")
	}

	var unknown []string
	for _, blk := range st.OrderedBlocks() {
		if blk.Script == page.ScriptCommentary {
			blk.StreamID = ""
			blk.AssignScore = 0
			unknown = append(unknown, blk.ID)
			continue
		}
		blockText := blockPrefix(st, blk, cfg.PrefixLines)

		bestIdx, bestScore := -1, -1.0
		for i, prefix := range prefixes {
			sc := textsim.TokenSetScore(blockText, prefix)
			if sc > bestScore {
				bestIdx, bestScore = i, sc
			}
		}

		if bestIdx < 0 || bestScore < cfg.MinScore {
			blk.StreamID = ""
			blk.AssignScore = max(bestScore, 0)
			unknown = append(unknown, blk.ID)
			continue
		}
		blk.StreamID = st.Streams[bestIdx].ID
		blk.AssignScore = bestScore
	}

	assigned := make(map[string]bool)
	for _, blk := range st.Blocks {
		if blk.StreamID != "" {
			assigned[blk.StreamID] = true
		}
	}
	var unassigned []string
	for _, stream := range st.Streams {
		if !assigned[stream.ID] {
			unassigned = append(unassigned, stream.ID)
		}
	}

	st.UnknownBlockIDs = unknown
	st.UnassignedStreamIDs = unassigned
}

// blockPrefix joins the recognized text of the block's leading lines in
// reading order.
func blockPrefix(st *page.State, blk *page.Block, prefixLines int) string {
	ordered := st.OrderedLineIDs(blk.LineIDs)
	m := min(prefixLines, len(ordered))
	parts := make([]string, 0, m)
	for _, lid := range ordered[:m] {
		parts = append(parts, st.Lines[lid].Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
