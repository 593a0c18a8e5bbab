package align

import (
	"strings"

	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/textsim"
)

// Lexical aligns the stream's segments onto the given lines by fuzzy text
// similarity. A cursor walks the lines in reading order; each segment
// claims the window extension that scores best against it, ties going to
// the shortest range. A segment whose best window scores under the floor
// gets a single-line span flagged align_failed and the cursor advances one
// line. Segments left after the cursor runs off the page get no span at
// all.
func Lexical(st *page.State, stream *page.Stream, lineIDs []string, cfg Config) []*page.SegmentSpan {
	cfg = cfg.withDefaults()

	var spans []*page.SegmentSpan
	if len(stream.SegRefs) == 0 || len(lineIDs) == 0 {
		return spans
	}
	ordered := orderedUnique(st, lineIDs)
	if len(ordered) == 0 {
		return spans
	}

	texts := make([]string, len(ordered))
	for i, lid := range ordered {
		texts[i] = textsim.Normalize(st.Lines[lid].Text)
	}

	p := 0
	n := min(len(stream.SegRefs), len(stream.SegTexts))
	for i := 0; i < n; i++ {
		if p >= len(ordered) {
			break
		}
		segText := textsim.Normalize(stream.SegTexts[i])

		bestQ, bestScore := -1, -1.0
		for q := p; q < min(len(ordered), p+cfg.LexicalWindow); q++ {
			concat := strings.TrimSpace(strings.Join(texts[p:q+1], " "))
			// Sort-style scoring: a partial range never ties the full one,
			// so the smallest-q tie-break lands on complete matches.
			sc := textsim.TokenSortScore(concat, segText)
			if sc > bestScore {
				bestQ, bestScore = q, sc
			}
		}

		if bestQ < 0 || bestScore < cfg.LexicalMinScore {
			spans = append(spans, &page.SegmentSpan{
				StreamID:    stream.ID,
				SegRef:      stream.SegRefs[i],
				StartLineID: ordered[p],
				EndLineID:   ordered[p],
				Score:       max(bestScore, 0),
				Flags:       []string{page.FlagAlignFailed},
			})
			p++
			continue
		}

		spans = append(spans, &page.SegmentSpan{
			StreamID:    stream.ID,
			SegRef:      stream.SegRefs[i],
			StartLineID: ordered[p],
			EndLineID:   ordered[bestQ],
			Score:       bestScore,
			Flags:       []string{},
		})

		if cfg.ShareBoundaries {
			// The next segment may start on this end line.
			p = bestQ
		} else {
			p = bestQ + 1
		}
	}
	return spans
}
