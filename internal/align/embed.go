package align

import (
	"context"
	"fmt"

	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/textsim"
)

// Embeddings aligns the stream's segments onto the given lines by cosine
// similarity between each segment's embedding and the mean embedding of a
// candidate line range. The cursor mechanics mirror Lexical, with its own
// window and floor; successes are flagged align_embed and failures
// align_embed_failed.
func Embeddings(ctx context.Context, embedder providers.Embedder, st *page.State, stream *page.Stream, lineIDs []string, cfg Config) ([]*page.SegmentSpan, error) {
	cfg = cfg.withDefaults()

	var spans []*page.SegmentSpan
	if len(stream.SegRefs) == 0 || len(lineIDs) == 0 {
		return spans, nil
	}
	ordered := orderedUnique(st, lineIDs)
	if len(ordered) == 0 {
		return spans, nil
	}

	lineTexts := make([]string, len(ordered))
	for i, lid := range ordered {
		lineTexts[i] = textsim.Normalize(st.Lines[lid].Text)
	}
	segTexts := make([]string, len(stream.SegTexts))
	for i, t := range stream.SegTexts {
		segTexts[i] = textsim.Normalize(t)
	}

	lineEmb, err := embedder.Embed(ctx, lineTexts)
	if err != nil {
		return nil, fmt.Errorf("embed lines: %w", err)
	}
	segEmb, err := embedder.Embed(ctx, segTexts)
	if err != nil {
		return nil, fmt.Errorf("embed segments: %w", err)
	}

	p := 0
	n := min(len(stream.SegRefs), len(stream.SegTexts))
	for i := 0; i < n; i++ {
		if p >= len(ordered) {
			break
		}

		bestQ, bestScore := -1, -1.0
		for q := p; q < min(len(ordered), p+cfg.EmbedWindow); q++ {
			mean := textsim.MeanVec(lineEmb[p : q+1])
			sc := textsim.Cosine(mean, segEmb[i])
			if sc > bestScore {
				bestQ, bestScore = q, sc
			}
		}

		if bestQ < 0 || bestScore < cfg.EmbedMinScore {
			spans = append(spans, &page.SegmentSpan{
				StreamID:    stream.ID,
				SegRef:      stream.SegRefs[i],
				StartLineID: ordered[p],
				EndLineID:   ordered[p],
				Score:       max(bestScore, 0),
				Flags:       []string{page.FlagAlignEmbedFailed},
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
			Flags:       []string{page.FlagAlignEmbed},
		})
		if cfg.ShareBoundaries {
			p = bestQ
		} else {
			p = bestQ + 1
		}
	}
	return spans, nil
}
