package align

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/textsim"
)

// Span is a contiguous run of commentary lines with their joined text,
// cut from a block at its span-end markers.
type Span struct {
	StartLineID string
	EndLineID   string
	Text        string
}

// CommentarySpans walks every commentary block in reading order and cuts
// its lines into spans: each span runs from the line after the previous
// span's end through the next span-end line, and the block's last line
// always closes the final span.
func CommentarySpans(st *page.State) []Span {
	var out []Span
	for _, blk := range st.OrderedBlocks() {
		if blk.Script != page.ScriptCommentary {
			continue
		}
		ordered := st.OrderedLineIDs(blk.LineIDs)
		if len(ordered) == 0 {
			continue
		}
		start := 0
		for i, lid := range ordered {
			if !st.Lines[lid].IsSpanEnd && i != len(ordered)-1 {
				continue
			}
			parts := make([]string, 0, i+1-start)
			for _, id := range ordered[start : i+1] {
				parts = append(parts, strings.TrimSpace(st.Lines[id].Text))
			}
			out = append(out, Span{
				StartLineID: ordered[start],
				EndLineID:   lid,
				Text:        strings.TrimSpace(strings.Join(parts, " ")),
			})
			start = i + 1
		}
	}
	return out
}

// MatchCommentary pairs every span with the commentary segment whose
// embedding it most resembles, across all streams except the main one.
// Every span gets a match, with no score floor, flagged commentary_embed.
// Ties go to the earlier segment. With no spans or no commentary segments
// the result is empty and the embedder is never consulted.
func MatchCommentary(ctx context.Context, embedder providers.Embedder, st *page.State, spans []Span) ([]*page.SegmentSpan, error) {
	mainID := st.MainStreamID()

	type segTriple struct {
		streamID string
		ref      string
		text     string
	}
	var segs []segTriple
	for _, stream := range st.Streams {
		if stream.ID == mainID {
			continue
		}
		n := min(len(stream.SegRefs), len(stream.SegTexts))
		for i := 0; i < n; i++ {
			segs = append(segs, segTriple{stream.ID, stream.SegRefs[i], strings.TrimSpace(stream.SegTexts[i])})
		}
	}
	if len(segs) == 0 || len(spans) == 0 {
		return nil, nil
	}
	if embedder == nil {
		return nil, fmt.Errorf("commentary matching requires an embedder, none registered")
	}

	spanTexts := make([]string, len(spans))
	for i, s := range spans {
		spanTexts[i] = s.Text
	}
	segTexts := make([]string, len(segs))
	for i, s := range segs {
		segTexts[i] = s.text
	}

	spanEmb, err := embedder.Embed(ctx, spanTexts)
	if err != nil {
		return nil, fmt.Errorf("embed commentary spans: %w", err)
	}
	segEmb, err := embedder.Embed(ctx, segTexts)
	if err != nil {
		return nil, fmt.Errorf("embed commentary segments: %w", err)
	}

	result := make([]*page.SegmentSpan, 0, len(spans))
	for i, span := range spans {
		bestJ, bestScore := -1, -1.0
		for j := range segs {
			sc := textsim.Cosine(spanEmb[i], segEmb[j])
			if sc > bestScore {
				bestJ, bestScore = j, sc
			}
		}
		if bestJ < 0 {
			continue
		}
		result = append(result, &page.SegmentSpan{
			StreamID:    segs[bestJ].streamID,
			SegRef:      segs[bestJ].ref,
			StartLineID: span.StartLineID,
			EndLineID:   span.EndLineID,
			Score:       bestScore,
			Flags:       []string{page.FlagCommentaryEmbed},
		})
	}
	return result, nil
}

// MatchCommentaryBlocks extracts commentary spans from the state's blocks,
// matches them against the commentary streams, and appends the results to
// the state's spans.
func MatchCommentaryBlocks(ctx context.Context, embedder providers.Embedder, st *page.State) error {
	matched, err := MatchCommentary(ctx, embedder, st, CommentarySpans(st))
	if err != nil {
		return err
	}
	st.Spans = append(st.Spans, matched...)
	return nil
}
