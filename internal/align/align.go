// Package align maps canonical stream segments onto contiguous page line
// ranges. The main text can be aligned lexically or by embedding
// similarity; commentary blocks are matched at span granularity.
package align

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/providers"
)

// Config tunes segment alignment.
type Config struct {
	// LexicalWindow caps how many lines ahead of the cursor a lexical
	// match may extend.
	LexicalWindow int

	// LexicalMinScore rejects lexical matches under it.
	LexicalMinScore float64

	// EmbedWindow caps the look-ahead for embedding alignment.
	EmbedWindow int

	// EmbedMinScore rejects embedding matches under it.
	EmbedMinScore float64

	// EmbedMainStream switches the main stream to embedding alignment.
	// Other streams always align lexically.
	EmbedMainStream bool

	// ShareBoundaries lets a successful span's end line double as the next
	// segment's start line, for layouts where one physical line carries
	// the tail of one segment and the head of the next. Off, the cursor
	// moves past the matched range.
	ShareBoundaries bool
}

// DefaultConfig returns the standard alignment configuration.
func DefaultConfig() Config {
	return Config{
		LexicalWindow:   10,
		LexicalMinScore: 0.20,
		EmbedWindow:     15,
		EmbedMinScore:   0.30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LexicalWindow <= 0 {
		c.LexicalWindow = d.LexicalWindow
	}
	if c.LexicalMinScore <= 0 {
		c.LexicalMinScore = d.LexicalMinScore
	}
	if c.EmbedWindow <= 0 {
		c.EmbedWindow = d.EmbedWindow
	}
	if c.EmbedMinScore <= 0 {
		c.EmbedMinScore = d.EmbedMinScore
	}
	return c
}

// Segments aligns every stream that owns assigned blocks and replaces the
// state's spans with the result, in stream order. Streams without an
// assigned block produce no spans. The embedder is only consulted when
// EmbedMainStream is set; configuring that without a registered embedder
// is an error.
func Segments(ctx context.Context, embedder providers.Embedder, st *page.State, cfg Config) error {
	cfg = cfg.withDefaults()
	mainID := st.MainStreamID()

	spans := make([]*page.SegmentSpan, 0)
	for _, stream := range st.Streams {
		lineIDs := streamLineIDs(st, stream.ID)
		if len(lineIDs) == 0 {
			continue
		}
		if cfg.EmbedMainStream && stream.ID == mainID {
			if embedder == nil {
				return fmt.Errorf("embedding alignment configured but no embedder registered")
			}
			out, err := Embeddings(ctx, embedder, st, stream, lineIDs, cfg)
			if err != nil {
				return fmt.Errorf("align stream %s: %w", stream.ID, err)
			}
			spans = append(spans, out...)
			continue
		}
		spans = append(spans, Lexical(st, stream, lineIDs, cfg)...)
	}

	st.Spans = spans
	return nil
}

// streamLineIDs collects the line ids of every block assigned to the
// stream, blocks in reading order.
func streamLineIDs(st *page.State, streamID string) []string {
	var ids []string
	for _, blk := range st.OrderedBlocks() {
		if blk.StreamID != streamID {
			continue
		}
		ids = append(ids, blk.LineIDs...)
	}
	return ids
}

// orderedUnique drops duplicates and dangling ids, then sorts the rest by
// reading order with the id as tie-break.
func orderedUnique(st *page.State, ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := st.Lines[id]; ok {
			out = append(out, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := st.Lines[out[i]].OrderHint, st.Lines[out[j]].OrderHint
		if hi != hj {
			return hi < hj
		}
		return out[i] < out[j]
	})
	return out
}
