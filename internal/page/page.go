// Package page defines the run state shared by every pipeline stage: the
// block/line layout hierarchy, canonical text streams, segment spans, and
// the aggregate State one run owns end to end.
package page

import (
	"sort"

	"github.com/jackzampolin/dafmap/internal/geom"
)

// Script is the typeface classification of a block. The zero value means
// the block has not been classified yet.
type Script string

const (
	// ScriptMain is the square main-body typeface.
	ScriptMain Script = "main"
	// ScriptCommentary is the semi-cursive commentary (Rashi) typeface.
	ScriptCommentary Script = "commentary"
)

// Valid reports whether s is one of the two closed classifications.
func (s Script) Valid() bool {
	return s == ScriptMain || s == ScriptCommentary
}

// Diagnostic flags attached to individual spans.
const (
	FlagAlignFailed      = "align_failed"
	FlagAlignEmbed       = "align_embed"
	FlagAlignEmbedFailed = "align_embed_failed"
	FlagCommentaryEmbed  = "commentary_embed"
	FlagCutOK            = "cut_ok"
	FlagCutFailed        = "cut_failed"
	FlagMissingStream    = "missing_stream"
	FlagMissingSegRef    = "missing_seg_ref"
	FlagNoLastWord       = "no_last_word"
	FlagMissingEndLine   = "missing_end_line"
)

// Run-level validation flags aggregated by the gate.
const (
	ValidationUnknownBlocks = "unknown_blocks"
	ValidationCutFailures   = "boundary_cut_failures"
	ValidationAlignFailures = "align_failures"
)

// Line is one OCR-detected text line on the page. ScriptSplitter replaces
// commentary lines with synthetic sub-segment lines carrying derived ids.
type Line struct {
	ID        string    `json:"line_id"`
	BlockID   string    `json:"block_id"`
	BBox      geom.BBox `json:"bbox"`
	OrderHint float64   `json:"order_hint"`
	// Text is the recognized text consumed by assignment and alignment,
	// written by whichever recognition stage ran last.
	Text string `json:"text,omitempty"`
	// WeakText is the raw text from the layout OCR pass, kept as a backup.
	WeakText string `json:"weak_text,omitempty"`
	// RashiText is the commentary-model recognition result, when available.
	RashiText string  `json:"rashi_text,omitempty"`
	Conf      float64 `json:"conf,omitempty"`
	IsSpanEnd bool    `json:"is_span_end,omitempty"`
}

// Block is a spatial cluster of lines, roughly one column or paragraph.
type Block struct {
	ID      string    `json:"block_id"`
	BBox    geom.BBox `json:"bbox"`
	LineIDs []string  `json:"line_ids"`
	Script  Script    `json:"script,omitempty"`
	// StreamID is the assigned stream, empty while unassigned.
	StreamID    string  `json:"assigned_stream_id,omitempty"`
	AssignScore float64 `json:"assign_score"`
}

// Stream is one canonical text source: the main text or a single
// commentary. Immutable once fetched. SegRefs and SegTexts are
// index-aligned.
type Stream struct {
	ID       string   `json:"stream_id"`
	Title    string   `json:"title"`
	Lang     string   `json:"lang"`
	SegRefs  []string `json:"seg_refs"`
	SegTexts []string `json:"seg_texts"`
}

// SegmentSpan maps one canonical segment onto a contiguous line range.
type SegmentSpan struct {
	StreamID    string `json:"stream_id"`
	SegRef      string `json:"seg_ref"`
	StartLineID string `json:"start_line_id"`
	EndLineID   string `json:"end_line_id"`
	// EndCutX refines the end line's right edge; nil until the cut
	// refiner or a human override sets it.
	EndCutX *int     `json:"end_cut_x,omitempty"`
	Score   float64  `json:"score"`
	Flags   []string `json:"flags"`
}

// HasFlag reports whether the span carries the given diagnostic flag.
func (s *SegmentSpan) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends the flag unless already present.
func (s *SegmentSpan) AddFlag(flag string) {
	if !s.HasFlag(flag) {
		s.Flags = append(s.Flags, flag)
	}
}

// CutFailure identifies a span whose boundary cut could not be refined.
type CutFailure struct {
	StreamID string `json:"stream_id"`
	SegRef   string `json:"seg_ref"`
}

// State is the aggregate owned by exactly one pipeline run. Stages mutate
// it in sequence; there is no concurrent access.
type State struct {
	SessionID string `json:"session_id"`
	PDF       string `json:"pdf"`
	PageIndex int    `json:"page_index"`
	RefRange  string `json:"ref_range"`

	PageImage []byte `json:"page_image,omitempty"`
	PageW     int    `json:"page_w,omitempty"`
	PageH     int    `json:"page_h,omitempty"`

	Blocks  map[string]*Block `json:"blocks,omitempty"`
	Lines   map[string]*Line  `json:"lines,omitempty"`
	Streams []*Stream         `json:"streams,omitempty"`
	Spans   []*SegmentSpan    `json:"spans,omitempty"`

	UnknownBlockIDs     []string     `json:"unknown_block_ids,omitempty"`
	UnassignedStreamIDs []string     `json:"unassigned_stream_ids,omitempty"`
	CutFailures         []CutFailure `json:"cut_failures,omitempty"`

	ValidationFlags  []string `json:"validation_flags,omitempty"`
	NeedsHumanReview bool     `json:"needs_human_review"`
	PersistedPageID  string   `json:"persisted_page_id,omitempty"`
}

// NewState returns a fresh run state for one page.
func NewState(sessionID, pdf string, pageIndex int, refRange string) *State {
	return &State{
		SessionID: sessionID,
		PDF:       pdf,
		PageIndex: pageIndex,
		RefRange:  refRange,
		Blocks:    make(map[string]*Block),
		Lines:     make(map[string]*Line),
	}
}

// StreamByID returns the stream with the given id, or nil.
func (s *State) StreamByID(id string) *Stream {
	for _, st := range s.Streams {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// MainStreamID returns the id of the first (main) stream, or "s0" when no
// streams were fetched.
func (s *State) MainStreamID() string {
	if len(s.Streams) > 0 {
		return s.Streams[0].ID
	}
	return "s0"
}

// OrderedBlocks returns all blocks in reading order, ids as the tie-break,
// so map iteration never leaks into stage output.
func (s *State) OrderedBlocks() []*Block {
	out := make([]*Block, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := geom.OrderHint(out[i].BBox), geom.OrderHint(out[j].BBox)
		if hi != hj {
			return hi < hj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OrderedLineIDs sorts the given line ids by reading order, dropping ids
// that no longer resolve to a line.
func (s *State) OrderedLineIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.Lines[id]; ok {
			out = append(out, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.Lines[out[i]].OrderHint < s.Lines[out[j]].OrderHint
	})
	return out
}

// AllLineIDsInOrder returns every line id on the page in reading order.
func (s *State) AllLineIDsInOrder() []string {
	ids := make([]string, 0, len(s.Lines))
	for id := range s.Lines {
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return s.Lines[ids[i]].OrderHint < s.Lines[ids[j]].OrderHint
	})
	return ids
}
