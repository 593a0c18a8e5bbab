// Package session tracks one annotation run per record: its inputs, the
// evolving pipeline state, and the review/finalize lifecycle.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/dafmap/internal/page"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusNeedsReview Status = "needs_review"
	StatusFinalized   Status = "finalized"
	StatusFailed      Status = "failed"
)

// StageProgress records one completed pipeline stage.
type StageProgress struct {
	Stage       string    `json:"stage"`
	CompletedAt time.Time `json:"completed_at"`
}

// Record is the stored session document.
type Record struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Ref         string          `json:"ref"`
	PDF         string          `json:"pdf"`
	PageIndex   int             `json:"page_index"`
	Strategy    string          `json:"strategy,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Progress    []StageProgress `json:"progress,omitempty"`
	State       *page.State     `json:"state,omitempty"`
	PageDocID   string          `json:"page_doc_id,omitempty"`
}

// Summary is the listing view of a record, without the heavy state.
type Summary struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	Ref              string    `json:"ref"`
	PageIndex        int       `json:"page_index"`
	CreatedAt        time.Time `json:"created_at"`
	NeedsHumanReview bool      `json:"needs_human_review"`
	Error            string    `json:"error,omitempty"`
}

// Summarize projects the record into its listing view.
func (r *Record) Summarize() Summary {
	s := Summary{
		ID:        r.ID,
		Status:    r.Status,
		Ref:       r.Ref,
		PageIndex: r.PageIndex,
		CreatedAt: r.CreatedAt,
		Error:     r.Error,
	}
	if r.State != nil {
		s.NeedsHumanReview = r.State.NeedsHumanReview
	}
	return s
}

// NewRecord creates a queued session for the given inputs.
func NewRecord(ref, pdf string, pageIndex int, strategy string) *Record {
	return &Record{
		ID:        NewID(),
		Status:    StatusQueued,
		Ref:       ref,
		PDF:       pdf,
		PageIndex: pageIndex,
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}
}

// NewID returns a fresh session id: a UUID as 32 hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// CutOverride pins one span's boundary cut to a reviewer-chosen x.
type CutOverride struct {
	StreamID string `json:"stream_id"`
	SegRef   string `json:"seg_ref"`
	EndCutX  int    `json:"end_cut_x"`
}

// Fixes carries human corrections applied to a paused session.
type Fixes struct {
	BlockAssignments map[string]string `json:"block_assignments,omitempty"`
	CutOverrides     []CutOverride     `json:"cut_overrides,omitempty"`
}

// Empty reports whether the fixes carry no corrections.
func (f Fixes) Empty() bool {
	return len(f.BlockAssignments) == 0 && len(f.CutOverrides) == 0
}
