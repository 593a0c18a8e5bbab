package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/store"
)

var (
	// ErrNoState marks a session whose run never produced page state.
	ErrNoState = errors.New("session has no page state")
	// ErrAlreadyFinalized marks a second finalize of the same session.
	ErrAlreadyFinalized = errors.New("session already finalized")
	// ErrSessionFailed marks an operation on a failed session.
	ErrSessionFailed = errors.New("session failed")
)

// Manager handles session record CRUD against the store. Pipeline
// snapshots go through the write sink so stages never block on disk;
// lifecycle transitions write synchronously.
type Manager struct {
	store  store.Store
	sink   *store.Sink
	logger *slog.Logger

	// mu serializes read-modify-write operations on stored records.
	mu sync.Mutex
}

// NewManager creates a session manager. The sink is optional; without
// one, snapshots write synchronously.
func NewManager(st store.Store, sink *store.Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		sink:   sink,
		logger: logger,
	}
}

// Create persists a new queued session and returns it.
func (m *Manager) Create(ctx context.Context, ref, pdf string, pageIndex int, strategy string) (*Record, error) {
	rec := NewRecord(ref, pdf, pageIndex, strategy)
	if err := m.store.Put(ctx, store.CollectionSessions, rec.ID, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session created",
		"session", rec.ID,
		"ref", ref,
		"page_index", pageIndex)
	return rec, nil
}

// Get returns a session record by id.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := m.store.Get(ctx, store.CollectionSessions, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns summaries of all sessions, newest first.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	ids, err := m.store.List(ctx, store.CollectionSessions)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		rec, err := m.Get(ctx, id)
		if err != nil {
			m.logger.Warn("skipping unreadable session", "session", id, "error", err)
			continue
		}
		out = append(out, rec.Summarize())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Save writes the record synchronously. Used for lifecycle transitions
// that must be durable before the caller proceeds.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	return m.store.Put(ctx, store.CollectionSessions, rec.ID, rec)
}

// Snapshot queues an async write of the record's current state. Stage
// progress is best effort; the terminal Save makes the run durable.
func (m *Manager) Snapshot(rec *Record) {
	if m.sink == nil {
		if err := m.store.Put(context.Background(), store.CollectionSessions, rec.ID, rec); err != nil {
			m.logger.Warn("session snapshot failed", "session", rec.ID, "error", err)
		}
		return
	}
	m.sink.Send(store.WriteOp{
		Collection: store.CollectionSessions,
		ID:         rec.ID,
		Document:   rec,
		Op:         store.OpPut,
	})
}

// ApplyFixes applies reviewer corrections to a paused session: block
// reassignments, boundary cut overrides, then clears the review flags.
// The session stays in needs_review until finalized.
func (m *Manager) ApplyFixes(ctx context.Context, id string, fixes Fixes) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNoState)
	}
	st := rec.State

	for blockID, streamID := range fixes.BlockAssignments {
		b, ok := st.Blocks[blockID]
		if !ok {
			m.logger.Warn("fix references unknown block", "session", id, "block", blockID)
			continue
		}
		b.StreamID = streamID
	}

	for _, ov := range fixes.CutOverrides {
		cut := ov.EndCutX
		for _, sp := range st.Spans {
			if sp.StreamID != ov.StreamID || sp.SegRef != ov.SegRef {
				continue
			}
			x := cut
			sp.EndCutX = &x
			sp.AddFlag(page.FlagCutOK)
		}
	}

	st.NeedsHumanReview = false
	st.ValidationFlags = []string{}

	if err := m.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save fixed session: %w", err)
	}
	m.logger.Info("fixes applied",
		"session", id,
		"blocks", len(fixes.BlockAssignments),
		"cuts", len(fixes.CutOverrides))
	return rec, nil
}

// Finalize derives the page document from the session state, persists
// it keyed by page reference, and marks the session finalized. Returns
// the updated record and the persisted page id.
func (m *Manager) Finalize(ctx context.Context, id string) (*Record, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return m.finalizeLocked(ctx, rec)
}

// FinalizeRecord finalizes a record already held by the caller, used by
// the pipeline driver when a run passes the gate cleanly.
func (m *Manager) FinalizeRecord(ctx context.Context, rec *Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, pageID, err := m.finalizeLocked(ctx, rec)
	return pageID, err
}

func (m *Manager) finalizeLocked(ctx context.Context, rec *Record) (*Record, string, error) {
	if rec.Status == StatusFinalized {
		return nil, "", fmt.Errorf("session %s: %w", rec.ID, ErrAlreadyFinalized)
	}
	if rec.Status == StatusFailed {
		return nil, "", fmt.Errorf("session %s: %w", rec.ID, ErrSessionFailed)
	}
	if rec.State == nil {
		return nil, "", fmt.Errorf("session %s: %w", rec.ID, ErrNoState)
	}

	doc := page.BuildDoc(rec.State, time.Now().UTC())
	if err := m.putPage(ctx, doc); err != nil {
		return nil, "", fmt.Errorf("persist page %s: %w", doc.ID, err)
	}

	now := time.Now().UTC()
	rec.State.PersistedPageID = doc.ID
	rec.PageDocID = doc.ID
	rec.Status = StatusFinalized
	rec.CompletedAt = &now
	if err := m.Save(ctx, rec); err != nil {
		return nil, "", fmt.Errorf("save finalized session: %w", err)
	}

	m.logger.Info("session finalized",
		"session", rec.ID,
		"page", doc.ID,
		"bboxes", len(doc.BBoxes))
	return rec, doc.ID, nil
}

func (m *Manager) putPage(ctx context.Context, doc *page.Doc) error {
	if m.sink != nil {
		_, err := m.sink.SendSync(ctx, store.WriteOp{
			Collection: store.CollectionPages,
			ID:         doc.ID,
			Document:   doc,
			Op:         store.OpPut,
		})
		return err
	}
	return m.store.Put(ctx, store.CollectionPages, doc.ID, doc)
}

// GetPage returns a persisted page document by id.
func (m *Manager) GetPage(ctx context.Context, id string) (*page.Doc, error) {
	var doc page.Doc
	if err := m.store.Get(ctx, store.CollectionPages, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
