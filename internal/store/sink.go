package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// OpType is the kind of write carried by a WriteOp.
type OpType string

const (
	OpPut    OpType = "put"
	OpDelete OpType = "delete"
)

// WriteOp is one queued write. Put carries the document; Delete only
// needs the key.
type WriteOp struct {
	Collection string
	ID         string
	Document   any
	Op         OpType

	result chan<- WriteResult
}

// WriteResult reports the outcome of one write.
type WriteResult struct {
	ID  string
	Err error
}

// SinkConfig configures the write sink.
type SinkConfig struct {
	Store         Store
	BatchSize     int           // Flush after N ops (default: 100)
	FlushInterval time.Duration // Or after duration (default: 5s)
	Concurrency   int           // Parallel writers per flush (default: 4)
	QueueSize     int           // Buffer size (default: 1000)
	Logger        *slog.Logger
}

// Sink batches writes to the store so pipeline stages never block on
// disk. Session snapshots are fire-and-forget; page documents go
// through SendSync because the caller reports the persisted id.
type Sink struct {
	store  Store
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration
	concurrency   int

	queue   chan WriteOp
	batch   []WriteOp
	batchMu sync.Mutex
	flushCh chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSink creates a write sink over the store.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sink{
		store:         cfg.Store,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		concurrency:   cfg.Concurrency,
		queue:         make(chan WriteOp, cfg.QueueSize),
		batch:         make([]WriteOp, 0, cfg.BatchSize),
		flushCh:       make(chan struct{}, 1),
	}
}

// Start begins processing write operations.
func (s *Sink) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runBatcher()
}

// Stop drains the queue, flushes the remaining batch, and shuts down.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping write sink, flushing remaining operations")

		close(s.queue)
		s.wg.Wait()
		s.cancel()

		s.logger.Info("write sink stopped")
	})
}

// Send queues a write without waiting for the result. Ops sent after
// Stop are dropped with a log line.
func (s *Sink) Send(op WriteOp) {
	op.result = nil

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("write sink closed, dropping op",
				"collection", op.Collection,
				"id", op.ID,
				"op", op.Op)
		}
	}()

	select {
	case s.queue <- op:
	default:
		select {
		case s.queue <- op:
		case <-s.ctx.Done():
			s.logger.Warn("write sink closed, dropping op",
				"collection", op.Collection,
				"id", op.ID,
				"op", op.Op)
		}
	}
}

// SendSync queues a write and waits for its result.
func (s *Sink) SendSync(ctx context.Context, op WriteOp) (WriteResult, error) {
	resultCh := make(chan WriteResult, 1)
	op.result = resultCh

	select {
	case s.queue <- op:
	case <-s.ctx.Done():
		return WriteResult{}, fmt.Errorf("write sink closed")
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result, result.Err
	case <-s.ctx.Done():
		return WriteResult{}, fmt.Errorf("write sink closed while waiting for result")
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}
}

// Flush asks the batcher to flush the current batch now.
func (s *Sink) Flush(ctx context.Context) error {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
	return nil
}

func (s *Sink) runBatcher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				s.flushBatch()
				return
			}
			s.addToBatch(op)

		case <-ticker.C:
			s.flushBatch()

		case <-s.flushCh:
			s.flushBatch()
		}
	}
}

func (s *Sink) addToBatch(op WriteOp) {
	s.batchMu.Lock()
	s.batch = append(s.batch, op)
	// Sync ops flush right away so the caller is not parked for a full
	// flush interval.
	shouldFlush := len(s.batch) >= s.batchSize || op.result != nil
	s.batchMu.Unlock()

	if shouldFlush {
		s.flushBatch()
	}
}

// flushBatch drains the current batch through sharded workers. Ops are
// bucketed by key, so writes to distinct documents land in parallel
// while successive snapshots of the same document keep queue order.
func (s *Sink) flushBatch() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	ops := s.batch
	s.batch = make([]WriteOp, 0, s.batchSize)
	s.batchMu.Unlock()

	s.logger.Debug("flushing write batch", "count", len(ops))

	shards := make([][]WriteOp, s.concurrency)
	for _, op := range ops {
		i := int(hashString(op.Collection+"/"+op.ID)) % s.concurrency
		if i < 0 {
			i += s.concurrency
		}
		shards[i] = append(shards[i], op)
	}

	var wg sync.WaitGroup
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard []WriteOp) {
			defer wg.Done()
			for _, op := range shard {
				s.process(op)
			}
		}(shard)
	}
	wg.Wait()
}

func (s *Sink) process(op WriteOp) {
	var err error
	switch op.Op {
	case OpPut:
		err = s.store.Put(s.ctx, op.Collection, op.ID, op.Document)
	case OpDelete:
		err = s.store.Delete(s.ctx, op.Collection, op.ID)
	default:
		err = fmt.Errorf("unknown op type %q", op.Op)
	}

	if err != nil {
		s.logger.Error("write failed",
			"collection", op.Collection,
			"id", op.ID,
			"op", op.Op,
			"error", err)
	}

	if op.result != nil {
		op.result <- WriteResult{ID: op.ID, Err: err}
		close(op.result)
	}
}
