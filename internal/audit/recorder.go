package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes command outcomes to a Repository in the background so
// the command path never waits on the database. It implements
// engine.Observer; state changes and ticks are ignored.
//
// When the queue is full new outcomes are dropped and counted.
type Recorder struct {
	repo    Repository
	queue   chan engine.Outcome
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	logger Logger
}

// NewRecorder starts a recorder with the given queue size (0 selects the
// default). Close must be called to flush pending entries.
func NewRecorder(repo Repository, queueSize int, logger Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	r := &Recorder{
		repo:   repo,
		queue:  make(chan engine.Outcome, queueSize),
		logger: logger,
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// CommandCompleted queues o for insertion.
func (r *Recorder) CommandCompleted(o engine.Outcome) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- o:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("command log queue full, dropping entries", "id", o.ID)
		}
	}
}

// StateChanged implements engine.Observer.
func (r *Recorder) StateChanged(int, vcp.Feature, string, uint16) {}

// TickCompleted implements engine.Observer.
func (r *Recorder) TickCompleted(engine.TickResult) {}

// Dropped returns how many outcomes were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting outcomes and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for o := range r.queue {
		e := EntryFromOutcome(o)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Create(ctx, &e); err != nil {
			r.logger.Error("failed to record command", "id", o.ID, "error", err)
		}
		cancel()
	}
}

var _ engine.Observer = (*Recorder)(nil)
