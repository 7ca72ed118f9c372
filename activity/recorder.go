// Package activity records audit-trail entries without blocking the caller.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bluetry/models"
	"bluetry/utils"
)

// Sink persists one activity entry.
type Sink interface {
	InsertActivity(ctx context.Context, a *models.Activity) error
}

// Recorder queues activity writes for a single background worker. Record
// never blocks: a full queue drops the entry with a warning, and write
// failures are logged and swallowed.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	queue  chan *models.Activity
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	// inflight counts entries accepted but not yet written. Flush waits on
	// idle until it reaches zero, so Record may run concurrently with Flush.
	countMu  sync.Mutex
	idle     *sync.Cond
	inflight int
}

// NewRecorder starts the worker.
func NewRecorder(sink Sink, logger *slog.Logger, size int) *Recorder {
	r := &Recorder{
		sink:   sink,
		logger: logger.With("component", "activity"),
		queue:  make(chan *models.Activity, size),
		done:   make(chan struct{}),
	}
	r.idle = sync.NewCond(&r.countMu)
	go r.run()
	return r
}

// Record enqueues an entry. poemID may be empty.
func (r *Recorder) Record(typ models.ActivityType, userID, poemID string, metadata map[string]string) {
	a := &models.Activity{
		Type:      typ,
		UserID:    userID,
		Metadata:  metadata,
		Timestamp: utils.GetSQLTime(),
	}
	if poemID != "" {
		a.PoemID = &poemID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("Activity recorder closed, dropping entry", "type", typ)
		return
	}
	r.countMu.Lock()
	r.inflight++
	r.countMu.Unlock()
	select {
	case r.queue <- a:
	default:
		r.settle()
		r.logger.Warn("Activity queue full, dropping entry", "type", typ)
	}
}

// Flush blocks until every entry accepted so far has been written or
// dropped. Entries recorded while Flush waits are waited for as well.
func (r *Recorder) Flush() {
	r.countMu.Lock()
	for r.inflight > 0 {
		r.idle.Wait()
	}
	r.countMu.Unlock()
}

func (r *Recorder) settle() {
	r.countMu.Lock()
	r.inflight--
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.countMu.Unlock()
}

// Close stops accepting entries, drains the queue and stops the worker.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for a := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.InsertActivity(ctx, a); err != nil {
			r.logger.Warn("Failed to record activity", "type", a.Type, "error", err)
		}
		cancel()
		r.settle()
	}
}
