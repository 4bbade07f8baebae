package journal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/state"
	"github.com/lei/streams-build/pkg/logger"
)

const writeTimeout = 5 * time.Second

// Recorder writes dispatched actions to a Store from a background
// goroutine. Observe never blocks; entries are dropped when the buffer is
// full.
type Recorder struct {
	store *Store
	log   *logger.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
	dropped atomic.Int64

	// writeErr is the first failed write, owned by loop until done closes
	writeErr error
}

// NewRecorder starts a recorder with room for buffer pending entries
func NewRecorder(store *Store, log *logger.Logger, buffer int) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		store:   store,
		log:     log,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Observe has the signature of engine.Observer
func (r *Recorder) Observe(a action.Action, s state.State) {
	payload, err := json.Marshal(a)
	if err != nil {
		r.log.Warn("journal: failed to encode action", "kind", a.Kind(), "error", err)
		payload = nil
	}
	e := Entry{
		ID:         uuid.NewString(),
		Kind:       string(a.Kind()),
		Payload:    payload,
		Version:    s.Version,
		RecordedAt: time.Now(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Warn("journal: buffer full, dropping entries", "dropped", n)
		}
	}
}

// Dropped reports how many entries were discarded on a full buffer
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.Append(ctx, e); err != nil {
			r.log.Error("journal: write failed", "kind", e.Kind, "error", err)
			if r.writeErr == nil {
				r.writeErr = err
			}
		}
		cancel()
	}
}

// Close flushes pending entries and closes the store
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	<-r.done
	if n := r.dropped.Load(); n > 0 {
		r.log.Warn("journal: entries dropped during session", "dropped", n)
	}
	return multierr.Combine(r.writeErr, r.store.Close())
}
