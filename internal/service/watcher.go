package service

import (
	"context"
	"sync"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/state"
)

// Match selects the action an intent waits for
type Match func(a action.Action) bool

// Watcher forwards dispatched actions to callers waiting for them. Its
// Observe method is registered as an engine observer.
type Watcher struct {
	mu      sync.Mutex
	next    int
	waiters map[int]*waiter
}

type waiter struct {
	match Match
	ch    chan action.Action
}

// NewWatcher creates a watcher with no waiters
func NewWatcher() *Watcher {
	return &Watcher{waiters: make(map[int]*waiter)}
}

// Observe has the signature of engine.Observer. Each waiter receives the
// first matching action only.
func (w *Watcher) Observe(a action.Action, _ state.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, wt := range w.waiters {
		if wt.match(a) {
			wt.ch <- a
			delete(w.waiters, id)
		}
	}
}

func (w *Watcher) subscribe(m Match) (<-chan action.Action, func()) {
	ch := make(chan action.Action, 1)
	w.mu.Lock()
	id := w.next
	w.next++
	w.waiters[id] = &waiter{match: m, ch: ch}
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		delete(w.waiters, id)
		w.mu.Unlock()
	}
}

// Await dispatches actions and blocks until an action matching m is
// observed. The waiter is registered before dispatching.
func (w *Watcher) Await(ctx context.Context, d Dispatcher, m Match, actions ...action.Action) (action.Action, error) {
	ch, cancel := w.subscribe(m)
	defer cancel()

	d.Dispatch(actions...)

	select {
	case a := <-ch:
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// KindIs matches any action of the given kinds
func KindIs(kinds ...action.Kind) Match {
	return func(a action.Action) bool {
		for _, k := range kinds {
			if a.Kind() == k {
				return true
			}
		}
		return false
	}
}

// FailedFrom matches an ERROR raised by a workflow of one of the kinds
func FailedFrom(kinds ...action.Kind) Match {
	return func(a action.Action) bool {
		e, ok := a.(action.Error)
		if !ok {
			return false
		}
		for _, k := range kinds {
			if e.SourceKind() == k {
				return true
			}
		}
		return false
	}
}

// FailedFor matches an ERROR raised by the workflow that handled source.
// Sources are compared by value.
func FailedFor(source action.Action) Match {
	return func(a action.Action) bool {
		e, ok := a.(action.Error)
		return ok && e.Source == source
	}
}

// Queued matches the action parking an intent of kind k
func Queued(k action.Kind) Match {
	return func(a action.Action) bool {
		q, ok := a.(action.QueueAction)
		return ok && q.Queued != nil && q.Queued.Kind() == k
	}
}

// QueuedIntent matches the action parking intent itself
func QueuedIntent(intent action.Action) Match {
	return func(a action.Action) bool {
		q, ok := a.(action.QueueAction)
		return ok && q.Queued == intent
	}
}

// Any matches when one of ms matches
func Any(ms ...Match) Match {
	return func(a action.Action) bool {
		for _, m := range ms {
			if m(a) {
				return true
			}
		}
		return false
	}
}
