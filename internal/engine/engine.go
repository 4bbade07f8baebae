// Package engine runs workflows against a single action stream.
//
// Actions are dispatched into an unbounded FIFO queue drained by one
// goroutine. For each action the engine applies middleware, reduces the
// state, notifies observers and then starts every workflow registered for
// the action's kind in its own goroutine with the post-reduction snapshot.
// Workflow failures are turned into action.Error and re-dispatched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/state"
	"github.com/lei/streams-build/pkg/logger"
)

// Emitter is handed to running workflows
type Emitter interface {
	// Emit enqueues actions as one batch; no other action is interleaved.
	Emit(actions ...action.Action)
	// State returns the latest state, for steps that run after an await.
	State() state.State
}

// Handler performs the work of one workflow activation. s is the snapshot
// taken right after the triggering action was reduced.
type Handler func(ctx context.Context, a action.Action, s state.State, e Emitter) error

// Workflow binds a handler to the action kinds it reacts to
type Workflow struct {
	Name  string
	Kinds []action.Kind
	Run   Handler
}

// Middleware may rewrite an action before it is reduced. Returning nil drops it.
type Middleware func(s state.State, a action.Action) action.Action

// Observer is called synchronously after every reduction
type Observer func(a action.Action, s state.State)

// Option configures an Engine
type Option func(*Engine)

// WithState sets the state the engine starts from
func WithState(s state.State) Option {
	return func(e *Engine) {
		e.state = s
	}
}

// Engine is the action dispatcher
type Engine struct {
	log *logger.Logger

	mu     sync.Mutex
	queue  []action.Action
	signal chan struct{}

	stateMu sync.RWMutex
	state   state.State

	workflows  map[action.Kind][]Workflow
	middleware []Middleware
	observers  []Observer

	wg sync.WaitGroup
}

// New creates an engine with the initial state
func New(log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Engine{
		log:       log,
		signal:    make(chan struct{}, 1),
		state:     state.Initial(),
		workflows: make(map[action.Kind][]Workflow),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds workflows. It must be called before Run.
func (e *Engine) Register(workflows ...Workflow) {
	for _, w := range workflows {
		for _, k := range w.Kinds {
			e.workflows[k] = append(e.workflows[k], w)
		}
	}
}

// Use appends middleware. It must be called before Run.
func (e *Engine) Use(m ...Middleware) {
	e.middleware = append(e.middleware, m...)
}

// Observe adds an observer. It must be called before Run.
func (e *Engine) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

// Dispatch enqueues actions in order as one batch
func (e *Engine) Dispatch(actions ...action.Action) {
	if len(actions) == 0 {
		return
	}
	e.mu.Lock()
	for _, a := range actions {
		if a != nil {
			e.queue = append(e.queue, a)
		}
	}
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// State returns the current state snapshot
func (e *Engine) State() state.State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Run drains the queue until ctx is done, then waits for running workflows
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine: started", "workflows", len(e.workflows))
	for {
		for {
			a, ok := e.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				break
			}
			e.process(ctx, a)
		}

		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.log.Info("engine: stopped")
			return nil
		case <-e.signal:
		}
	}
}

func (e *Engine) next() (action.Action, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	a := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return a, true
}

func (e *Engine) process(ctx context.Context, a action.Action) {
	cur := e.State()
	for _, m := range e.middleware {
		if a = m(cur, a); a == nil {
			return
		}
	}

	next := state.Reduce(cur, a)
	e.stateMu.Lock()
	e.state = next
	e.stateMu.Unlock()

	e.log.Debug("engine: dispatched", "kind", a.Kind(), "version", next.Version)

	for _, o := range e.observers {
		o(a, next)
	}

	for _, w := range e.workflows[a.Kind()] {
		e.wg.Add(1)
		go e.run(ctx, w, a, next)
	}
}

func (e *Engine) run(ctx context.Context, w Workflow, a action.Action, s state.State) {
	defer e.wg.Done()

	err := e.invoke(ctx, w, a, s)
	if err == nil {
		return
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		e.log.Debug("engine: workflow interrupted by shutdown", "workflow", w.Name)
		return
	}
	if a.Kind() == action.KindError {
		e.log.Error("engine: error workflow failed", "workflow", w.Name, "error", err)
		return
	}
	e.log.Warn("engine: workflow failed", "workflow", w.Name, "kind", a.Kind(), "error", err)
	e.Dispatch(action.Error{Source: a, Err: err})
}

func (e *Engine) invoke(ctx context.Context, w Workflow, a action.Action, s state.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow %s panicked: %v", w.Name, r)
		}
	}()
	return w.Run(ctx, a, s, emitter{e})
}

type emitter struct {
	e *Engine
}

func (em emitter) Emit(actions ...action.Action) { em.e.Dispatch(actions...) }
func (em emitter) State() state.State            { return em.e.State() }

// AuthGate parks gated actions in the queued-action slot while no instance
// token is present. A later gated action replaces the parked one.
func AuthGate(s state.State, a action.Action) action.Action {
	if action.IsGated(a) && !state.HasAuthenticatedInstance(s) {
		return action.QueueAction{Queued: a}
	}
	return a
}
