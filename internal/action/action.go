// Package action defines the closed set of events that flow through the engine.
package action

import "encoding/json"

// Kind identifies an action type
type Kind string

// Action is an immutable event record. Implementations are plain value structs.
type Action interface {
	Kind() Kind
}

// Gated is implemented by actions that must wait for instance authentication.
// The engine's auth gate queues them while no instance token is present.
type Gated interface {
	Action
	RequiresAuth() bool
}

// IsGated reports whether a must wait for instance authentication
func IsGated(a Action) bool {
	g, ok := a.(Gated)
	return ok && g.RequiresAuth()
}

const (
	KindError     Kind = "ERROR"
	KindPostError Kind = "POST_ERROR"
)

// Error reports a failed workflow activation
type Error struct {
	Source Action
	Err    error
}

func (Error) Kind() Kind { return KindError }

// SourceKind returns the kind of the action whose workflow failed
func (e Error) SourceKind() Kind {
	if e.Source == nil {
		return ""
	}
	return e.Source.Kind()
}

// Message returns the error text, or an empty string when no error is attached
func (e Error) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Source     Action `json:"source,omitempty"`
		SourceKind Kind   `json:"source_kind"`
		Message    string `json:"message"`
	}{e.Source, e.SourceKind(), e.Message()})
}

// PostError is emitted once an error has been presented
type PostError struct {
	SourceKind Kind `json:"source_kind"`
}

func (PostError) Kind() Kind { return KindPostError }
