// Package loadstate models the latest outcome of an asynchronous fetch:
// Pending, Ready with a value, or Failed with an error.
package loadstate

// Status identifies which variant of a State is active.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a tri-state container. The zero value is Pending.
// Exactly one variant is active; transitions replace the whole value.
type State[T any] struct {
	status Status
	value  T
	err    error
}

// Pending returns a State with no value.
func Pending[T any]() State[T] {
	return State[T]{status: StatusPending}
}

// Ready returns a State holding v.
func Ready[T any](v T) State[T] {
	return State[T]{status: StatusReady, value: v}
}

// Failed returns a State holding err.
func Failed[T any](err error) State[T] {
	return State[T]{status: StatusFailed, err: err}
}

func (s State[T]) Status() Status  { return s.status }
func (s State[T]) IsPending() bool { return s.status == StatusPending }
func (s State[T]) IsReady() bool   { return s.status == StatusReady }
func (s State[T]) IsFailed() bool  { return s.status == StatusFailed }

// Value returns the payload and true when Ready.
func (s State[T]) Value() (T, bool) {
	if s.status != StatusReady {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Err returns the failure, or nil unless Failed.
func (s State[T]) Err() error {
	if s.status != StatusFailed {
		return nil
	}
	return s.err
}

// Update applies fn to the payload in place. It is a no-op returning false
// when the state is Pending or Failed; no default payload is ever created.
func (s *State[T]) Update(fn func(v *T)) bool {
	if s.status != StatusReady {
		return false
	}
	fn(&s.value)
	return true
}
