package app

import (
	"slices"

	"github.com/optimeist/optimeist/internal/events"
	"github.com/optimeist/optimeist/internal/fanout"
	"github.com/optimeist/optimeist/internal/install"
	"github.com/optimeist/optimeist/internal/loadstate"
)

// Snapshot is an immutable copy of the app state for rendering.
type Snapshot struct {
	View      events.View
	Status    loadstate.Status
	Functions []install.Function
	Err       error
	Cursor    int
	SelectAll bool

	// Progress is nil until the active batch has started.
	Progress *fanout.Progress
	Failed   int
	Joined   bool
	Ticks    int
}

// Snapshot copies the current state. Only call it from the consumer goroutine.
func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		View:      a.view,
		Status:    a.functions.Status(),
		Err:       a.functions.Err(),
		Cursor:    a.cursor,
		SelectAll: a.selectAll,
		Failed:    a.failed,
		Joined:    a.joined,
		Ticks:     a.ticks,
	}
	if fns, ok := a.functions.Value(); ok {
		s.Functions = slices.Clone(fns)
	}
	if a.progress != nil {
		p := *a.progress
		s.Progress = &p
	}
	return s
}

// SelectedCount returns how many functions are selected.
func (s Snapshot) SelectedCount() int {
	n := 0
	for _, fn := range s.Functions {
		if fn.Selected {
			n++
		}
	}
	return n
}

// BatchDone reports whether the active batch has finished every unit.
func (s Snapshot) BatchDone() bool {
	return s.Progress != nil && s.Progress.Done()
}
