// Package events defines the messages that flow through the installer's
// dispatcher. Producers are the input reader, the tick source, the fetch
// task and the install units; the only consumer is the app run loop.
package events

import (
	"os"

	"github.com/optimeist/optimeist/internal/install"
)

// Event is the sealed set of dispatcher messages.
type Event interface {
	event()
}

// View names a screen the app can show.
type View string

const (
	ViewFunctions View = "functions"
	ViewProgress  View = "progress"
)

// Tick is the periodic render heartbeat.
type Tick struct{}

// ExternalSignal carries an OS signal (SIGINT, SIGTERM).
type ExternalSignal struct {
	Signal os.Signal
}

// FetchRequested asks the consumer to (re)load the function list.
type FetchRequested struct{}

// FetchStarted is sent by the fetch task when it begins. FetchID matches
// the FetchRequested that launched the task.
type FetchStarted struct {
	FetchID int
}

// FetchSucceeded carries the loaded functions.
type FetchSucceeded struct {
	FetchID   int
	Functions []install.Function
}

// FetchFailed carries the listing error.
type FetchFailed struct {
	FetchID int
	Err     error
}

// JobBatchStarted is sent before any unit of a batch runs.
type JobBatchStarted struct {
	BatchID string
	Total   int
}

// JobCompleted is sent exactly once per unit. Err is nil on success.
type JobCompleted struct {
	BatchID string
	UnitID  string
	Err     error
}

// JobBatchJoined is sent after every unit task of a batch has returned.
type JobBatchJoined struct {
	BatchID string
	Failed  int
}

// ViewSwitch changes the visible screen.
type ViewSwitch struct {
	View View
}

// Navigate moves the cursor by Delta rows.
type Navigate struct {
	Delta int
}

// ToggleCurrent flips the selection of the row under the cursor.
type ToggleCurrent struct{}

// ToggleAll flips the bulk flag and assigns it to every row.
type ToggleAll struct{}

// Confirm starts an install batch for the selected rows.
type Confirm struct{}

// Quit ends the run loop.
type Quit struct{}

func (Tick) event()            {}
func (ExternalSignal) event()  {}
func (FetchRequested) event()  {}
func (FetchStarted) event()    {}
func (FetchSucceeded) event()  {}
func (FetchFailed) event()     {}
func (JobBatchStarted) event() {}
func (JobCompleted) event()    {}
func (JobBatchJoined) event()  {}
func (ViewSwitch) event()      {}
func (Navigate) event()        {}
func (ToggleCurrent) event()   {}
func (ToggleAll) event()       {}
func (Confirm) event()         {}
func (Quit) event()            {}
