// Package fanout runs a batch of independent units concurrently and reports
// each outcome through an event sink. Completion accounting is left to the
// consumer of those events.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/sourcegraph/conc"

	"github.com/optimeist/optimeist/internal/events"
	"github.com/optimeist/optimeist/internal/log"
)

// ErrUnitPanicked wraps the recovered value of a unit that panicked.
var ErrUnitPanicked = errors.New("unit panicked")

// Unit is one independent piece of work. Run must not share mutable state
// with sibling units.
type Unit struct {
	ID  string
	Run func(ctx context.Context) error
}

// Sink receives batch events. *dispatch.Sender[events.Event] satisfies it.
type Sink interface {
	Send(events.Event) bool
}

// Summary describes a joined batch.
type Summary struct {
	BatchID string
	Total   int
	Failed  int
}

// Run announces the batch, starts every unit at once and waits for all of
// them to return. Each unit produces exactly one JobCompleted on sink,
// including units that fail or panic. A failing unit never affects its
// siblings.
func Run(ctx context.Context, sink Sink, batchID string, units []Unit) Summary {
	sink.Send(events.JobBatchStarted{BatchID: batchID, Total: len(units)})
	log.Info(log.CatInstall, "batch started", "batch", batchID, "total", len(units))

	results := make([]error, len(units))
	var wg conc.WaitGroup
	for i, u := range units {
		wg.Go(func() {
			err := runUnit(ctx, u)
			results[i] = err
			if err != nil {
				log.ErrorErr(log.CatInstall, "unit failed", err, "batch", batchID, "unit", u.ID)
			} else {
				log.Debug(log.CatInstall, "unit succeeded", "batch", batchID, "unit", u.ID)
			}
			sink.Send(events.JobCompleted{BatchID: batchID, UnitID: u.ID, Err: err})
		})
	}
	wg.Wait()

	summary := Summary{BatchID: batchID, Total: len(units)}
	for _, err := range results {
		if err != nil {
			summary.Failed++
		}
	}
	log.Info(log.CatInstall, "batch joined", "batch", batchID, "total", summary.Total, "failed", summary.Failed)
	return summary
}

func runUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatInstall, "unit panic recovered",
				"unit", u.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrUnitPanicked, r)
		}
	}()
	if u.Run == nil {
		return nil
	}
	return u.Run(ctx)
}
