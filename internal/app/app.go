// Package app is the installer's single consumer of truth. It owns the
// function list, the selection and the install progress; every other
// goroutine talks to it through the dispatcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/optimeist/optimeist/internal/dispatch"
	"github.com/optimeist/optimeist/internal/events"
	"github.com/optimeist/optimeist/internal/fanout"
	"github.com/optimeist/optimeist/internal/install"
	"github.com/optimeist/optimeist/internal/loadstate"
	"github.com/optimeist/optimeist/internal/log"
)

// Lister loads the function list.
type Lister interface {
	Load(ctx context.Context) ([]install.Function, error)
}

// Installer installs the extension on one function.
type Installer interface {
	Install(ctx context.Context, fn install.Function) error
}

// Journal records install batches. Errors are logged and never fail a unit.
type Journal interface {
	StartBatch(ctx context.Context, id string, total int, at time.Time) error
	RecordUnit(ctx context.Context, batchID, unitID string, unitErr error, at time.Time) error
	FinishBatch(ctx context.Context, id string, failed int, at time.Time) error
}

// Renderer receives a snapshot after every handled event. It is called on
// the consumer goroutine and must not block.
type Renderer interface {
	Render(Snapshot)
}

// Config wires the app's collaborators.
type Config struct {
	Lister    Lister
	Installer Installer
	Journal   Journal  // optional
	Renderer  Renderer // optional

	NewBatchID func() string
	Now        func() time.Time
}

// App consumes installer events. Only Run mutates its state.
type App struct {
	cfg     Config
	events  *dispatch.Dispatcher[events.Event]
	spawner *dispatch.Sender[events.Event]

	functions loadstate.State[[]install.Function]
	cursor    int
	selectAll bool
	view      events.View
	fetchID   int

	activeBatch string
	progress    *fanout.Progress
	failed      int
	joined      bool
	ticks       int

	tasks conc.WaitGroup
}

// New creates an app reading from d. spawner is the producer handle the app
// clones for its fetch and install tasks; the app owns it and closes it when
// Run returns.
func New(cfg Config, d *dispatch.Dispatcher[events.Event], spawner *dispatch.Sender[events.Event]) *App {
	if cfg.NewBatchID == nil {
		cfg.NewBatchID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		cfg:       cfg,
		events:    d,
		spawner:   spawner,
		functions: loadstate.Pending[[]install.Function](),
		view:      events.ViewFunctions,
	}
}

// Run handles events until Quit, an external signal, cancellation of ctx
// or the loss of every producer. Background tasks are cancelled and joined
// before it returns.
func (a *App) Run(ctx context.Context) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer func() {
		a.spawner.Close()
		cancel()
		a.tasks.Wait()
	}()

	a.render()
	for {
		ev, err := a.events.Next(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrClosed) {
				log.Error(log.CatDispatch, "every event producer is gone")
				return fmt.Errorf("event loop stopped: %w", err)
			}
			return err
		}
		if stop := a.handle(taskCtx, ev); stop {
			log.Info(log.CatDispatch, "event loop finished")
			return nil
		}
		a.render()
	}
}

// handle applies one event. It returns true when the loop should end.
func (a *App) handle(ctx context.Context, ev events.Event) bool {
	switch e := ev.(type) {
	case events.Tick:
		a.ticks++

	case events.ExternalSignal:
		log.Info(log.CatDispatch, "received signal", "signal", e.Signal)
		return true

	case events.Quit:
		return true

	case events.FetchRequested:
		a.fetchID++
		a.functions = loadstate.Pending[[]install.Function]()
		a.view = events.ViewFunctions
		a.startFetch(ctx, a.fetchID)

	case events.FetchStarted:
		if e.FetchID != a.fetchID {
			return false
		}
		a.functions = loadstate.Pending[[]install.Function]()

	case events.FetchSucceeded:
		if e.FetchID != a.fetchID {
			log.Debug(log.CatFetch, "ignoring superseded fetch", "fetch", e.FetchID)
			return false
		}
		a.functions = loadstate.Ready(e.Functions)
		a.cursor = 0
		log.Info(log.CatFetch, "functions loaded", "count", len(e.Functions))

	case events.FetchFailed:
		if e.FetchID != a.fetchID {
			log.Debug(log.CatFetch, "ignoring superseded fetch", "fetch", e.FetchID)
			return false
		}
		a.functions = loadstate.Failed[[]install.Function](e.Err)
		log.ErrorErr(log.CatFetch, "failed to load functions", e.Err)

	case events.JobBatchStarted:
		if e.BatchID != a.activeBatch {
			log.Debug(log.CatDispatch, "ignoring stale batch start", "batch", e.BatchID)
			return false
		}
		p := fanout.NewProgress(e.BatchID, e.Total)
		a.progress = &p

	case events.JobCompleted:
		if a.progress == nil || e.BatchID != a.progress.BatchID {
			log.Debug(log.CatDispatch, "ignoring stale completion", "batch", e.BatchID, "unit", e.UnitID)
			return false
		}
		if !a.progress.Complete() {
			log.Warn(log.CatDispatch, "completion beyond batch total", "batch", e.BatchID, "unit", e.UnitID)
		}

	case events.JobBatchJoined:
		if e.BatchID != a.activeBatch {
			return false
		}
		a.failed = e.Failed
		a.joined = true

	case events.ViewSwitch:
		a.view = e.View

	case events.Navigate:
		a.navigate(e.Delta)

	case events.ToggleCurrent:
		if a.view != events.ViewFunctions {
			return false
		}
		a.functions.Update(func(fns *[]install.Function) {
			if a.cursor < len(*fns) {
				(*fns)[a.cursor].Selected = !(*fns)[a.cursor].Selected
			}
		})

	case events.ToggleAll:
		if a.view != events.ViewFunctions || !a.functions.IsReady() {
			return false
		}
		a.selectAll = !a.selectAll
		a.functions.Update(func(fns *[]install.Function) {
			for i := range *fns {
				(*fns)[i].Selected = a.selectAll
			}
		})

	case events.Confirm:
		a.confirm(ctx)
	}
	return false
}

func (a *App) navigate(delta int) {
	if a.view != events.ViewFunctions {
		return
	}
	fns, ok := a.functions.Value()
	if !ok || len(fns) == 0 {
		return
	}
	a.cursor = min(max(a.cursor+delta, 0), len(fns)-1)
}

func (a *App) startFetch(ctx context.Context, id int) {
	sink := a.spawner.Clone()
	a.tasks.Go(func() {
		defer sink.Close()
		sink.Send(events.FetchStarted{FetchID: id})
		fns, err := a.cfg.Lister.Load(ctx)
		if err != nil {
			sink.Send(events.FetchFailed{FetchID: id, Err: err})
			return
		}
		sink.Send(events.FetchSucceeded{FetchID: id, Functions: fns})
	})
}

func (a *App) confirm(ctx context.Context) {
	if a.view != events.ViewFunctions {
		return
	}
	fns, ok := a.functions.Value()
	if !ok {
		return
	}
	if a.activeBatch != "" && !a.joined {
		log.Warn(log.CatInstall, "install already running", "batch", a.activeBatch)
		return
	}

	var selected []install.Function
	for _, fn := range fns {
		if fn.Selected {
			selected = append(selected, fn)
		}
	}

	id := a.cfg.NewBatchID()
	a.activeBatch = id
	a.progress = nil
	a.failed = 0
	a.joined = false
	a.view = events.ViewProgress
	log.Info(log.CatInstall, "installing extension", "batch", id, "functions", len(selected))

	sink := a.spawner.Clone()
	a.tasks.Go(func() {
		defer sink.Close()
		a.runBatch(ctx, sink, id, selected)
	})
}

// runBatch runs on a task goroutine and only touches the journal and sink.
func (a *App) runBatch(ctx context.Context, sink *dispatch.Sender[events.Event], id string, fns []install.Function) {
	journal := a.cfg.Journal
	if journal != nil {
		if err := journal.StartBatch(ctx, id, len(fns), a.cfg.Now()); err != nil {
			log.ErrorErr(log.CatJournal, "failed to record batch", err, "batch", id)
			journal = nil
		}
	}

	units := make([]fanout.Unit, len(fns))
	for i, fn := range fns {
		units[i] = fanout.Unit{
			ID: fn.Name,
			Run: func(ctx context.Context) error {
				err := a.cfg.Installer.Install(ctx, fn)
				if journal != nil {
					if jerr := journal.RecordUnit(ctx, id, fn.Name, err, a.cfg.Now()); jerr != nil {
						log.ErrorErr(log.CatJournal, "failed to record unit", jerr, "batch", id, "unit", fn.Name)
					}
				}
				return err
			},
		}
	}

	summary := fanout.Run(ctx, sink, id, units)

	if journal != nil {
		if err := journal.FinishBatch(ctx, id, summary.Failed, a.cfg.Now()); err != nil {
			log.ErrorErr(log.CatJournal, "failed to finish batch", err, "batch", id)
		}
	}
	sink.Send(events.JobBatchJoined{BatchID: id, Failed: summary.Failed})
}

func (a *App) render() {
	if a.cfg.Renderer != nil {
		a.cfg.Renderer.Render(a.Snapshot())
	}
}
