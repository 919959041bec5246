// Package updater runs the extension's periodic memory reconciliation.
// A background goroutine asks a Recommender for a memory target on every
// tick and, when it differs from the known value, applies it to the function
// and mirrors it to a parameter store. The worker is stopped with Shutdown.
package updater

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/pubsub"
)

// DefaultInterval is the reconciliation period.
const DefaultInterval = 5 * time.Minute

// Recommender returns a target memory size in MB. Any error, including
// "no recommendation available", makes the cycle fall back to the known value.
type Recommender interface {
	Recommend(ctx context.Context) (int, error)
}

// MemoryUpdater applies a memory size to the function (primary write).
type MemoryUpdater interface {
	UpdateMemory(ctx context.Context, function string, memoryMB int) error
}

// ParameterWriter mirrors the memory size to a named parameter (secondary write).
type ParameterWriter interface {
	WriteParameter(ctx context.Context, name, value string) error
}

// Outcome classifies one reconciliation cycle.
type Outcome int

const (
	OutcomeNoChange Outcome = iota
	OutcomeUpdated
	OutcomePrimaryFailed
	OutcomeSecondaryFailed
	OutcomeBothFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoChange:
		return "no_change"
	case OutcomeUpdated:
		return "updated"
	case OutcomePrimaryFailed:
		return "primary_failed"
	case OutcomeSecondaryFailed:
		return "secondary_failed"
	case OutcomeBothFailed:
		return "both_failed"
	default:
		return "unknown"
	}
}

// CycleResult is published after every cycle.
type CycleResult struct {
	Outcome      Outcome
	Previous     int
	Target       int
	Fallback     bool
	PrimaryErr   error
	SecondaryErr error
	At           time.Time
}

// Config configures an Updater.
type Config struct {
	FunctionName  string
	ParameterName string // empty skips the mirror write
	InitialMemory int
	Interval      time.Duration
	// FireImmediately runs the first cycle at start instead of after one interval.
	FireImmediately bool
	// CycleTimeout bounds each cycle's remote calls. Zero means no bound.
	CycleTimeout time.Duration

	Recommender Recommender
	Memory      MemoryUpdater
	Parameters  ParameterWriter
	Clock       Clock
	Results     *pubsub.Broker[CycleResult]
	Tracer      trace.Tracer
}

type lifecycle struct {
	cancel chan struct{}
	done   chan struct{}
}

// Updater is a running periodic worker. It does not stop when dropped;
// callers must call Shutdown.
type Updater struct {
	cfg   Config
	known int

	mu   sync.Mutex
	cell *lifecycle
	done <-chan struct{}
}

// New starts the background loop and returns immediately.
func New(cfg Config) *Updater {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("updater")
	}

	lc := &lifecycle{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	u := &Updater{
		cfg:   cfg,
		known: cfg.InitialMemory,
		cell:  lc,
		done:  lc.done,
	}

	ticker := cfg.Clock.NewTicker(cfg.Interval)
	go u.loop(ticker, lc)

	log.Info(log.CatUpdater, "updater started",
		"function", cfg.FunctionName,
		"interval", cfg.Interval,
		"memory", cfg.InitialMemory)
	return u
}

// Running reports whether Shutdown has not yet been called.
func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cell != nil
}

// Done is closed once the loop has exited. It stays valid after Shutdown,
// so a caller whose Shutdown timed out can keep waiting on it.
func (u *Updater) Done() <-chan struct{} {
	return u.done
}

// Shutdown stops the loop and waits for it to exit, including any cycle in
// flight. Only the first call does anything; later calls return nil at once.
// If ctx ends first its error is returned and the loop still exits on its own;
// wait on Done to observe that.
func (u *Updater) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	lc := u.cell
	u.cell = nil
	u.mu.Unlock()

	if lc == nil {
		return nil
	}

	close(lc.cancel)
	select {
	case <-lc.done:
		log.Info(log.CatUpdater, "updater stopped", "function", u.cfg.FunctionName)
		return nil
	case <-ctx.Done():
		log.Warn(log.CatUpdater, "updater shutdown timed out", "function", u.cfg.FunctionName)
		return ctx.Err()
	}
}

func (u *Updater) loop(ticker Ticker, lc *lifecycle) {
	defer close(lc.done)
	defer ticker.Stop()

	if u.cfg.FireImmediately {
		select {
		case <-lc.cancel:
			return
		default:
		}
		u.cycle()
	}

	for {
		select {
		case <-lc.cancel:
			return
		case <-ticker.C():
			select {
			case <-lc.cancel:
				return
			default:
			}
			u.cycle()
		}
	}
}

func (u *Updater) cycle() {
	ctx := context.Background()
	if u.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.CycleTimeout)
		defer cancel()
	}
	ctx, span := u.cfg.Tracer.Start(ctx, "updater.cycle",
		trace.WithAttributes(attribute.String("function", u.cfg.FunctionName)))
	defer span.End()

	result := CycleResult{Previous: u.known, At: time.Now()}

	target, err := u.recommend(ctx)
	if err != nil {
		log.Warn(log.CatUpdater, "recommendation unavailable, using fallback",
			"function", u.cfg.FunctionName,
			"fallback", u.known,
			"error", err)
		target = u.known
		result.Fallback = true
	}
	result.Target = target
	span.SetAttributes(attribute.Int("memory.previous", u.known), attribute.Int("memory.target", target))

	if target == u.known {
		result.Outcome = OutcomeNoChange
		log.Debug(log.CatUpdater, "memory unchanged", "function", u.cfg.FunctionName, "memory", target)
		u.publish(result)
		return
	}

	result.PrimaryErr, result.SecondaryErr = u.apply(ctx, target)
	result.Outcome = classify(result.PrimaryErr, result.SecondaryErr)
	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))

	switch result.Outcome {
	case OutcomeUpdated:
		log.Info(log.CatUpdater, "memory updated",
			"function", u.cfg.FunctionName, "from", u.known, "to", target)
	case OutcomePrimaryFailed:
		span.SetStatus(codes.Error, "primary write failed")
		log.ErrorErr(log.CatUpdater, "function update failed, parameter written", result.PrimaryErr,
			"function", u.cfg.FunctionName, "target", target)
	case OutcomeSecondaryFailed:
		span.SetStatus(codes.Error, "secondary write failed")
		log.ErrorErr(log.CatUpdater, "parameter write failed, function updated", result.SecondaryErr,
			"function", u.cfg.FunctionName, "parameter", u.cfg.ParameterName, "target", target)
	case OutcomeBothFailed:
		span.SetStatus(codes.Error, "both writes failed")
		log.ErrorErr(log.CatUpdater, "function update and parameter write failed",
			errors.Join(result.PrimaryErr, result.SecondaryErr),
			"function", u.cfg.FunctionName, "target", target)
	}

	if result.PrimaryErr == nil {
		u.known = target
	}
	u.publish(result)
}

func (u *Updater) recommend(ctx context.Context) (int, error) {
	if u.cfg.Recommender == nil {
		return 0, errors.New("no recommender configured")
	}
	return u.cfg.Recommender.Recommend(ctx)
}

// apply runs the primary and mirror writes concurrently and waits for both.
func (u *Updater) apply(ctx context.Context, target int) (primary, secondary error) {
	var wg conc.WaitGroup
	wg.Go(func() {
		if u.cfg.Memory == nil {
			primary = errors.New("no memory updater configured")
			return
		}
		primary = u.cfg.Memory.UpdateMemory(ctx, u.cfg.FunctionName, target)
	})
	wg.Go(func() {
		if u.cfg.ParameterName == "" || u.cfg.Parameters == nil {
			return
		}
		secondary = u.cfg.Parameters.WriteParameter(ctx, u.cfg.ParameterName, strconv.Itoa(target))
	})
	wg.Wait()
	return primary, secondary
}

func classify(primary, secondary error) Outcome {
	switch {
	case primary == nil && secondary == nil:
		return OutcomeUpdated
	case primary != nil && secondary != nil:
		return OutcomeBothFailed
	case primary != nil:
		return OutcomePrimaryFailed
	default:
		return OutcomeSecondaryFailed
	}
}

func (u *Updater) publish(r CycleResult) {
	if u.cfg.Results != nil {
		u.cfg.Results.Publish(pubsub.UpdatedEvent, r)
	}
}
