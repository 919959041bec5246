package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/optimeist/optimeist/internal/apiclient"
	"github.com/optimeist/optimeist/internal/dispatch"
	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/tracing"
)

// DefaultShutdownGrace bounds the shutdown when the platform gives no deadline.
const DefaultShutdownGrace = 2 * time.Second

// Collector uploads metrics.
type Collector interface {
	Collect(ctx context.Context, metrics []apiclient.Metric, meta apiclient.Meta) error
}

// Stopper is the running memory updater.
type Stopper interface {
	Shutdown(ctx context.Context) error
}

// Config wires the extension host loop.
type Config struct {
	Host      Host
	Updater   Stopper
	Collector Collector
	Meta      apiclient.Meta

	// ListenAddr is where the telemetry listener binds, e.g. ":4243".
	ListenAddr string
	// ListenerURI is the subscription destination. Empty uses the bound address.
	ListenerURI string

	ShutdownGrace time.Duration
	Tracer        trace.Tracer
}

type hostEvent interface{ hostEvent() }

type telemetryBatch struct{ metrics []apiclient.Metric }

type shutdownRequested struct {
	reason   string
	deadline time.Time
}

type hostFailed struct{ err error }

func (telemetryBatch) hostEvent()    {}
func (shutdownRequested) hostEvent() {}
func (hostFailed) hostEvent()        {}

type runner struct {
	cfg      Config
	listener *TelemetryListener
	inflight conc.WaitGroup
}

// Run registers the extension, subscribes to telemetry and serves until the
// platform sends SHUTDOWN, the host fails or ctx is cancelled. The updater
// is shut down on every return path, after which queued telemetry is posted
// and in-flight posts are awaited.
func Run(ctx context.Context, cfg Config) error {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("optimeist")
	}
	r := &runner{cfg: cfg}

	if err := cfg.Host.Register(ctx); err != nil {
		r.stopUpdater(time.Now().Add(cfg.ShutdownGrace))
		return fmt.Errorf("registering extension: %w", err)
	}

	events, poller := dispatch.New[hostEvent]()
	telemetry := poller.Clone()

	r.listener = NewTelemetryListener(cfg.ListenAddr, func(metrics []apiclient.Metric) {
		telemetry.Send(telemetryBatch{metrics: metrics})
	})
	addr, err := r.listener.Start()
	if err != nil {
		poller.Close()
		telemetry.Close()
		r.stopUpdater(time.Now().Add(cfg.ShutdownGrace))
		return err
	}

	uri := cfg.ListenerURI
	if uri == "" {
		uri = "http://" + addr
	}
	if err := cfg.Host.SubscribeTelemetry(ctx, uri); err != nil {
		poller.Close()
		r.stop(time.Now().Add(cfg.ShutdownGrace), telemetry)
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}

	go poll(ctx, cfg.Host, poller)
	return r.consume(ctx, events, telemetry)
}

// poll forwards lifecycle events until SHUTDOWN or an error.
func poll(ctx context.Context, host Host, out *dispatch.Sender[hostEvent]) {
	defer out.Close()
	for {
		ev, err := host.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				out.Send(hostFailed{err: err})
			}
			return
		}
		switch ev.EventType {
		case EventShutdown:
			var deadline time.Time
			if ev.DeadlineMs > 0 {
				deadline = time.UnixMilli(ev.DeadlineMs)
			}
			out.Send(shutdownRequested{reason: ev.ShutdownReason, deadline: deadline})
			return
		default:
			log.Debug(log.CatHost, "ignoring lifecycle event", "type", ev.EventType)
		}
	}
}

func (r *runner) consume(ctx context.Context, events *dispatch.Dispatcher[hostEvent], telemetry *dispatch.Sender[hostEvent]) error {
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrClosed) {
				// Every producer is gone without a shutdown event.
				r.stop(time.Now().Add(r.cfg.ShutdownGrace), telemetry)
				r.inflight.Wait()
				return fmt.Errorf("host event stream: %w", err)
			}
			log.Info(log.CatHost, "extension cancelled")
			r.stop(time.Now().Add(r.cfg.ShutdownGrace), telemetry)
			r.inflight.Wait()
			return nil
		}

		switch e := ev.(type) {
		case telemetryBatch:
			r.collect(ctx, e.metrics)
		case shutdownRequested:
			log.Info(log.CatHost, "extension is shutting down", "reason", e.reason)
			deadline := e.deadline
			if deadline.IsZero() || time.Until(deadline) <= 0 {
				deadline = time.Now().Add(r.cfg.ShutdownGrace)
			}
			r.stop(deadline, telemetry)
			r.drain(ctx, events)
			r.inflight.Wait()
			return nil
		case hostFailed:
			log.ErrorErr(log.CatHost, "lifecycle polling failed", e.err)
			r.stop(time.Now().Add(r.cfg.ShutdownGrace), telemetry)
			r.inflight.Wait()
			return fmt.Errorf("polling lifecycle events: %w", e.err)
		}
	}
}

// stop shuts down the updater, then the telemetry listener.
func (r *runner) stop(deadline time.Time, telemetry *dispatch.Sender[hostEvent]) {
	r.stopUpdater(deadline)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := r.listener.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatTelemetry, "telemetry listener shutdown", err)
	}
	telemetry.Close()
}

func (r *runner) stopUpdater(deadline time.Time) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := r.cfg.Updater.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatHost, "updater shutdown", err)
		return
	}
	log.Info(log.CatHost, "updater completed successfully")
}

// drain posts telemetry queued before the listener closed.
func (r *runner) drain(ctx context.Context, events *dispatch.Dispatcher[hostEvent]) {
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			return
		}
		if b, ok := ev.(telemetryBatch); ok {
			r.collect(ctx, b.metrics)
		}
	}
}

// collect posts a batch in the background; failures are logged only.
func (r *runner) collect(ctx context.Context, metrics []apiclient.Metric) {
	batchID := uuid.NewString()
	postCtx := context.WithoutCancel(ctx)
	r.inflight.Go(func() {
		spanCtx, span := r.cfg.Tracer.Start(postCtx, tracing.SpanExtensionCollect,
			trace.WithAttributes(
				attribute.String(tracing.AttrBatchID, batchID),
				attribute.Int(tracing.AttrMetricCount, len(metrics)),
				attribute.String(tracing.AttrFunctionName, r.cfg.Meta.Name),
			))
		defer span.End()

		log.Info(log.CatTelemetry, "sending metrics", "batch", batchID, "count", len(metrics))
		if err := r.cfg.Collector.Collect(spanCtx, metrics, r.cfg.Meta); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.ErrorErr(log.CatTelemetry, "failed to send metrics", err, "batch", batchID)
			return
		}
		log.Info(log.CatTelemetry, "metrics sent successfully", "batch", batchID)
	})
}
