package install

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/optimeist/optimeist/internal/cachemanager"
	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/tracing"
)

// Lister loads every function in the account and region.
type Lister struct {
	registry Registry
	describe *cachemanager.ReadThrough[Function, string]
	tracer   trace.Tracer
}

// ListerOption configures a Lister.
type ListerOption func(*Lister)

// WithDescribeCache serves descriptions from cache. Entries are keyed by ARN
// and last-modified time, so a changed function is always described again.
func WithDescribeCache(cache cachemanager.Cache[Function], ttl time.Duration) ListerOption {
	return func(l *Lister) {
		l.describe = cachemanager.NewReadThrough(cache, l.registry.Describe, ttl, false)
	}
}

// WithListerTracer records an install.fetch span per Load.
func WithListerTracer(t trace.Tracer) ListerOption {
	return func(l *Lister) { l.tracer = t }
}

// NewLister creates a Lister over registry.
func NewLister(registry Registry, opts ...ListerOption) *Lister {
	l := &Lister{
		registry: registry,
		tracer:   noop.NewTracerProvider().Tracer("install"),
	}
	l.describe = cachemanager.NewReadThrough[Function, string](nil, registry.Describe, 0, true)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load walks every list page and describes each function of a page
// concurrently. Functions that fail to describe are left out. A list page
// failure fails the whole load. The result is sorted by name; Selected
// starts out equal to Installed.
func (l *Lister) Load(ctx context.Context) ([]Function, error) {
	ctx, span := l.tracer.Start(ctx, tracing.SpanInstallFetch)
	defer span.End()

	var (
		functions []Function
		cursor    string
		pages     int
	)
	for {
		page, next, err := l.registry.List(ctx, cursor)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("listing functions: %w", err)
		}
		pages++
		functions = append(functions, l.describePage(ctx, page)...)

		if next == "" {
			break
		}
		cursor = next
	}

	sort.Slice(functions, func(i, j int) bool { return functions[i].Name < functions[j].Name })
	span.SetAttributes(
		attribute.Int(tracing.AttrPageCount, pages),
		attribute.Int(tracing.AttrFunctions, len(functions)),
	)
	log.Info(log.CatFetch, "functions loaded", "pages", pages, "functions", len(functions))
	return functions, nil
}

func (l *Lister) describePage(ctx context.Context, page []FunctionSummary) []Function {
	p := pool.NewWithResults[*Function]()
	for _, s := range page {
		p.Go(func() *Function {
			fn, err := l.describe.Get(ctx, s.ARN+"@"+s.LastModified, s.Name)
			if err != nil {
				log.ErrorErr(log.CatFetch, "describe failed, skipping function", err, "function", s.Name)
				return nil
			}
			if fn.ARN == "" {
				fn.ARN = s.ARN
			}
			fn.Installed = HasExtension(fn.Layers)
			fn.Selected = fn.Installed
			return &fn
		})
	}

	var out []Function
	for _, fn := range p.Wait() {
		if fn != nil {
			out = append(out, *fn)
		}
	}
	return out
}
