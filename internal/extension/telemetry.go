package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/optimeist/optimeist/internal/apiclient"
	"github.com/optimeist/optimeist/internal/log"
)

const recordPlatformReport = "platform.report"

// TelemetryEvent is one record of a telemetry batch.
type TelemetryEvent struct {
	Time   string          `json:"time"`
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
}

type reportRecord struct {
	RequestID string        `json:"requestId"`
	Status    string        `json:"status"`
	Metrics   reportMetrics `json:"metrics"`
}

type reportMetrics struct {
	DurationMs        float64  `json:"durationMs"`
	BilledDurationMs  uint64   `json:"billedDurationMs"`
	MemorySizeMB      uint64   `json:"memorySizeMB"`
	MaxMemoryUsedMB   uint64   `json:"maxMemoryUsedMB"`
	InitDurationMs    *float64 `json:"initDurationMs"`
	RestoreDurationMs *float64 `json:"restoreDurationMs"`
}

// ReportMetrics converts the platform.report records of a batch into
// metrics stamped with now. Other record types are skipped.
func ReportMetrics(events []TelemetryEvent, now time.Time) []apiclient.Metric {
	var out []apiclient.Metric
	ts := apiclient.TimestampMicros(now)
	for _, ev := range events {
		if ev.Type != recordPlatformReport {
			continue
		}
		var rec reportRecord
		if err := json.Unmarshal(ev.Record, &rec); err != nil {
			log.Warn(log.CatTelemetry, "skipping malformed report", "error", err)
			continue
		}
		out = append(out, apiclient.Metric{
			RequestID:         rec.RequestID,
			DurationMs:        rec.Metrics.DurationMs,
			BilledDurationMs:  rec.Metrics.BilledDurationMs,
			MemorySizeMB:      rec.Metrics.MemorySizeMB,
			MaxMemoryUsedMB:   rec.Metrics.MaxMemoryUsedMB,
			InitDurationMs:    rec.Metrics.InitDurationMs,
			RestoreDurationMs: rec.Metrics.RestoreDurationMs,
			TimestampUs:       ts,
		})
	}
	return out
}

// TelemetryListener receives telemetry batches over HTTP and hands the
// extracted metrics to a sink. The sink must not block.
type TelemetryListener struct {
	addr   string
	sink   func([]apiclient.Metric)
	now    func() time.Time
	server *http.Server
}

// NewTelemetryListener creates a listener for addr (e.g. ":4243").
func NewTelemetryListener(addr string, sink func([]apiclient.Metric)) *TelemetryListener {
	l := &TelemetryListener{addr: addr, sink: sink, now: time.Now}
	l.server = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return l
}

// Start binds the address and serves in the background. It returns the
// bound address.
func (l *TelemetryListener) Start() (string, error) {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return "", fmt.Errorf("telemetry listener: %w", err)
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatTelemetry, "telemetry listener stopped", err)
		}
	}()
	log.Info(log.CatTelemetry, "telemetry listener started", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown stops accepting batches and waits for in-progress requests.
func (l *TelemetryListener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

func (l *TelemetryListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var batch []TelemetryEvent
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		log.Warn(log.CatTelemetry, "rejecting telemetry batch", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	metrics := ReportMetrics(batch, l.now())
	log.Debug(log.CatTelemetry, "telemetry batch received", "records", len(batch), "reports", len(metrics))
	if len(metrics) > 0 {
		l.sink(metrics)
	}
	w.WriteHeader(http.StatusOK)
}
