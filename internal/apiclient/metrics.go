package apiclient

import (
	"strconv"
	"time"
)

// Metric is one invocation report.
type Metric struct {
	RequestID         string   `json:"requestId"`
	DurationMs        float64  `json:"durationMs"`
	BilledDurationMs  uint64   `json:"billedDurationMs"`
	MemorySizeMB      uint64   `json:"memorySizeMB"`
	MaxMemoryUsedMB   uint64   `json:"maxMemoryUsedMB"`
	InitDurationMs    *float64 `json:"initDurationMs"`
	RestoreDurationMs *float64 `json:"restoreDurationMs,omitempty"`
	TimestampUs       string   `json:"timestampUs"`
}

// Meta describes the function the metrics belong to.
type Meta struct {
	ARN          string `json:"arn"`
	Region       string `json:"region"`
	Version      string `json:"version"`
	Name         string `json:"name"`
	MemorySizeMB int    `json:"memorySizeMb"`
	Strategy     string `json:"strategy"`
}

// CollectRequest is the body of a collect call.
type CollectRequest struct {
	Metrics []Metric `json:"metrics"`
	Meta    Meta     `json:"meta"`
}

// TimestampMicros formats t as Unix microseconds.
func TimestampMicros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}
