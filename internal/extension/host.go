package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/optimeist/optimeist/internal/log"
)

const (
	headerName       = "Lambda-Extension-Name"
	headerIdentifier = "Lambda-Extension-Identifier"

	telemetrySchemaVersion = "2022-12-13"
)

// Event types returned by Next.
const (
	EventInvoke   = "INVOKE"
	EventShutdown = "SHUTDOWN"
)

// ErrNotRegistered is returned by calls that need a registration id.
var ErrNotRegistered = errors.New("extension is not registered")

// NextEvent is one lifecycle event from the Extensions API.
type NextEvent struct {
	EventType      string `json:"eventType"`
	DeadlineMs     int64  `json:"deadlineMs"`
	RequestID      string `json:"requestId,omitempty"`
	ShutdownReason string `json:"shutdownReason,omitempty"`
}

// Host is the Lambda runtime side of the extension lifecycle.
type Host interface {
	Register(ctx context.Context) error
	Next(ctx context.Context) (NextEvent, error)
	SubscribeTelemetry(ctx context.Context, uri string) error
}

// Buffering controls how the platform batches telemetry.
type Buffering struct {
	MaxItems  int `json:"maxItems"`
	MaxBytes  int `json:"maxBytes"`
	TimeoutMs int `json:"timeoutMs"`
}

// DefaultBuffering matches the platform defaults.
var DefaultBuffering = Buffering{MaxItems: 10000, MaxBytes: 262144, TimeoutMs: 1000}

// HostClient talks to the Extensions and Telemetry APIs.
type HostClient struct {
	baseURL    string
	name       string
	buffering  Buffering
	httpClient *http.Client
	id         string
}

// NewHostClient creates a client for runtimeAPI (host:port, as in
// AWS_LAMBDA_RUNTIME_API). name must match the extension's file name.
func NewHostClient(runtimeAPI, name string) *HostClient {
	base := runtimeAPI
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &HostClient{
		baseURL:   strings.TrimRight(base, "/"),
		name:      name,
		buffering: DefaultBuffering,
		// No timeout: event/next is a long poll.
		httpClient: &http.Client{},
	}
}

// ID returns the registration identifier, empty before Register.
func (c *HostClient) ID() string { return c.id }

// Register registers for SHUTDOWN events only; invocations are observed
// through telemetry.
func (c *HostClient) Register(ctx context.Context) error {
	body, _ := json.Marshal(map[string][]string{"events": {EventShutdown}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2020-01-01/extension/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create register request: %w", err)
	}
	req.Header.Set(headerName, c.name)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	id := resp.Header.Get(headerIdentifier)
	if id == "" {
		return fmt.Errorf("register: response has no %s header", headerIdentifier)
	}
	c.id = id
	log.Info(log.CatHost, "extension registered", "name", c.name)
	return nil
}

// Next blocks until the next lifecycle event.
func (c *HostClient) Next(ctx context.Context) (NextEvent, error) {
	if c.id == "" {
		return NextEvent{}, ErrNotRegistered
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/2020-01-01/extension/event/next", nil)
	if err != nil {
		return NextEvent{}, fmt.Errorf("failed to create next request: %w", err)
	}
	req.Header.Set(headerIdentifier, c.id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NextEvent{}, fmt.Errorf("next event request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return NextEvent{}, fmt.Errorf("next event: %w", err)
	}

	var ev NextEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return NextEvent{}, fmt.Errorf("failed to decode next event: %w", err)
	}
	return ev, nil
}

type telemetrySubscription struct {
	SchemaVersion string               `json:"schemaVersion"`
	Types         []string             `json:"types"`
	Buffering     Buffering            `json:"buffering"`
	Destination   telemetryDestination `json:"destination"`
}

type telemetryDestination struct {
	Protocol string `json:"protocol"`
	URI      string `json:"URI"`
}

// SubscribeTelemetry asks the platform to POST platform records to uri.
func (c *HostClient) SubscribeTelemetry(ctx context.Context, uri string) error {
	if c.id == "" {
		return ErrNotRegistered
	}
	body, err := json.Marshal(telemetrySubscription{
		SchemaVersion: telemetrySchemaVersion,
		Types:         []string{"platform"},
		Buffering:     c.buffering,
		Destination:   telemetryDestination{Protocol: "HTTP", URI: uri},
	})
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/2022-07-01/telemetry", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create subscribe request: %w", err)
	}
	req.Header.Set(headerIdentifier, c.id)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry subscribe request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("telemetry subscribe: %w", err)
	}
	log.Info(log.CatHost, "subscribed to telemetry", "destination", uri)
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
