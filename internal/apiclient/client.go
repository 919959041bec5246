// Package apiclient talks to the optimeist service: it fetches memory
// recommendations and uploads invocation metrics.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/optimeist/optimeist/internal/log"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNoRecommendation means the service has no memory size for the function yet.
	ErrNoRecommendation = errors.New("no memory recommendation available")
	// ErrUnauthorized means the access token was rejected.
	ErrUnauthorized = errors.New("access token rejected")
)

// Client is an authenticated client for the optimeist API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for baseURL. A non-positive timeout uses DefaultTimeout.
func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query identifies the function a recommendation is for.
type Query struct {
	Name     string
	Region   string
	Version  string
	Strategy string
	ARN      string
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("name", q.Name)
	v.Set("region", q.Region)
	v.Set("version", q.Version)
	v.Set("strategy", q.Strategy)
	v.Set("arn", q.ARN)
	return v
}

type configResponse struct {
	MemorySizeMB *int `json:"memorySizeMB"`
}

// Recommendation returns the recommended memory size in MB. Any failure,
// including a missing value, is returned as an error; callers fall back
// to the current size.
func (c *Client) Recommendation(ctx context.Context, q Query) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/config", q.values(), nil)
	if err != nil {
		return 0, err
	}

	var resp configResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse config response: %w", err)
	}
	if resp.MemorySizeMB == nil {
		return 0, ErrNoRecommendation
	}
	return *resp.MemorySizeMB, nil
}

// Recommender binds a Query to the client so it can drive the updater.
type Recommender struct {
	client *Client
	query  Query
}

// Recommender returns a Recommender for q.
func (c *Client) Recommender(q Query) *Recommender {
	return &Recommender{client: c, query: q}
}

// Recommend implements updater.Recommender.
func (r *Recommender) Recommend(ctx context.Context) (int, error) {
	return r.client.Recommendation(ctx, r.query)
}

// Collect uploads one batch of metrics. Empty batches are not sent.
func (c *Client) Collect(ctx context.Context, metrics []Metric, meta Meta) error {
	if len(metrics) == 0 {
		return nil
	}
	payload, err := json.Marshal(CollectRequest{Metrics: metrics, Meta: meta})
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/collect", nil, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	reqURL := c.baseURL + path
	if query != nil {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug(log.CatTelemetry, "api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: unexpected status code: %d", method, path, resp.StatusCode)
	}
	return respBody, nil
}
