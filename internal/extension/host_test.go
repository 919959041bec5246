package extension

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostClient_RegisterNextSubscribe(t *testing.T) {
	var subscription telemetrySubscription
	mux := http.NewServeMux()
	mux.HandleFunc("/2020-01-01/extension/register", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "optimeist", r.Header.Get(headerName))
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{EventShutdown}, body["events"])
		w.Header().Set(headerIdentifier, "ext-id-1")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/2020-01-01/extension/event/next", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ext-id-1", r.Header.Get(headerIdentifier))
		_, _ = w.Write([]byte(`{"eventType":"SHUTDOWN","deadlineMs":1792368002000,"shutdownReason":"spindown"}`))
	})
	mux.HandleFunc("/2022-07-01/telemetry", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "ext-id-1", r.Header.Get(headerIdentifier))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&subscription))
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHostClient(strings.TrimPrefix(srv.URL, "http://"), "optimeist")
	ctx := context.Background()

	require.NoError(t, c.Register(ctx))
	require.Equal(t, "ext-id-1", c.ID())

	require.NoError(t, c.SubscribeTelemetry(ctx, "http://sandbox.localdomain:4243"))
	require.Equal(t, telemetrySchemaVersion, subscription.SchemaVersion)
	require.Equal(t, []string{"platform"}, subscription.Types)
	require.Equal(t, "HTTP", subscription.Destination.Protocol)
	require.Equal(t, "http://sandbox.localdomain:4243", subscription.Destination.URI)
	require.Equal(t, DefaultBuffering, subscription.Buffering)

	ev, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, EventShutdown, ev.EventType)
	require.Equal(t, "spindown", ev.ShutdownReason)
	require.Equal(t, int64(1792368002000), ev.DeadlineMs)
}

func TestHostClient_RequiresRegistration(t *testing.T) {
	c := NewHostClient("127.0.0.1:1", "optimeist")

	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, ErrNotRegistered)
	require.ErrorIs(t, c.SubscribeTelemetry(context.Background(), "http://x"), ErrNotRegistered)
}

func TestHostClient_RegisterFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad extension name", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHostClient(srv.URL, "optimeist")
	err := c.Register(context.Background())
	require.ErrorContains(t, err, "403")
	require.ErrorContains(t, err, "bad extension name")
	require.Empty(t, c.ID())
}

func TestHostClient_RegisterWithoutIdentifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewHostClient(srv.URL, "optimeist").Register(context.Background())
	require.ErrorContains(t, err, headerIdentifier)
}
