package log

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitWriter_FormatsEntryWithoutTimestamp(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)

	Info(CatInstall, "unit finished", "unit", "fn-a", "attempt", 1)

	require.Equal(t, "[INFO] [install] unit finished unit=fn-a attempt=1\n", buf.String())
}

func TestErrorErr_AppendsError(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)

	ErrorErr(CatUpdater, "update failed", os.ErrDeadlineExceeded, "function", "api")

	require.Contains(t, buf.String(), "[ERROR] [updater] update failed function=api error=")
}

func TestOddFieldCountMarksMissingValue(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)

	Warn(CatConfig, "dangling", "key")

	require.True(t, strings.HasSuffix(buf.String(), "key=<missing>\n"))
}

func TestSetMinLevel_FiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)
	SetMinLevel(LevelWarn)

	Debug(CatCache, "hidden")
	Info(CatCache, "hidden")
	Warn(CatCache, "shown")

	require.Equal(t, "[WARN] [cache] shown\n", buf.String())
}

func TestSetEnabled_False_SuppressesOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)
	SetEnabled(false)

	Error(CatHost, "nothing")
	require.Empty(t, buf.String())
}

func TestSubscribe_ReceivesPublishedEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Info(CatDispatch, "event handled")

	select {
	case ev := <-ch:
		require.Contains(t, ev.Payload, "[INFO] [dispatch] event handled")
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for log event")
	}
}

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimeist.log")
	cleanup, err := Init(path)
	require.NoError(t, err)

	Info(CatConfig, "loaded", "path", path)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[INFO] [config] loaded")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, LevelError, ParseLevel(" error "))
	require.Equal(t, LevelInfo, ParseLevel("verbose"))
}
