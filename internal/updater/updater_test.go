package updater

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/pubsub"
)

// === Test clock ===

type mockClock struct {
	mu     sync.Mutex
	ticker *mockTicker
}

func (c *mockClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &mockTicker{ch: make(chan time.Time, 1)}
	return c.ticker
}

// Tick blocks until the ticker's buffer has room for one tick.
func (c *mockClock) Tick() {
	c.mu.Lock()
	t := c.ticker
	c.mu.Unlock()
	t.ch <- time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
}

type mockTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }
func (t *mockTicker) Stop()               { t.stopped.Store(true) }

// === Collaborators ===

type recommenderFunc func(ctx context.Context) (int, error)

func (f recommenderFunc) Recommend(ctx context.Context) (int, error) { return f(ctx) }

type mockMemory struct {
	mock.Mock
}

func (m *mockMemory) UpdateMemory(ctx context.Context, function string, memoryMB int) error {
	return m.Called(function, memoryMB).Error(0)
}

type mockParams struct {
	mock.Mock
}

func (m *mockParams) WriteParameter(ctx context.Context, name, value string) error {
	return m.Called(name, value).Error(0)
}

type harness struct {
	clock   *mockClock
	memory  *mockMemory
	params  *mockParams
	results <-chan pubsub.Event[CycleResult]
	updater *Updater
}

func newHarness(t *testing.T, rec Recommender, mutate func(*Config)) *harness {
	t.Helper()
	log.InitWriter(io.Discard, false)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	broker := pubsub.NewBroker[CycleResult]()
	t.Cleanup(broker.Close)

	h := &harness{
		clock:   &mockClock{},
		memory:  &mockMemory{},
		params:  &mockParams{},
		results: broker.Subscribe(ctx),
	}
	cfg := Config{
		FunctionName:  "checkout",
		ParameterName: "/optimeist/checkout/memory",
		InitialMemory: 512,
		Interval:      time.Minute,
		Recommender:   rec,
		Memory:        h.memory,
		Parameters:    h.params,
		Clock:         h.clock,
		Results:       broker,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.updater = New(cfg)
	t.Cleanup(func() { _ = h.updater.Shutdown(context.Background()) })
	return h
}

func (h *harness) cycle(t *testing.T) CycleResult {
	t.Helper()
	h.clock.Tick()
	return h.next(t)
}

func (h *harness) next(t *testing.T) CycleResult {
	t.Helper()
	select {
	case ev := <-h.results:
		return ev.Payload
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timeout waiting for cycle result")
		return CycleResult{}
	}
}

func fixed(mb int) Recommender {
	return recommenderFunc(func(context.Context) (int, error) { return mb, nil })
}

// === Lifecycle ===

func TestShutdown_SecondCallReturnsImmediately(t *testing.T) {
	h := newHarness(t, fixed(512), nil)
	require.True(t, h.updater.Running())

	require.NoError(t, h.updater.Shutdown(context.Background()))
	require.False(t, h.updater.Running())
	require.True(t, h.clock.ticker.stopped.Load(), "ticker stopped when loop exits")

	done := make(chan error, 1)
	go func() { done <- h.updater.Shutdown(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "second Shutdown blocked")
	}
}

func TestShutdown_ConcurrentCallersOnlyOneWaits(t *testing.T) {
	h := newHarness(t, fixed(512), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.updater.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.False(t, h.updater.Running())
}

func TestShutdown_CancellationWinsOverPendingTick(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := recommenderFunc(func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return 512, nil
	})
	h := newHarness(t, rec, nil)

	h.clock.Tick()
	<-entered

	// A second tick is pending while the first cycle is still running.
	h.clock.Tick()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- h.updater.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return !h.updater.Running() }, time.Second, time.Millisecond)

	select {
	case <-shutdownDone:
		require.Fail(t, "Shutdown returned while a cycle was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-shutdownDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "Shutdown did not return after the cycle finished")
	}
	require.Equal(t, int32(1), calls.Load(), "no cycle may start after cancellation")
}

func TestShutdown_ContextExpiryReturnsError(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	rec := recommenderFunc(func(context.Context) (int, error) {
		close(entered)
		<-release
		return 512, nil
	})
	h := newHarness(t, rec, nil)
	h.clock.Tick()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.updater.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, h.updater.Shutdown(context.Background()))
}

func TestShutdown_DoneOutlivesExpiredShutdown(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	rec := recommenderFunc(func(context.Context) (int, error) {
		close(entered)
		<-release
		return 512, nil
	})
	h := newHarness(t, rec, nil)
	h.clock.Tick()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.updater.Shutdown(ctx), context.DeadlineExceeded)
	require.False(t, h.updater.Running())

	select {
	case <-h.updater.Done():
		require.Fail(t, "loop reported done while a cycle is still in flight")
	default:
	}

	close(release)
	select {
	case <-h.updater.Done():
	case <-time.After(2 * time.Second):
		require.Fail(t, "Done was not closed after the cycle finished")
	}
}

func TestFireImmediately_RunsFirstCycleWithoutTick(t *testing.T) {
	h := newHarness(t, fixed(512), func(c *Config) { c.FireImmediately = true })

	r := h.next(t)
	require.Equal(t, OutcomeNoChange, r.Outcome)
}

// === Cycle outcomes ===

func TestCycle_NoChangeMakesNoWrites(t *testing.T) {
	h := newHarness(t, fixed(512), nil)

	r := h.cycle(t)

	require.Equal(t, OutcomeNoChange, r.Outcome)
	require.Equal(t, 512, r.Target)
	h.memory.AssertNotCalled(t, "UpdateMemory", mock.Anything, mock.Anything)
	h.params.AssertNotCalled(t, "WriteParameter", mock.Anything, mock.Anything)
}

func TestCycle_RecommenderFailureFallsBackToKnown(t *testing.T) {
	rec := recommenderFunc(func(context.Context) (int, error) {
		return 0, errors.New("service unavailable")
	})
	h := newHarness(t, rec, nil)

	r := h.cycle(t)

	require.Equal(t, OutcomeNoChange, r.Outcome)
	require.True(t, r.Fallback)
	require.Equal(t, 512, r.Target)
	h.memory.AssertNotCalled(t, "UpdateMemory", mock.Anything, mock.Anything)
	h.params.AssertNotCalled(t, "WriteParameter", mock.Anything, mock.Anything)
}

func TestCycle_UpdatedWritesBothAndAdvancesKnown(t *testing.T) {
	h := newHarness(t, fixed(1024), nil)
	h.memory.On("UpdateMemory", "checkout", 1024).Return(nil).Once()
	h.params.On("WriteParameter", "/optimeist/checkout/memory", "1024").Return(nil).Once()

	r := h.cycle(t)
	require.Equal(t, OutcomeUpdated, r.Outcome)
	require.Equal(t, 512, r.Previous)
	require.Equal(t, 1024, r.Target)

	// Same recommendation again: nothing left to do.
	r = h.cycle(t)
	require.Equal(t, OutcomeNoChange, r.Outcome)
	require.Equal(t, 1024, r.Previous)

	h.memory.AssertExpectations(t)
	h.params.AssertExpectations(t)
}

func TestCycle_PrimaryFailed(t *testing.T) {
	h := newHarness(t, fixed(768), nil)
	h.memory.On("UpdateMemory", "checkout", 768).Return(errors.New("throttled"))
	h.params.On("WriteParameter", "/optimeist/checkout/memory", "768").Return(nil)

	r := h.cycle(t)
	require.Equal(t, OutcomePrimaryFailed, r.Outcome)
	require.EqualError(t, r.PrimaryErr, "throttled")
	require.NoError(t, r.SecondaryErr)

	// Known value unchanged, so the next cycle retries the write.
	r = h.cycle(t)
	require.Equal(t, OutcomePrimaryFailed, r.Outcome)
	require.Equal(t, 512, r.Previous)
	h.memory.AssertNumberOfCalls(t, "UpdateMemory", 2)
}

func TestCycle_SecondaryFailed(t *testing.T) {
	h := newHarness(t, fixed(768), nil)
	h.memory.On("UpdateMemory", "checkout", 768).Return(nil)
	h.params.On("WriteParameter", "/optimeist/checkout/memory", "768").Return(errors.New("parameter missing"))

	r := h.cycle(t)
	require.Equal(t, OutcomeSecondaryFailed, r.Outcome)
	require.NoError(t, r.PrimaryErr)
	require.EqualError(t, r.SecondaryErr, "parameter missing")

	r = h.cycle(t)
	require.Equal(t, OutcomeNoChange, r.Outcome, "known value follows the primary write")
}

func TestCycle_BothFailed(t *testing.T) {
	h := newHarness(t, fixed(768), nil)
	h.memory.On("UpdateMemory", "checkout", 768).Return(errors.New("a"))
	h.params.On("WriteParameter", "/optimeist/checkout/memory", "768").Return(errors.New("b"))

	r := h.cycle(t)
	require.Equal(t, OutcomeBothFailed, r.Outcome)
	require.Error(t, r.PrimaryErr)
	require.Error(t, r.SecondaryErr)
}

func TestCycle_NoParameterNameSkipsMirrorWrite(t *testing.T) {
	h := newHarness(t, fixed(2048), func(c *Config) { c.ParameterName = "" })
	h.memory.On("UpdateMemory", "checkout", 2048).Return(nil)

	r := h.cycle(t)
	require.Equal(t, OutcomeUpdated, r.Outcome)
	h.params.AssertNotCalled(t, "WriteParameter", mock.Anything, mock.Anything)
}

func TestCycle_WritesRunConcurrently(t *testing.T) {
	h := newHarness(t, fixed(1536), nil)

	var inFlight, peak atomic.Int32
	track := func(mock.Arguments) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
	}
	h.memory.On("UpdateMemory", "checkout", 1536).Run(track).Return(nil)
	h.params.On("WriteParameter", "/optimeist/checkout/memory", "1536").Run(track).Return(nil)

	r := h.cycle(t)
	require.Equal(t, OutcomeUpdated, r.Outcome)
	require.Equal(t, int32(2), peak.Load())
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "no_change", OutcomeNoChange.String())
	require.Equal(t, "updated", OutcomeUpdated.String())
	require.Equal(t, "primary_failed", OutcomePrimaryFailed.String())
	require.Equal(t, "secondary_failed", OutcomeSecondaryFailed.String())
	require.Equal(t, "both_failed", OutcomeBothFailed.String())
}

func TestFireImmediately_SkippedWhenAlreadyCancelled(t *testing.T) {
	log.InitWriter(io.Discard, false)

	var calls atomic.Int32
	rec := recommenderFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 1024, nil
	})
	memory := &mockMemory{}
	u := &Updater{
		cfg: Config{
			FunctionName:    "checkout",
			InitialMemory:   512,
			FireImmediately: true,
			Recommender:     rec,
			Memory:          memory,
			Parameters:      &mockParams{},
		},
		known: 512,
	}
	lc := &lifecycle{cancel: make(chan struct{}), done: make(chan struct{})}
	close(lc.cancel)

	clock := &mockClock{}
	ticker := clock.NewTicker(time.Minute)
	u.loop(ticker, lc)

	require.Equal(t, int32(0), calls.Load(), "a cancelled updater must not run its first cycle")
	memory.AssertNotCalled(t, "UpdateMemory", mock.Anything, mock.Anything)
	require.True(t, clock.ticker.stopped.Load())
	select {
	case <-lc.done:
	default:
		require.Fail(t, "done must be closed when the loop returns")
	}
}
