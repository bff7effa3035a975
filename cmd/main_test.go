package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/models"
	"github.com/guttosm/coinpulse/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummyHandler struct{}

func (d dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestStartServerAndShutdown(t *testing.T) {
	srv := startServer(dummyHandler{}, "0") // random port
	if srv == nil {
		t.Fatalf("expected server")
	}

	// Give server a moment to start
	time.Sleep(50 * time.Millisecond)

	// Shutdown quickly with short timeout and no-op cleanup
	_, cancel := context.WithCancel(context.Background())
	go func() {
		// trigger gracefulShutdown select by simulating signal via closing after a brief delay
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// We cannot send OS signals easily here; instead, directly call Shutdown to simulate graceful flow.
	// Verify it doesn't panic and completes.
	shutdownCtx, c := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer c()
	if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		t.Fatalf("shutdown err: %v", err)
	}
}

func TestGracefulShutdown_SignalPath(t *testing.T) {
	// Use a server that responds immediately
	srv := startServer(dummyHandler{}, "0")

	cleaned := make(chan struct{}, 1)
	go func() {
		ctx := context.Background()
		gracefulShutdown(ctx, srv, func() { close(cleaned) })
	}()

	// Give the goroutine time to set up signal notifications
	time.Sleep(50 * time.Millisecond)

	// Send SIGTERM to current process
	p, _ := os.FindProcess(os.Getpid())
	_ = p.Signal(syscall.SIGTERM)

	select {
	case <-cleaned:
		// success
	case <-time.After(2 * time.Second):
		t.Fatalf("cleanup not called after SIGTERM")
	}
}

type fakeHistory struct {
	results   []history.BackfillResult
	err       error
	lookback  time.Duration
	retention time.Duration
}

func (f *fakeHistory) Backfill(_ context.Context, symbols []string, _ models.Interval, lookback time.Duration) ([]history.BackfillResult, error) {
	f.lookback = lookback
	return f.results, f.err
}

func (f *fakeHistory) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 12, f.err
}

type fakePurger struct{ called bool }

func (f *fakePurger) Purge(context.Context) (int64, error) {
	f.called = true
	return 3, nil
}

func TestRunBackfill(t *testing.T) {
	boom := errors.New("timeout")
	ctx := context.Background()

	f := &fakeHistory{results: []history.BackfillResult{{Symbol: "BTC/USDT", Bars: 168}}}
	require.NoError(t, runBackfill(ctx, f, []string{"BTC"}, models.Interval1h, 7))
	assert.Equal(t, 7*24*time.Hour, f.lookback)

	// partial failure is tolerated
	f = &fakeHistory{
		results: []history.BackfillResult{{Symbol: "BTC/USDT", Bars: 10}, {Symbol: "SOL/USDT", Err: boom}},
		err:     boom,
	}
	assert.NoError(t, runBackfill(ctx, f, []string{"BTC", "SOL"}, models.Interval1h, 1))

	f = &fakeHistory{results: []history.BackfillResult{{Symbol: "SOL/USDT", Err: boom}}, err: boom}
	assert.ErrorIs(t, runBackfill(ctx, f, []string{"SOL"}, models.Interval1h, 1), boom)
}

func TestRunCleanup(t *testing.T) {
	ctx := context.Background()

	f := &fakeHistory{}
	p := &fakePurger{}
	require.NoError(t, runCleanup(ctx, f, p, 90))
	assert.Equal(t, 90*24*time.Hour, f.retention)
	assert.True(t, p.called)

	require.NoError(t, runCleanup(ctx, f, nil, 30))

	p = &fakePurger{}
	f.err = errors.New("db down")
	assert.Error(t, runCleanup(ctx, f, p, 30))
	assert.False(t, p.called)
}
