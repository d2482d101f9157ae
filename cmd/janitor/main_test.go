package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jnst/event-publication-outbox/internal/service"
)

type countingCleanup struct {
	runs   atomic.Int32
	err    error
	cancel context.CancelFunc
	stopAt int32
}

func (c *countingCleanup) RunCleanup(context.Context) (*service.CleanupResult, error) {
	if c.runs.Add(1) == c.stopAt {
		c.cancel()
	}

	return &service.CleanupResult{}, c.err
}

func TestRunCleanupLoop_RunsImmediatelyAndOnEachTick(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup := &countingCleanup{cancel: cancel, stopAt: 3}

	done := make(chan struct{})
	go func() {
		runCleanupLoop(ctx, cleanup, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.Equal(t, int32(3), cleanup.runs.Load())
}

func TestRunCleanupLoop_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup := &countingCleanup{cancel: cancel, stopAt: 2, err: errors.New("store unavailable")}

	runCleanupLoop(ctx, cleanup, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, int32(2), cleanup.runs.Load())
}
