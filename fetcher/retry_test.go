package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-dao/daosync/chain"
)

func TestRetrierReturnsImmediatelyOnSuccess(t *testing.T) {
	r := NewRetrier([]time.Duration{time.Second}, nil)
	r.sleep = func(time.Duration) { t.Fatal("slept without a failure") }

	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierWalksTheSchedule(t *testing.T) {
	var slept []time.Duration
	r := NewRetrier([]time.Duration{time.Second, 2 * time.Second}, nil)
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return &chain.TransientError{Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestRetrierRetriesEmptyResponses(t *testing.T) {
	var slept []time.Duration
	r := NewRetrier([]time.Duration{time.Second, 2 * time.Second}, nil)
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	// Empty responses walk the schedule like transport faults; a syncing
	// node may not have the block yet.
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return chain.ErrEmptyResponse
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, slept)
}

func TestRetrierGivesUpAfterSchedule(t *testing.T) {
	notifier := NewChannelNotifier(8)
	r := NewRetrier([]time.Duration{time.Second}, notifier)
	r.sleep = func(time.Duration) {}

	failure := errors.New("boom")
	err := r.Do(context.Background(), "op", func() error { return failure })
	assert.Equal(t, failure, err)

	// One warning per retry plus the final error alert.
	var levels []AlertLevel
	for len(notifier.C) > 0 {
		levels = append(levels, (<-notifier.C).Level)
	}
	assert.Equal(t, []AlertLevel{AlertWarning, AlertError}, levels)
}

func TestRetrierStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier([]time.Duration{time.Second, time.Second}, nil)
	r.sleep = func(time.Duration) { cancel() }

	calls := 0
	failure := errors.New("boom")
	err := r.Do(ctx, "op", func() error {
		calls++
		return failure
	})
	assert.Equal(t, failure, err)
	assert.Equal(t, 1, calls)
}

func TestChannelNotifierDropsOnOverflow(t *testing.T) {
	n := NewChannelNotifier(1)
	n.Notify(Alert{Level: AlertInfo, Message: "first"})
	n.Notify(Alert{Level: AlertInfo, Message: "second"})

	assert.Equal(t, "first", (<-n.C).Message)
	assert.Empty(t, n.C)
}
