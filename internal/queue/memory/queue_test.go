package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pricesense/crawler/internal/clock/system"
	"github.com/pricesense/crawler/internal/crawler"
)

func newTestQueue() *Queue {
	return New(system.Clock{}, 3, 10*time.Millisecond)
}

func TestHighPriorityDrainsFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue()

	require.NoError(t, q.Enqueue(ctx, crawler.Task{TaskID: "n1"}, crawler.PriorityNormal))
	require.NoError(t, q.Enqueue(ctx, crawler.Task{TaskID: "h1"}, crawler.PriorityHigh))
	require.NoError(t, q.Enqueue(ctx, crawler.Task{TaskID: "n2"}, crawler.PriorityNormal))

	var got []string
	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, task)
		got = append(got, task.TaskID)
	}
	require.Equal(t, []string{"h1", "n1", "n2"}, got)
}

func TestDequeueIdleReturnsNilNil(t *testing.T) {
	t.Parallel()

	q := newTestQueue()
	task, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestDequeueHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFailureRetriesUntilBudgetExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue()
	task := crawler.Task{TaskID: "t1", ProductID: "p1", Platform: crawler.PlatformCoupang}

	cause := errors.New("timeout")
	for i := 0; i < 3; i++ {
		require.NoError(t, q.PublishFailure(ctx, task, cause))

		// The retry becomes visible once its due time passes.
		got, err := q.Dequeue(ctx, 200*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, i+1, got.RetryCount)
		require.Equal(t, "timeout", got.LastError)
		task = *got
	}

	// Fourth failure exceeds the budget of 3.
	require.NoError(t, q.PublishFailure(ctx, task, errors.New("still broken")))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, "t1", dead[0].TaskID)
	require.Equal(t, 3, dead[0].RetryCount)
	require.Equal(t, "still broken", dead[0].FinalError)
	require.NotNil(t, dead[0].FailedAt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.DeadLetter)
	require.Zero(t, stats.Retry)
}

func TestRetryNotVisibleBeforeDueTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(system.Clock{}, 3, time.Hour)

	require.NoError(t, q.PublishFailure(ctx, crawler.Task{TaskID: "t1"}, errors.New("boom")))

	got, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Len(t, q.PendingRetries(), 1)
}

func TestPublishResultAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	q := newTestQueue()
	require.True(t, q.PublishResult(context.Background(), crawler.ResultMessage{TaskID: "t1"}))
	require.NoError(t, q.Close())
	require.False(t, q.PublishResult(context.Background(), crawler.ResultMessage{TaskID: "t2"}))
	require.Len(t, q.Results(), 1)
}
