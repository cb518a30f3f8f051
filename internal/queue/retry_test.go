package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pricesense/crawler/internal/crawler"
)

func TestDecideFailureRetries(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	task := crawler.Task{TaskID: "t1", RetryCount: 1, Priority: crawler.PriorityHigh}

	out, disp := DecideFailure(task, errors.New("timeout"), 3, time.Minute, now)

	require.Equal(t, DispositionRetry, disp)
	require.Equal(t, 2, out.RetryCount)
	require.Equal(t, "timeout", out.LastError)
	require.NotNil(t, out.RetryAt)
	require.Equal(t, now.Add(time.Minute), *out.RetryAt)
	require.Empty(t, out.FinalError)

	// Input is untouched.
	require.Equal(t, 1, task.RetryCount)
}

func TestDecideFailureDeadLetters(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	task := crawler.Task{TaskID: "t1", RetryCount: 3}

	out, disp := DecideFailure(task, errors.New("selector mismatch"), 3, time.Minute, now)

	require.Equal(t, DispositionDeadLetter, disp)
	require.Equal(t, 3, out.RetryCount)
	require.Equal(t, "selector mismatch", out.FinalError)
	require.NotNil(t, out.FailedAt)
	require.Equal(t, now, *out.FailedAt)
}

func TestDecideFailureNonRetryableCauseSkipsBudget(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	task := crawler.Task{TaskID: "t1", RetryCount: 0}

	cause := crawler.Tag(crawler.TaxonomyInvalidInput, crawler.ErrInvalidURL)
	out, disp := DecideFailure(task, cause, 3, time.Minute, now)

	require.Equal(t, DispositionDeadLetter, disp)
	require.Zero(t, out.RetryCount)
	require.Equal(t, cause.Error(), out.FinalError)
}

func TestDecideFailureZeroBudgetGoesStraightToDeadLetter(t *testing.T) {
	t.Parallel()

	out, disp := DecideFailure(crawler.Task{TaskID: "t1"}, errors.New("boom"), 0, time.Minute, time.Now())
	require.Equal(t, DispositionDeadLetter, disp)
	require.Equal(t, "boom", out.FinalError)
}
