package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHousekeepingSchedule(t *testing.T) {
	policy := NewHousekeepingSchedule(2*time.Minute, 180*time.Minute)

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 2 * time.Minute},
		{1, 4 * time.Minute},
		{2, 8 * time.Minute},
		{3, 16 * time.Minute},
	}
	for _, c := range cases {
		got, err := policy.ComputeNextInterval(c.retryCount, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestHousekeepingScheduleCapsAtMax(t *testing.T) {
	policy := NewHousekeepingSchedule(2*time.Minute, 10*time.Minute)
	got, err := policy.ComputeNextInterval(10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, got)
}

func TestRetrierNextRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(&ConstantBackoffPolicy{Interval: time.Hour})
	cancel()
	err := r.Next(ctx, nil)
	assert.ErrorIs(t, err, ErrOperationCanceled)
}

func TestRetrierExhaustion(t *testing.T) {
	r := NewRetrier(&ConstantBackoffPolicy{Interval: time.Millisecond, MaxRetries: 2})
	ctx := context.Background()
	require.NoError(t, r.Next(ctx, nil))
	require.NoError(t, r.Next(ctx, nil))
	err := r.Next(ctx, nil)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetrierReset(t *testing.T) {
	r := NewRetrier(&ConstantBackoffPolicy{Interval: time.Millisecond, MaxRetries: 1})
	ctx := context.Background()
	require.NoError(t, r.Next(ctx, nil))
	assert.ErrorIs(t, r.Next(ctx, nil), ErrRetriesExhausted)
	r.Reset()
	assert.NoError(t, r.Next(ctx, nil))
}
