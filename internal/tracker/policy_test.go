package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsExpiredBoundary(t *testing.T) {
	p := NewPolicy(2, []int{1, 5, 10})

	require.False(t, p.IsExpired(WorkItem{AttemptCount: 0}))
	require.False(t, p.IsExpired(WorkItem{AttemptCount: 2}), "count == max is still allowed")
	require.True(t, p.IsExpired(WorkItem{AttemptCount: 3}), "count == max+1 is expired")
}

func TestIsPendingNeverAttempted(t *testing.T) {
	p := NewPolicy(2, []int{1, 5, 10})
	now := time.Now()

	for _, last := range []time.Time{now, now.Add(time.Hour), now.Add(-time.Hour), {}} {
		require.False(t, p.IsPending(WorkItem{AttemptCount: 0, LastAttempt: last}, now))
	}
}

func TestIsPendingIntervals(t *testing.T) {
	p := NewPolicy(2, []int{1, 5, 10})
	now := time.Now()

	item := WorkItem{URL: "s3://foo/bar", AttemptCount: 2, LastAttempt: now.Add(-5 * time.Minute)}
	require.True(t, p.IsPending(item, now))
	require.Equal(t, SkipPending, p.Decide(item, now))

	item.LastAttempt = now.Add(-11 * time.Minute)
	require.False(t, p.IsPending(item, now))
	require.Equal(t, Proceed, p.Decide(item, now))

	item.AttemptCount = 3
	require.True(t, p.IsExpired(item))
	require.Equal(t, SkipExpired, p.Decide(item, now))

	item.LastAttempt = now
	require.Equal(t, SkipExpired, p.Decide(item, now), "expiry wins over the backoff window")
}

func TestIntervalIndexClampsToLastEntry(t *testing.T) {
	p := NewPolicy(3, []int{1, 5, 10})
	require.NoError(t, p.Validate())

	now := time.Now()
	item := WorkItem{AttemptCount: 3, LastAttempt: now.Add(-9 * time.Minute)}
	require.True(t, now.Add(time.Minute).Equal(p.NextEligible(item)))
	require.True(t, p.IsPending(item, now))
}

func TestFirstAttemptIsImmediate(t *testing.T) {
	p := NewPolicy(DefaultMaxAttempts, DefaultIntervalMinutes)
	now := time.Now()

	fresh := WorkItem{URL: "s3://foo/bar", LastAttempt: now}
	require.Equal(t, Proceed, p.Decide(fresh, now))

	attempted := Increment(fresh, now)
	require.Equal(t, 1, attempted.AttemptCount)
	require.Equal(t, SkipPending, p.Decide(attempted, now))
	require.Equal(t, Proceed, p.Decide(attempted, now.Add(5*time.Minute)))
}

func TestIncrement(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	item := WorkItem{URL: "s3://foo/bar", LastAttempt: start}

	next := Increment(item, start.Add(time.Second))
	require.Equal(t, 1, next.AttemptCount)
	require.True(t, next.LastAttempt.After(start))
	require.Equal(t, 0, item.AttemptCount, "increment must not mutate its input")

	next = Increment(next, start.Add(2*time.Second))
	require.Equal(t, 2, next.AttemptCount)
	require.True(t, NewPolicy(1, []int{1, 5, 10}).IsExpired(next))
	require.False(t, NewPolicy(10, []int{1, 5, 10, 10, 10, 10, 10, 10, 10, 10}).IsExpired(next))
}

func TestExpiredIsAbsorbing(t *testing.T) {
	p := NewPolicy(2, []int{1, 5, 10})
	now := time.Now()
	item := WorkItem{AttemptCount: 3, LastAttempt: now.Add(-24 * time.Hour)}

	for i := 0; i < 5; i++ {
		require.Equal(t, SkipExpired, p.Decide(item, now.Add(time.Duration(i)*time.Hour)))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		intervals []int
		wantErr   bool
	}{
		{"defaults", DefaultMaxAttempts, DefaultIntervalMinutes, false},
		{"max equals len", 3, []int{1, 5, 10}, false},
		{"max exceeds len", 4, []int{1, 5, 10}, true},
		{"negative max", -1, []int{1}, true},
		{"negative interval", 1, []int{1, -5}, true},
		{"zero attempts", 0, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPolicy(tt.max, tt.intervals).Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDecisionString(t *testing.T) {
	require.Equal(t, "proceed", Proceed.String())
	require.Equal(t, "pending", SkipPending.String())
	require.Equal(t, "expired", SkipExpired.String())
	require.Equal(t, "invalid", SkipInvalid.String())
}
