package tracker

import (
	"fmt"
	"time"
)

// Decision is the outcome of applying a Policy to a WorkItem.
type Decision int

const (
	Proceed Decision = iota
	SkipPending
	SkipExpired
	// SkipInvalid marks a candidate rejected before the policy is applied.
	SkipInvalid
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipPending:
		return "pending"
	case SkipExpired:
		return "expired"
	case SkipInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// DefaultMaxAttempts and DefaultIntervalMinutes mirror the CLI defaults.
var (
	DefaultMaxAttempts     = 4
	DefaultIntervalMinutes = []int{1, 5, 30, 60, 120}
)

// Policy bounds how often a work item may be attempted. Intervals is indexed
// by the current attempt count: an item attempted k times waits Intervals[k]
// after its last attempt before it is eligible again.
type Policy struct {
	MaxAttempts int
	Intervals   []time.Duration
}

// NewPolicy builds a Policy from an interval table expressed in minutes.
func NewPolicy(maxAttempts int, intervalMinutes []int) Policy {
	intervals := make([]time.Duration, len(intervalMinutes))
	for i, m := range intervalMinutes {
		intervals[i] = time.Duration(m) * time.Minute
	}
	return Policy{MaxAttempts: maxAttempts, Intervals: intervals}
}

// Validate checks the startup precondition MaxAttempts <= len(Intervals).
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", p.MaxAttempts)
	}
	for i, d := range p.Intervals {
		if d < 0 {
			return fmt.Errorf("attempt interval %d is negative: %s", i, d)
		}
	}
	if p.MaxAttempts > len(p.Intervals) {
		return fmt.Errorf("max attempts (%d) exceeds the number of attempt intervals (%d)", p.MaxAttempts, len(p.Intervals))
	}
	return nil
}

// IsExpired reports whether item has exhausted its attempts. An item is
// allowed MaxAttempts+1 attempts in total.
func (p Policy) IsExpired(item WorkItem) bool {
	return item.AttemptCount > p.MaxAttempts
}

// IsPending reports whether item is still inside its backoff window at now.
// Never-attempted items are never pending.
func (p Policy) IsPending(item WorkItem, now time.Time) bool {
	if item.AttemptCount == 0 {
		return false
	}
	return now.Before(p.NextEligible(item))
}

// NextEligible returns the earliest time item may be attempted again.
func (p Policy) NextEligible(item WorkItem) time.Time {
	if item.AttemptCount == 0 || len(p.Intervals) == 0 {
		return item.LastAttempt
	}
	idx := item.AttemptCount
	if idx >= len(p.Intervals) {
		idx = len(p.Intervals) - 1
	}
	return item.LastAttempt.Add(p.Intervals[idx])
}

// Decide applies the policy: expiry is checked before the backoff window.
func (p Policy) Decide(item WorkItem, now time.Time) Decision {
	if p.IsExpired(item) {
		return SkipExpired
	}
	if p.IsPending(item, now) {
		return SkipPending
	}
	return Proceed
}

// Increment records one more attempt at now. It does not persist anything.
func Increment(item WorkItem, now time.Time) WorkItem {
	item.AttemptCount++
	item.LastAttempt = now
	return item
}
