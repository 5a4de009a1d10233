package tracker

import (
	"context"
	"fmt"
	"time"
)

// WorkItem is the attempt ledger entry for one object URL.
type WorkItem struct {
	URL          string    `json:"url"`
	LastAttempt  time.Time `json:"last_attempt"`
	AttemptCount int       `json:"attempt_count"`
}

// Store defines the interface for work item persistence
type Store interface {
	// Get returns the stored item for url, or a fresh unpersisted item
	// (AttemptCount 0, LastAttempt now) when none exists.
	Get(ctx context.Context, url string) (WorkItem, error)
	// Put replaces the row keyed by item.URL.
	Put(ctx context.Context, item WorkItem) error

	Close() error
}

// StoreError reports a failure of the persistence layer. Callers must treat
// it as fatal for the current bucket pass.
type StoreError struct {
	Op  string
	URL string
	Err error
}

func (e *StoreError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("tracker %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tracker %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
