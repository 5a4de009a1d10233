package app

import (
	"context"
	"time"
)

// Inspection is the tracked state of one url and what a run would do with it.
type Inspection struct {
	URL          string    `json:"url"`
	AttemptCount int       `json:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt"`
	Decision     string    `json:"decision"`
	NextEligible time.Time `json:"next_eligible"`
}

// Inspect reports the work item and current decision for each url. It does
// not modify the store.
func (ix *Indexer) Inspect(ctx context.Context, urls []string) ([]Inspection, error) {
	now := ix.now()
	out := make([]Inspection, 0, len(urls))
	for _, url := range urls {
		item, err := ix.store.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		out = append(out, Inspection{
			URL:          item.URL,
			AttemptCount: item.AttemptCount,
			LastAttempt:  item.LastAttempt,
			Decision:     ix.policy.Decide(item, now).String(),
			NextEligible: ix.policy.NextEligible(item),
		})
	}
	return out, nil
}
