// Package report collects the outcome of each bucket pass of a run.
package report

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"s3indexer/internal/tracker"

	"go.uber.org/zap"
)

// Strategy names how a bucket was enumerated.
type Strategy string

const (
	StrategyQuery   Strategy = "query"
	StrategyListing Strategy = "listing"
	StrategyCursor  Strategy = "cursor"
)

// Summary counts what happened to the candidates of one pass.
type Summary struct {
	Seen       int
	Dispatched int
	Pending    int
	Expired    int
	Invalid    int
	EmptyPages int
	Started    time.Time
	Finished   time.Time
}

// Record counts one candidate by its decision.
func (s *Summary) Record(d tracker.Decision) {
	s.Seen++
	switch d {
	case tracker.Proceed:
		s.Dispatched++
	case tracker.SkipPending:
		s.Pending++
	case tracker.SkipExpired:
		s.Expired++
	case tracker.SkipInvalid:
		s.Invalid++
	}
}

// Duration is the wall time of the pass.
func (s Summary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// Result is the outcome of one bucket pass. Err is nil on success; a failed
// pass keeps the counts gathered before the failure.
type Result struct {
	Bucket   string
	Strategy Strategy
	Summary  Summary
	Err      error
}

// Report gathers the results of a run.
type Report struct {
	mu      sync.Mutex
	results []Result
}

// New creates an empty report.
func New() *Report {
	return &Report{}
}

// Add appends the result of a pass.
func (r *Report) Add(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, res)
}

// Results returns a copy of all results in pass order.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Result(nil), r.results...)
}

// Failed returns the results of failed passes.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results() {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Totals sums the summaries of every pass.
func (r *Report) Totals() Summary {
	var total Summary
	for _, res := range r.Results() {
		total.Seen += res.Summary.Seen
		total.Dispatched += res.Summary.Dispatched
		total.Pending += res.Summary.Pending
		total.Expired += res.Summary.Expired
		total.Invalid += res.Summary.Invalid
		total.EmptyPages += res.Summary.EmptyPages
	}
	return total
}

// Err joins the errors of all failed passes, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("bucket %s: %w", res.Bucket, res.Err))
	}
	return errors.Join(errs...)
}

// Log writes one line per pass and a run total.
func (r *Report) Log(logger *zap.Logger) {
	for _, res := range r.Results() {
		fields := []zap.Field{
			zap.String("bucket", res.Bucket),
			zap.String("strategy", string(res.Strategy)),
			zap.Int("seen", res.Summary.Seen),
			zap.Int("dispatched", res.Summary.Dispatched),
			zap.Int("pending", res.Summary.Pending),
			zap.Int("expired", res.Summary.Expired),
			zap.Int("invalid", res.Summary.Invalid),
			zap.Duration("duration", res.Summary.Duration()),
		}
		if res.Err != nil {
			logger.Error("Bucket pass failed", append(fields, zap.Error(res.Err))...)
			continue
		}
		logger.Info("Bucket pass completed", fields...)
	}

	total := r.Totals()
	logger.Info("Run completed",
		zap.Int("buckets", len(r.Results())),
		zap.Int("failed", len(r.Failed())),
		zap.Int("seen", total.Seen),
		zap.Int("dispatched", total.Dispatched),
		zap.Int("pending", total.Pending),
		zap.Int("expired", total.Expired),
		zap.Int("invalid", total.Invalid),
	)
}
