package dispatch

import (
	"context"
	"fmt"
	"time"

	"s3indexer/internal/config"
	"s3indexer/internal/metrics"
	"s3indexer/internal/source"
	"s3indexer/internal/tracker"

	"go.uber.org/zap"
)

// Processor gates each candidate on its work item and dispatches the ones
// the policy lets through.
type Processor struct {
	store   tracker.Store
	policy  tracker.Policy
	emitter *Emitter
	metrics *metrics.Collector
	logger  *zap.Logger
	dryRun  bool
	now     func() time.Time
}

// NewProcessor creates a processor writing commands through emitter.
func NewProcessor(
	store tracker.Store,
	policy tracker.Policy,
	emitter *Emitter,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
	dryRun bool,
) *Processor {
	return &Processor{
		store:   store,
		policy:  policy,
		emitter: emitter,
		metrics: metricsCollector,
		logger:  logger,
		dryRun:  dryRun,
		now:     time.Now,
	}
}

// SetClock replaces the time source used for decisions and attempts.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Process decides what to do with obj. Keys that cannot be written on one
// line are skipped without touching the store. On Proceed the incremented
// work item is persisted before the command is written, so a failed dispatch
// can over-count attempts but never under-count them. A returned error is a
// *tracker.StoreError or an output failure; both end the pass.
func (p *Processor) Process(ctx context.Context, bucket config.Bucket, indexd IndexdConfig, obj source.Object) (tracker.Decision, error) {
	url := InputURL(bucket.Name, obj.Key)

	if err := CheckKey(obj.Key); err != nil {
		p.metrics.ObserveDecision(bucket.Name, tracker.SkipInvalid.String())
		p.logger.Warn("Skipping object with unsafe key",
			zap.String("bucket", bucket.Name),
			zap.String("key", obj.Key),
			zap.Error(err),
		)
		return tracker.SkipInvalid, nil
	}

	item, err := p.store.Get(ctx, url)
	if err != nil {
		return tracker.Proceed, err
	}

	now := p.now()
	decision := p.policy.Decide(item, now)
	p.metrics.ObserveDecision(bucket.Name, decision.String())

	switch decision {
	case tracker.SkipExpired:
		p.logger.Debug("Skipping expired work item",
			zap.String("url", url),
			zap.Int("attempt_count", item.AttemptCount),
			zap.Time("last_attempt", item.LastAttempt),
		)
		return decision, nil

	case tracker.SkipPending:
		p.logger.Debug("Skipping pending work item",
			zap.String("url", url),
			zap.Int("attempt_count", item.AttemptCount),
			zap.Time("last_attempt", item.LastAttempt),
			zap.Time("next_eligible", p.policy.NextEligible(item)),
		)
		return decision, nil
	}

	cmd, err := Render(obj, bucket, indexd, p.dryRun)
	if err != nil {
		return decision, err
	}

	item = tracker.Increment(item, now)
	if err := p.store.Put(ctx, item); err != nil {
		return decision, err
	}

	if err := p.emitter.Emit(cmd); err != nil {
		return decision, fmt.Errorf("failed to dispatch %s: %w", url, err)
	}

	p.logger.Debug("Dispatched work item",
		zap.String("url", url),
		zap.Int("attempt_count", item.AttemptCount),
	)
	return decision, nil
}
