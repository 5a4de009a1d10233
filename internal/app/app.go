package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"s3indexer/internal/checkpoint"
	"s3indexer/internal/config"
	"s3indexer/internal/dispatch"
	"s3indexer/internal/metrics"
	"s3indexer/internal/report"
	"s3indexer/internal/source"
	"s3indexer/internal/storage"
	"s3indexer/internal/tracker"

	"go.uber.org/zap"
)

// Mode selects which buckets a run covers.
type Mode int

const (
	ModeAll Mode = iota
	ModeUpload
	ModeExternal
)

func (m Mode) String() string {
	switch m {
	case ModeUpload:
		return "upload"
	case ModeExternal:
		return "external"
	default:
		return "all"
	}
}

// Option customizes an Indexer.
type Option func(*Indexer)

// WithOutput sends the command stream to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(ix *Indexer) { ix.out = w }
}

// WithListerFactory replaces the minio-backed lister used per bucket.
func WithListerFactory(f func(config.Bucket) (storage.Lister, error)) Option {
	return func(ix *Indexer) { ix.listerFor = f }
}

// WithIndexdDB uses db for the upload pass instead of connecting with the
// configured credentials. The Indexer does not close it.
func WithIndexdDB(db source.Querier) Option {
	return func(ix *Indexer) { ix.db = db }
}

// WithClock replaces the time source for attempts and pass timings.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) { ix.now = now }
}

// Indexer runs bucket passes and writes indexer invocations for the objects
// the retry policy lets through.
type Indexer struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *tracker.SQLiteStore
	policy    tracker.Policy
	cursors   checkpoint.Store
	metrics   *metrics.Collector
	emitter   *dispatch.Emitter
	processor *dispatch.Processor
	indexd    dispatch.IndexdConfig
	listerFor func(config.Bucket) (storage.Lister, error)
	out       io.Writer
	now       func() time.Time

	db       source.Querier
	dbCloser io.Closer
}

// New creates an indexer over the state directory of cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Indexer, error) {
	ix := &Indexer{
		cfg:       cfg,
		logger:    logger,
		policy:    cfg.Policy(),
		metrics:   metrics.New(),
		listerFor: newBucketLister,
		out:       os.Stdout,
		now:       time.Now,
		indexd: dispatch.IndexdConfig{
			URL:      cfg.IndexURL(),
			Username: cfg.Fence.IndexdUsername,
			Password: cfg.Fence.IndexdPassword,
		},
	}
	for _, opt := range opts {
		opt(ix)
	}

	if err := ix.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	store, err := tracker.NewSQLiteStore(cfg.Run.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker store: %w", err)
	}
	store.SetClock(ix.now)
	ix.store = store

	cursors, err := checkpoint.NewFileStore(cfg.Run.StateDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create cursor store: %w", err)
	}
	ix.cursors = cursors

	ix.emitter = dispatch.NewEmitter(ix.out)
	ix.processor = dispatch.NewProcessor(store, ix.policy, ix.emitter, ix.metrics, logger, cfg.Run.DryRun)
	ix.processor.SetClock(ix.now)

	return ix, nil
}

// Run performs the passes selected by mode, one bucket at a time. A failed
// pass is recorded and the remaining buckets still run; the returned error
// joins every failure.
func (ix *Indexer) Run(ctx context.Context, mode Mode) (*report.Report, error) {
	ix.logger.Info("Starting run",
		zap.Stringer("mode", mode),
		zap.Int("max_attempts", ix.policy.MaxAttempts),
		zap.Bool("dry_run", ix.cfg.Run.DryRun),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ix.startMetricsServer(runCtx)

	rep := report.New()
	if mode != ModeExternal {
		ix.runUpload(ctx, rep)
	}
	if mode != ModeUpload {
		ix.runExternal(ctx, rep)
	}

	rep.Log(ix.logger)
	ix.writeMetricsTextfile()
	return rep, rep.Err()
}

func (ix *Indexer) runUpload(ctx context.Context, rep *report.Report) {
	bucket, ok := ix.cfg.PrimaryBucket()
	if !ok {
		ix.logger.Info("No DATA_UPLOAD_BUCKET configured, skipping upload pass")
		return
	}

	db, err := ix.indexdDB(ctx)
	if err != nil {
		ix.record(rep, bucket, report.StrategyQuery, ix.emptySummary(),
			&source.EnumerationError{Bucket: bucket.Name, Err: err})
		return
	}
	if db == nil {
		ix.logger.Warn("No indexd database credentials, skipping upload pass", zap.String("bucket", bucket.Name))
		return
	}

	src := source.NewQuerySource(db, bucket.Name, bucket.Region, ix.logger)
	ix.pass(ctx, rep, bucket, report.StrategyQuery, src)
}

func (ix *Indexer) runExternal(ctx context.Context, rep *report.Report) {
	buckets := ix.cfg.ExternalBuckets()
	if len(buckets) == 0 {
		ix.logger.Info("No external_buckets defined")
		if err := ix.emitter.Note("No external_buckets defined"); err != nil {
			ix.logger.Error("Failed to write output", zap.Error(err))
		}
		return
	}

	for _, bucket := range buckets {
		// Buckets not reached before cancellation still count as failed.
		if err := ctx.Err(); err != nil {
			ix.record(rep, bucket, report.StrategyListing, ix.emptySummary(), err)
			continue
		}

		lister, err := ix.listerFor(bucket)
		if err != nil {
			ix.record(rep, bucket, report.StrategyListing, ix.emptySummary(),
				&source.EnumerationError{Bucket: bucket.Name, Err: err})
			continue
		}

		src := source.NewListingSource(lister, source.ListingOptions{
			Bucket: bucket.Name,
			Region: bucket.Region,
			UseV1:  ix.cfg.UseV1(bucket),
		}, ix.logger)
		ix.pass(ctx, rep, bucket, report.StrategyListing, src)
	}
}

// pass drains src through the processor and marks the bucket done on success.
func (ix *Indexer) pass(ctx context.Context, rep *report.Report, bucket config.Bucket, strategy report.Strategy, src source.Source) {
	ix.logger.Info("Starting bucket pass",
		zap.String("bucket", bucket.Name),
		zap.String("strategy", string(strategy)),
	)

	summary := report.Summary{Started: ix.now()}
	err := ix.drain(ctx, bucket, src, &summary)
	if err == nil {
		err = ix.emitter.Done(bucket.Name)
	}
	summary.Finished = ix.now()

	ix.record(rep, bucket, strategy, summary, err)
}

func (ix *Indexer) drain(ctx context.Context, bucket config.Bucket, src source.Source, summary *report.Summary) error {
	indexd := ix.indexd.ForBucket(bucket)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		objects, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			summary.EmptyPages++
		}

		for _, obj := range objects {
			decision, err := ix.processor.Process(ctx, bucket, indexd, obj)
			if err != nil {
				return err
			}
			summary.Record(decision)
		}
	}
}

func (ix *Indexer) emptySummary() report.Summary {
	now := ix.now()
	return report.Summary{Started: now, Finished: now}
}

func (ix *Indexer) record(rep *report.Report, bucket config.Bucket, strategy report.Strategy, summary report.Summary, err error) {
	ix.metrics.ObservePass(bucket.Name, string(strategy), summary.Duration(), err)
	rep.Add(report.Result{
		Bucket:   bucket.Name,
		Strategy: strategy,
		Summary:  summary,
		Err:      err,
	})
}

// indexdDB returns the injected database, or connects with the configured
// credentials. It returns nil without error when neither is available.
func (ix *Indexer) indexdDB(ctx context.Context) (source.Querier, error) {
	if ix.db != nil {
		return ix.db, nil
	}
	creds := ix.cfg.IndexdDB
	if creds == nil {
		return nil, nil
	}

	db, err := source.OpenIndexdDB(ctx, source.DBConfig{
		Username: creds.Username,
		Password: creds.Password,
		Host:     creds.Host,
		Database: creds.Database,
	})
	if err != nil {
		return nil, err
	}
	ix.db = db
	ix.dbCloser = db
	return db, nil
}

func (ix *Indexer) startMetricsServer(ctx context.Context) {
	addr := ix.cfg.Run.MetricsAddr
	if addr == "" {
		return
	}
	go func() {
		if err := ix.metrics.StartServer(ctx, addr); err != nil {
			ix.logger.Error("Failed to start metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

func (ix *Indexer) writeMetricsTextfile() {
	path := ix.cfg.Run.MetricsTextfile
	if path == "" {
		return
	}
	if err := ix.metrics.WriteTextfile(path); err != nil {
		ix.logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

// Close releases the tracker store and any database opened by the indexer.
func (ix *Indexer) Close() error {
	var errs []error
	if ix.store != nil {
		errs = append(errs, ix.store.Close())
	}
	if ix.dbCloser != nil {
		errs = append(errs, ix.dbCloser.Close())
	}
	return errors.Join(errs...)
}
