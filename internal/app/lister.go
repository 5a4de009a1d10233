package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"s3indexer/internal/config"
	"s3indexer/internal/dispatch"
	"s3indexer/internal/report"
	"s3indexer/internal/source"
	"s3indexer/internal/storage"
	"s3indexer/internal/tracker"

	"go.uber.org/zap"
)

func newBucketLister(bucket config.Bucket) (storage.Lister, error) {
	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint:         bucket.EndpointURL,
		AccessKey:        bucket.AccessKeyID,
		SecretKey:        bucket.SecretAccessKey,
		Region:           bucket.Region,
		SignatureVersion: bucket.SignatureVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for bucket %s: %w", bucket.Name, err)
	}
	return client, nil
}

// Inventory walks every configured bucket from its saved cursor and emits
// one command per listed object without consulting the tracker. The cursor
// is saved after each emitted line so an interrupted walk resumes after the
// last key written.
func (ix *Indexer) Inventory(ctx context.Context) (*report.Report, error) {
	ix.logger.Info("Starting inventory", zap.Int("buckets", len(ix.cfg.Buckets)))

	rep := report.New()
	for _, bucket := range ix.cfg.Buckets {
		if err := ctx.Err(); err != nil {
			ix.record(rep, bucket, report.StrategyCursor, ix.emptySummary(), err)
			continue
		}

		summary := report.Summary{Started: ix.now()}
		err := ix.inventoryBucket(ctx, bucket, &summary)
		if err == nil {
			err = ix.emitter.Done(bucket.Name)
		}
		summary.Finished = ix.now()
		ix.record(rep, bucket, report.StrategyCursor, summary, err)
	}

	rep.Log(ix.logger)
	ix.writeMetricsTextfile()
	return rep, rep.Err()
}

func (ix *Indexer) inventoryBucket(ctx context.Context, bucket config.Bucket, summary *report.Summary) error {
	cursor, err := ix.cursors.Load(ctx, bucket.Name)
	if err != nil {
		return err
	}
	if cursor != "" {
		ix.logger.Info("Resuming listing from cursor",
			zap.String("bucket", bucket.Name),
			zap.String("start_after", cursor),
		)
	}

	lister, err := ix.listerFor(bucket)
	if err != nil {
		return &source.EnumerationError{Bucket: bucket.Name, Err: err}
	}
	src := source.NewListingSource(lister, source.ListingOptions{
		Bucket:     bucket.Name,
		Region:     bucket.Region,
		StartAfter: cursor,
		UseV1:      ix.cfg.UseV1(bucket),
	}, ix.logger)

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
			if err := dispatch.CheckKey(obj.Key); err != nil {
				ix.logger.Warn("Skipping object with unsafe key",
					zap.String("bucket", bucket.Name),
					zap.String("key", obj.Key),
					zap.Error(err),
				)
				summary.Record(tracker.SkipInvalid)
				continue
			}

			cmd, err := dispatch.Render(obj, bucket, indexd, ix.cfg.Run.DryRun)
			if err != nil {
				return err
			}
			if err := ix.emitter.Emit(cmd); err != nil {
				return err
			}
			if err := ix.cursors.Save(ctx, bucket.Name, obj.Key); err != nil {
				return err
			}
			summary.Record(tracker.Proceed)
		}
	}
}
