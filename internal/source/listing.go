package source

import (
	"context"
	"io"

	"s3indexer/internal/storage"

	"go.uber.org/zap"
)

// ListingOptions configures a ListingSource.
type ListingOptions struct {
	Bucket     string
	Region     string
	StartAfter string
	UseV1      bool
	MaxKeys    int
}

// ListingSource pages through a bucket listing.
type ListingSource struct {
	lister storage.Lister
	opts   ListingOptions
	logger *zap.Logger

	token  string
	region string
	done   bool
}

// NewListingSource creates a listing over opts.Bucket, starting after
// opts.StartAfter when set.
func NewListingSource(lister storage.Lister, opts ListingOptions, logger *zap.Logger) *ListingSource {
	return &ListingSource{
		lister: lister,
		opts:   opts,
		logger: logger.With(zap.String("bucket", opts.Bucket)),
	}
}

// Next returns the next page of objects.
func (s *ListingSource) Next(ctx context.Context) ([]Object, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.region == "" {
		s.region = s.resolveRegion(ctx)
	}

	page, err := s.lister.ListPage(ctx, s.opts.Bucket, storage.PageRequest{
		StartAfter: s.opts.StartAfter,
		Token:      s.token,
		MaxKeys:    s.opts.MaxKeys,
		UseV1:      s.opts.UseV1,
	})
	if err != nil {
		s.done = true
		return nil, &EnumerationError{Bucket: s.opts.Bucket, Err: err}
	}

	if len(page.Objects) == 0 {
		s.logger.Info("Nothing to do for bucket")
		s.logger.Debug("Empty listing page",
			zap.Bool("truncated", page.Truncated),
			zap.String("next_token", page.NextToken),
		)
	}

	objects := make([]Object, 0, len(page.Objects))
	for _, obj := range page.Objects {
		objects = append(objects, Object{Key: obj.Key, Region: s.region})
	}

	if !page.Truncated || page.NextToken == "" {
		s.done = true
	} else {
		s.token = page.NextToken
	}

	return objects, nil
}

// resolveRegion prefers the location reported by the service, then the
// configured region, then the "default" sentinel.
func (s *ListingSource) resolveRegion(ctx context.Context) string {
	region, err := s.lister.BucketRegion(ctx, s.opts.Bucket)
	if err != nil {
		s.logger.Debug("Bucket location unavailable", zap.Error(err))
	}
	if region != "" && err == nil {
		return region
	}
	if s.opts.Region != "" {
		return s.opts.Region
	}
	return storage.DefaultRegion
}
