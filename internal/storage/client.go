package storage

import "context"

// Lister defines the listing operations the indexer needs from an
// S3-compatible service
type Lister interface {
	// ListPage fetches one page of a bucket listing.
	ListPage(ctx context.Context, bucket string, req PageRequest) (Page, error)
	// BucketRegion reports the region the service places bucket in.
	BucketRegion(ctx context.Context, bucket string) (string, error)
}

// PageRequest selects a page of a listing. Token is the value returned in
// the previous Page.NextToken; StartAfter seeds the first request.
type PageRequest struct {
	StartAfter string
	Token      string
	MaxKeys    int
	UseV1      bool
}

// Page is one listing response
type Page struct {
	Objects   []ObjectInfo
	NextToken string
	Truncated bool
}

// ObjectInfo identifies one listed object
type ObjectInfo struct {
	Key string
}

// Config contains client configuration
type Config struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Region           string
	SignatureVersion string
}
