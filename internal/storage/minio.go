package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	awsEndpoint = "s3.amazonaws.com"

	// DefaultRegion marks a bucket whose region is not known.
	DefaultRegion = "default"

	defaultMaxKeys = 1000
)

// MinIOClient implements Lister using minio-go
type MinIOClient struct {
	core *minio.Core
}

// NewMinIOClient creates a new MinIO client. An empty endpoint means AWS S3;
// custom endpoints use path-style addressing like most non-AWS services.
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	endpoint := awsEndpoint
	secure := true
	lookup := minio.BucketLookupAuto

	if cfg.Endpoint != "" {
		var err error
		endpoint, err = cleanEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		secure = !strings.HasPrefix(cfg.Endpoint, "http://")
		lookup = minio.BucketLookupPath
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.SignatureVersion == "s3" {
		creds = credentials.NewStaticV2(cfg.AccessKey, cfg.SecretKey, "")
	}

	region := cfg.Region
	if region == DefaultRegion {
		region = ""
	}

	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{core: core}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, add http:// for parsing
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		// Check if it's already in host:port format
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// ListPage fetches one page with ListObjectsV2, or ListObjects (marker) when
// req.UseV1 is set.
func (c *MinIOClient) ListPage(ctx context.Context, bucket string, req PageRequest) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	maxKeys := req.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	if req.UseV1 {
		marker := req.Token
		if marker == "" {
			marker = req.StartAfter
		}
		res, err := c.core.ListObjects(bucket, "", marker, "", maxKeys)
		if err != nil {
			return Page{}, err
		}
		page := Page{Objects: convertObjects(res.Contents), Truncated: res.IsTruncated}
		if res.IsTruncated {
			// NextMarker is only returned when a delimiter is set.
			page.NextToken = res.NextMarker
			if page.NextToken == "" && len(res.Contents) > 0 {
				page.NextToken = res.Contents[len(res.Contents)-1].Key
			}
		}
		return page, nil
	}

	res, err := c.core.ListObjectsV2(bucket, "", req.StartAfter, req.Token, "", maxKeys)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Objects:   convertObjects(res.Contents),
		NextToken: res.NextContinuationToken,
		Truncated: res.IsTruncated,
	}, nil
}

// BucketRegion asks the service for the bucket location.
func (c *MinIOClient) BucketRegion(ctx context.Context, bucket string) (string, error) {
	return c.core.GetBucketLocation(ctx, bucket)
}

func convertObjects(contents []minio.ObjectInfo) []ObjectInfo {
	objects := make([]ObjectInfo, 0, len(contents))
	for _, obj := range contents {
		objects = append(objects, ObjectInfo{Key: obj.Key})
	}
	return objects
}
