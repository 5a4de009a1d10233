package checkpoint

import "context"

// Store persists the last object key seen for a bucket so a listing can be
// restarted with start-after semantics. It assumes a single writer.
type Store interface {
	// Load returns the saved key, or "" when the bucket has no cursor yet.
	Load(ctx context.Context, bucket string) (string, error)
	Save(ctx context.Context, bucket, key string) error
}
