// Package source enumerates candidate objects for a bucket.
//
// Two strategies produce the same page-at-a-time sequence: a ListingSource
// walks a bucket listing and can be seeded with a start-after cursor, while a
// QuerySource re-scans the indexd metadata store for records that were
// registered but never sized. Both return io.EOF once exhausted.
package source

import (
	"context"
	"fmt"
)

// Object is one candidate produced by a Source.
type Object struct {
	Key    string
	Region string
}

// Source produces candidates one page at a time. An empty page with a nil
// error is valid; io.EOF marks the end of the sequence.
type Source interface {
	Next(ctx context.Context) ([]Object, error)
}

// EnumerationError reports a listing or query failure. It aborts only the
// pass over Bucket.
type EnumerationError struct {
	Bucket string
	Err    error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerating %s: %v", e.Bucket, e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}
