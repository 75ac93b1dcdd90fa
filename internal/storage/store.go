package storage

import (
	"context"
	"time"
)

// Bucket names used by the try-on pipeline. Garments and user photos are
// written by the wardrobe subsystem; this service only reads them and owns
// the results bucket.
const (
	BucketGarments   = "garments"
	BucketUserPhotos = "user-photos"
	BucketResults    = "tryon-results"
)

// ObjectStore abstracts the object storage collaborator. Uploads overwrite
// any prior object at the same key.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, bucket string, keys ...string) error
}
