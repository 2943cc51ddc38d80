// Package storage moves bulk job input and output files in and out of blob
// storage. References are URIs: s3://bucket/key or file:///path.
package storage

import (
	"context"
	goerrors "errors"
	"time"
)

// ErrTooLarge is returned by Download when the object exceeds the allowed size.
var ErrTooLarge = goerrors.New("file exceeds maximum allowed size")

type BlobStore interface {
	// Download reads the referenced object, refusing anything above maxBytes.
	Download(ctx context.Context, ref string, maxBytes int64) ([]byte, error)
	// Upload writes body under key and returns the reference to it.
	Upload(ctx context.Context, key string, body []byte) (string, error)
	// URL returns a link an operator can use to fetch the referenced object.
	URL(ctx context.Context, ref string, expiry time.Duration) (string, error)
	// Delete removes the referenced object. Deleting a missing object is not an error.
	Delete(ctx context.Context, ref string) error
}

type Config struct {
	Kind     string `conf:"BULK_STORAGE" conf_default:"s3"`
	Bucket   string `conf:"BULK_S3_BUCKET"`
	LocalDir string `conf:"BULK_LOCAL_STORAGE_DIR" conf_default:"/tmp/servicing"`
	Endpoint string `conf:"AWS_ENDPOINT"`
	RoleArn  string `conf:"AWS_ASSUME_ROLE_ARN"`
}
