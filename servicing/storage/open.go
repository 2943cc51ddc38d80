package storage

import (
	"github.com/pkg/errors"
)

// Open returns the BlobStore selected by cfg.Kind.
func Open(cfg Config) (BlobStore, error) {
	switch cfg.Kind {
	case "s3":
		return NewS3Store(cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, errors.Errorf("unsupported storage kind %q", cfg.Kind)
	}
}
