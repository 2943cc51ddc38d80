package storage

import (
	"context"
	goerrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const fileScheme = "file://"

// LocalStore keeps blobs on the local filesystem under a root directory.
// Used for development and tests.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage dir %s", root)
	}
	return &LocalStore{root: root}, nil
}

func (l *LocalStore) Download(ctx context.Context, ref string, maxBytes int64) ([]byte, error) {
	path, err := localPath(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", ref)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", ref)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%s is %d bytes", ref, info.Size())
	}
	return io.ReadAll(f)
}

func (l *LocalStore) Upload(ctx context.Context, key string, body []byte) (string, error) {
	path := filepath.Join(l.root, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", errors.Wrapf(err, "failed to create dir for %s", key)
	}
	if err := os.WriteFile(path, body, 0600); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", key)
	}
	return fileScheme + path, nil
}

// URL returns the reference itself; local files have no expiring links.
func (l *LocalStore) URL(ctx context.Context, ref string, expiry time.Duration) (string, error) {
	if _, err := localPath(ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (l *LocalStore) Delete(ctx context.Context, ref string) error {
	path, err := localPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Clean(path)); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}

func localPath(ref string) (string, error) {
	if !strings.HasPrefix(ref, fileScheme) {
		return "", errors.Errorf("not a file uri: %q", ref)
	}
	return strings.TrimPrefix(ref, fileScheme), nil
}
