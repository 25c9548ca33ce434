// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/im7mortal/kmutex"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

var logger = loggo.GetLogger("glare.blobstore")

// fileStore keeps blobs as files under a root directory. Writes go to
// a temp file first and rename into place, and a per-key mutex keeps
// concurrent writers to the same key from interleaving. The slot lease
// in the database already serializes uploads per slot; the key mutex
// guards the filesystem itself.
type fileStore struct {
	root  string
	locks *kmutex.Kmutex
}

// NewFileStore returns a Store rooted at dir, creating it if needed.
func NewFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "creating blob store root %q", dir)
	}
	return &fileStore{root: dir, locks: kmutex.New()}, nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put implements Store.
func (s *fileStore) Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (Meta, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, errors.Trace(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hasher, sum := newHasher(r, maxBytes)
	n, err := copyWithContext(ctx, tmp, hasher)
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	if err := tmp.Close(); err != nil {
		return Meta{}, errors.Trace(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Meta{}, errors.Trace(err)
	}
	logger.Debugf("stored blob %q (%d bytes)", key, n)
	return Meta{Size: n, Checksum: sum()}, nil
}

// Get implements Store.
func (s *fileStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errors.Annotatef(arterrors.BlobNotFound, "blob %q", key)
		}
		return nil, 0, errors.Trace(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, errors.Trace(err)
	}
	return f, info.Size(), nil
}

// Delete implements Store.
func (s *fileStore) Delete(ctx context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}

// copyWithContext copies in chunks, observing ctx between chunks so a
// cancelled upload stops promptly and leaves no partial blob behind.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, errors.Trace(ctx.Err())
		default:
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, errors.Trace(werr)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, errors.Trace(err)
		}
	}
}
