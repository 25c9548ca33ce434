// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package blobstore streams artifact blob payloads to and from the
// backing object store. Uploads hash while streaming and enforce the
// slot's size cap; the MD5 checksum is historical and must stay
// bit-exact for client compatibility.
package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

// DefaultContentType is assumed for uploads that carry no usable
// content type.
const DefaultContentType = "application/octet-stream"

// Meta describes stored bytes: what the persistence layer records when
// a blob slot finalizes.
type Meta struct {
	Size        int64
	Checksum    string
	ContentType string
}

// Store is the object store behind blob slots. Keys are derived from
// (tenant, artifact id, slot path) by the service layer.
type Store interface {
	// Put streams the reader into the store under key, returning the
	// byte count and MD5 checksum. Exceeding maxBytes terminates the
	// stream early with a TooLarge error and nothing is kept.
	Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (Meta, error)

	// Get opens the stored bytes for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Delete removes the stored bytes. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error
}

// BlobKey derives the store key for a blob slot.
func BlobKey(tenant, artifactID, slotPath string) string {
	return strings.Join([]string{tenant, artifactID, slotPath}, "/")
}

// hashingReader counts and hashes bytes as they stream through, and
// fails once more than max bytes have been read.
type hashingReader struct {
	r    io.Reader
	hash io.Writer
	n    int64
	max  int64
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.n += int64(n)
		if h.max > 0 && h.n > h.max {
			return n, errors.Annotatef(arterrors.TooLarge,
				"blob exceeds maximum size %s", humanize.IBytes(uint64(h.max)))
		}
		_, _ = h.hash.Write(p[:n])
	}
	return n, err
}

func newHasher(r io.Reader, maxBytes int64) (*hashingReader, func() string) {
	digest := md5.New()
	hr := &hashingReader{r: r, hash: digest, max: maxBytes}
	return hr, func() string { return hex.EncodeToString(digest.Sum(nil)) }
}
