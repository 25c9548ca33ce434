// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package blobstore_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/internal/blobstore"
)

type fileStoreSuite struct {
	store blobstore.Store
}

var _ = gc.Suite(&fileStoreSuite{})

func (s *fileStoreSuite) SetUpTest(c *gc.C) {
	store, err := blobstore.NewFileStore(c.MkDir())
	c.Assert(err, jc.ErrorIsNil)
	s.store = store
}

func md5hex(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (s *fileStoreSuite) TestPutGetRoundTrip(c *gc.C) {
	ctx := context.Background()
	meta, err := s.store.Put(ctx, "tenant/artifact/blob", strings.NewReader("payload bytes"), 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Size, gc.Equals, int64(len("payload bytes")))
	c.Check(meta.Checksum, gc.Equals, md5hex("payload bytes"))

	rc, size, err := s.store.Get(ctx, "tenant/artifact/blob")
	c.Assert(err, jc.ErrorIsNil)
	defer rc.Close()
	c.Check(size, gc.Equals, int64(len("payload bytes")))
	data, err := io.ReadAll(rc)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "payload bytes")
}

func (s *fileStoreSuite) TestPutReplacesExisting(c *gc.C) {
	ctx := context.Background()
	_, err := s.store.Put(ctx, "key", strings.NewReader("first"), 0)
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.store.Put(ctx, "key", strings.NewReader("second"), 0)
	c.Assert(err, jc.ErrorIsNil)

	rc, _, err := s.store.Get(ctx, "key")
	c.Assert(err, jc.ErrorIsNil)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "second")
}

func (s *fileStoreSuite) TestPutEnforcesSizeCap(c *gc.C) {
	ctx := context.Background()
	_, err := s.store.Put(ctx, "key", strings.NewReader("over the limit"), 4)
	c.Check(err, jc.ErrorIs, arterrors.TooLarge)

	// Nothing was kept.
	_, _, err = s.store.Get(ctx, "key")
	c.Check(err, jc.ErrorIs, arterrors.BlobNotFound)
}

func (s *fileStoreSuite) TestGetMissing(c *gc.C) {
	_, _, err := s.store.Get(context.Background(), "nonesuch")
	c.Check(err, jc.ErrorIs, arterrors.BlobNotFound)
	c.Check(err, gc.ErrorMatches, `blob "nonesuch": blob not found`)
}

func (s *fileStoreSuite) TestDelete(c *gc.C) {
	ctx := context.Background()
	_, err := s.store.Put(ctx, "key", strings.NewReader("payload"), 0)
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.store.Delete(ctx, "key"), jc.ErrorIsNil)
	_, _, err = s.store.Get(ctx, "key")
	c.Check(err, jc.ErrorIs, arterrors.BlobNotFound)

	// Deleting a missing key is fine.
	c.Check(s.store.Delete(ctx, "key"), jc.ErrorIsNil)
}

func (s *fileStoreSuite) TestCancelledUpload(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.store.Put(ctx, "key", strings.NewReader("payload"), 0)
	c.Check(err, jc.ErrorIs, context.Canceled)
	_, _, err = s.store.Get(context.Background(), "key")
	c.Check(err, jc.ErrorIs, arterrors.BlobNotFound)
}

func (s *fileStoreSuite) TestBlobKey(c *gc.C) {
	c.Check(blobstore.BlobKey("tenant-1", "abc", "blob"), gc.Equals, "tenant-1/abc/blob")
	c.Check(blobstore.BlobKey("tenant-1", "abc", "dict/one"), gc.Equals, "tenant-1/abc/dict/one")
}
