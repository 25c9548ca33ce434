// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package blobstore_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/internal/blobstore"
)

type probeSuite struct{}

var _ = gc.Suite(&probeSuite{})

func (s *probeSuite) TestProbe(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-thing")
		w.Write([]byte("external payload"))
	}))
	defer srv.Close()

	meta, err := blobstore.ProbeExternal(context.Background(), nil, srv.URL+"/data", 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Size, gc.Equals, int64(len("external payload")))
	c.Check(meta.Checksum, gc.Equals, md5hex("external payload"))
	c.Check(meta.ContentType, gc.Equals, "application/x-thing")
}

func (s *probeSuite) TestProbeDefaultsContentType(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Suppress the automatic Content-Type header.
		w.Header()["Content-Type"] = nil
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	meta, err := blobstore.ProbeExternal(context.Background(), nil, srv.URL, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.ContentType, gc.Equals, blobstore.DefaultContentType)
}

func (s *probeSuite) TestProbeRejectsSchemes(c *gc.C) {
	for _, raw := range []string{"ftp://example.com/x", "file:///etc/passwd", "not a url"} {
		_, err := blobstore.ProbeExternal(context.Background(), nil, raw, 0)
		c.Check(err, jc.ErrorIs, arterrors.BadRequest, gc.Commentf("url=%q", raw))
	}
}

func (s *probeSuite) TestProbeNon200(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	_, err := blobstore.ProbeExternal(context.Background(), nil, srv.URL, 0)
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
	c.Check(err, gc.ErrorMatches, `external blob location ".*" returned status 404.*`)
}

func (s *probeSuite) TestProbeSizeCap(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("far too many bytes"))
	}))
	defer srv.Close()

	_, err := blobstore.ProbeExternal(context.Background(), nil, srv.URL, 4)
	c.Check(err, jc.ErrorIs, arterrors.TooLarge)
}
