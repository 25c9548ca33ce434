// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package blobstore

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/juju/errors"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

// ProbeExternal fetches an external blob location once to learn its
// size, checksum and content type. The bytes are hashed and discarded;
// only http and https locations are accepted.
func ProbeExternal(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) (Meta, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Meta{}, errors.Annotatef(arterrors.BadRequest,
			"external blob location %q is not an http(s) URL", rawURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Meta{}, errors.Annotatef(arterrors.BadRequest,
			"external blob location %q is unreachable", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Meta{}, errors.Annotatef(arterrors.BadRequest,
			"external blob location %q returned status %d", rawURL, resp.StatusCode)
	}

	hasher, sum := newHasher(resp.Body, maxBytes)
	n, err := io.Copy(io.Discard, hasher)
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	return Meta{Size: n, Checksum: sum(), ContentType: contentType}, nil
}
