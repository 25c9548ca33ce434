// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"io"
	"net/http"

	"github.com/juju/errors"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/domain/artifact/state"
	"github.com/go-glare/glare/internal/artifacttype"
	"github.com/go-glare/glare/internal/blobstore"
)

// resolveBlobAttr maps a blob path onto its declared attribute: a bare
// name addresses a blob attribute, a name plus key addresses one entry
// of a blob dictionary.
func resolveBlobAttr(d *artifacttype.Descriptor, name, key string) (*artifacttype.Attribute, error) {
	attr, ok := d.Attribute(name)
	if !ok {
		return nil, badRequestf("unknown attribute %q", name)
	}
	if key == "" {
		if attr.Kind != artifacttype.KindBlob {
			return nil, badRequestf("attribute %q is not a blob", name)
		}
	} else if attr.Kind != artifacttype.KindBlobDict {
		return nil, badRequestf("attribute %q is not a blob dictionary", name)
	}
	return attr, nil
}

func slotPath(name, key string) string {
	if key == "" {
		return name
	}
	return name + "/" + key
}

// sizeLimit is the effective payload cap for a slot: the per-slot
// limit, tightened by the server-wide cap when one is configured.
func (s *Service) sizeLimit(attr *artifacttype.Attribute) int64 {
	limit := attr.MaxBlobSize
	if s.params.MaxBlobSize > 0 && s.params.MaxBlobSize < limit {
		limit = s.params.MaxBlobSize
	}
	return limit
}

// UploadBlob streams the request body into the slot's store location
// under an upload lease and commits the slot on success.
func (s *Service) UploadBlob(ctx context.Context, who identity.Identity, typeName, id, name, key, contentType string, body io.Reader) (*artifact.Artifact, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	attr, err := resolveBlobAttr(d, name, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.authorizeWrite(who, af, attr); err != nil {
		return nil, errors.Trace(err)
	}
	if existing := af.Blob(name, key); existing != nil {
		if existing.Status == artifact.BlobSaving {
			return nil, errors.Annotatef(arterrors.SlotBusy, "blob %q", slotPath(name, key))
		}
		return nil, errors.Annotatef(arterrors.Conflict, "blob %q already holds data", slotPath(name, key))
	}

	lease, err := s.st.BeginBlobUpload(ctx, af.ID, name, key, attr.Kind == artifacttype.KindBlobDict)
	if err != nil {
		return nil, errors.Trace(err)
	}
	storeKey := blobstore.BlobKey(af.Owner, af.ID, slotPath(name, key))
	meta, err := s.store.Put(ctx, storeKey, body, s.sizeLimit(attr))
	if err != nil {
		s.abortLease(ctx, lease)
		return nil, errors.Trace(err)
	}
	if contentType == "" {
		contentType = blobstore.DefaultContentType
	}
	err = s.st.FinalizeBlobUpload(ctx, lease, state.BlobCommit{
		URL:         storeKey,
		Size:        meta.Size,
		Checksum:    meta.Checksum,
		ContentType: contentType,
		UpdatedAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	af, err = s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.emit(who, artifact.EventUpdate, d, af)
	return af, nil
}

// AddBlobLocation registers an external location for the slot. The
// location is fetched once to record size, checksum and content type;
// the bytes themselves stay external.
func (s *Service) AddBlobLocation(ctx context.Context, who identity.Identity, typeName, id, name, key, location string) (*artifact.Artifact, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	attr, err := resolveBlobAttr(d, name, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.authorizeWrite(who, af, attr); err != nil {
		return nil, errors.Trace(err)
	}
	if af.Blob(name, key) != nil {
		return nil, errors.Annotatef(arterrors.Conflict, "blob %q already holds data", slotPath(name, key))
	}

	lease, err := s.st.BeginBlobUpload(ctx, af.ID, name, key, attr.Kind == artifacttype.KindBlobDict)
	if err != nil {
		return nil, errors.Trace(err)
	}
	meta, err := blobstore.ProbeExternal(ctx, s.params.HTTPClient, location, s.sizeLimit(attr))
	if err != nil {
		s.abortLease(ctx, lease)
		return nil, errors.Trace(err)
	}
	err = s.st.FinalizeBlobUpload(ctx, lease, state.BlobCommit{
		URL:         location,
		Size:        meta.Size,
		Checksum:    meta.Checksum,
		ContentType: meta.ContentType,
		External:    true,
		UpdatedAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	af, err = s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.emit(who, artifact.EventUpdate, d, af)
	return af, nil
}

func (s *Service) abortLease(ctx context.Context, lease string) {
	if err := s.st.AbortBlobUpload(ctx, lease); err != nil {
		logger.Errorf("aborting blob upload lease %q: %v", lease, err)
	}
}

// DownloadBlob opens the slot's payload for streaming. External slots
// are fetched server side so the client sees one consistent surface.
func (s *Service) DownloadBlob(ctx context.Context, who identity.Identity, typeName, id, name, key string) (io.ReadCloser, *artifact.Blob, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if af.Status == artifact.StatusDeactivated && !who.IsAdmin() {
		return nil, nil, forbiddenf("artifact is deactivated")
	}
	if _, err := resolveBlobAttr(d, name, key); err != nil {
		return nil, nil, errors.Trace(err)
	}
	b := af.Blob(name, key)
	if b == nil {
		return nil, nil, errors.Annotatef(arterrors.BlobNotFound, "blob %q", slotPath(name, key))
	}
	if b.Status != artifact.BlobActive {
		return nil, nil, badRequestf("blob %q holds no committed data", slotPath(name, key))
	}

	if b.External {
		rc, err := s.openExternal(ctx, b.URL)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return rc, b, nil
	}
	rc, _, err := s.store.Get(ctx, b.URL)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return rc, b, nil
}

func (s *Service) openExternal(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	resp, err := s.params.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching external blob %q", location)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Errorf("external blob %q returned status %d", location, resp.StatusCode)
	}
	return resp.Body, nil
}
