// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package service implements the artifact lifecycle engine: creation,
// patch updates, status and visibility transitions, blob slots, tags
// and the catalog query surface, enforcing the authorization and
// mutability rules over the persistence gateway.
package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/core/semversion"
	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/domain/artifact/state"
	"github.com/go-glare/glare/internal/artifacttype"
	"github.com/go-glare/glare/internal/blobstore"
	"github.com/go-glare/glare/internal/notify"
)

var logger = loggo.GetLogger("glare.service")

// State is the persistence gateway surface the lifecycle engine
// drives.
type State interface {
	Create(ctx context.Context, af *artifact.Artifact) error
	Get(ctx context.Context, id string, scope state.ReadScope) (*artifact.Artifact, error)
	Update(ctx context.Context, af *artifact.Artifact, touched []string) error
	MarkDeleted(ctx context.Context, id string) error
	PurgeArtifact(ctx context.Context, id string) error
	ReplaceTags(ctx context.Context, id string, tags []string, updatedAt time.Time) error
	List(ctx context.Context, q artifact.Query, scope state.ReadScope) (artifact.Page, error)

	BeginBlobUpload(ctx context.Context, artifactID, name, key string, isDict bool) (string, error)
	FinalizeBlobUpload(ctx context.Context, leaseID string, commit state.BlobCommit) error
	AbortBlobUpload(ctx context.Context, leaseID string) error
	PurgeBlob(ctx context.Context, blobID string) error
}

// Params tunes the lifecycle engine.
type Params struct {
	DefaultPageSize int
	MaxPageSize     int

	// MaxBlobSize caps blob payloads server-wide; a tighter per-slot
	// limit from the type definition still wins. Zero means no cap
	// beyond the per-slot limits.
	MaxBlobSize int64

	// DelayedBlobDelete leaves byte reclamation to the sweeper instead
	// of deleting blob payloads inline.
	DelayedBlobDelete bool

	// HTTPClient fetches external blob locations. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Service is the artifact lifecycle engine.
type Service struct {
	st       State
	registry *artifacttype.Registry
	store    blobstore.Store
	notifier *notify.Notifier
	clock    clock.Clock
	params   Params
}

// NewService wires a lifecycle engine from its dependencies.
func NewService(
	st State,
	registry *artifacttype.Registry,
	store blobstore.Store,
	notifier *notify.Notifier,
	clk clock.Clock,
	params Params,
) *Service {
	if params.HTTPClient == nil {
		params.HTTPClient = http.DefaultClient
	}
	return &Service{
		st:       st,
		registry: registry,
		store:    store,
		notifier: notifier,
		clock:    clk,
		params:   params,
	}
}

// Registry exposes the type registry for the schema endpoints.
func (s *Service) Registry() *artifacttype.Registry {
	return s.registry
}

func scopeFor(who identity.Identity) state.ReadScope {
	return state.ReadScope{
		Tenant:    who.TenantID,
		Admin:     who.IsAdmin(),
		Anonymous: who.Anonymous,
	}
}

func badRequestf(format string, args ...any) error {
	return errors.Annotatef(arterrors.BadRequest, format, args...)
}

func forbiddenf(format string, args ...any) error {
	return errors.Annotatef(arterrors.Forbidden, format, args...)
}

// Create builds a new queued private artifact from the decoded request
// body and persists it.
func (s *Service) Create(ctx context.Context, who identity.Identity, typeName string, body map[string]any) (*artifact.Artifact, error) {
	if who.Anonymous {
		return nil, forbiddenf("anonymous users cannot create artifacts")
	}
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, errors.Trace(err)
	}

	now := s.clock.Now().UTC()
	af := &artifact.Artifact{
		ID:          uuid.NewString(),
		TypeName:    typeName,
		Version:     "0.0.0",
		Owner:       who.TenantID,
		Visibility:  artifact.VisibilityPrivate,
		Status:      artifact.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
		LockVersion: 1,
		Properties:  make(map[string]any),
		Blobs:       make(map[string]*artifact.Blob),
		BlobDicts:   make(map[string]map[string]*artifact.Blob),
	}

	for name, raw := range body {
		if name == "visibility" {
			return nil, forbiddenf("visibility cannot be set on creation")
		}
		attr, ok := d.Attribute(name)
		if !ok {
			return nil, badRequestf("unknown attribute %q", name)
		}
		if attr.System {
			return nil, forbiddenf("attribute %q is read only", name)
		}
		if attr.Kind.Blob() {
			return nil, badRequestf("attribute %q is a blob and cannot be set directly", name)
		}
		value, err := attr.Coerce(raw)
		if err != nil {
			return nil, badRequestf("%v", err)
		}
		if err := s.setIntrinsic(af, name, value); err != nil {
			return nil, errors.Trace(err)
		}
		if artifacttype.Intrinsic(name) {
			continue
		}
		if value == nil {
			continue
		}
		af.Properties[name] = value
	}

	if af.Name == "" {
		return nil, badRequestf("name is required")
	}
	applyDefaults(d, af)
	if err := s.checkDependencies(ctx, who, d, af.Properties); err != nil {
		return nil, errors.Trace(err)
	}

	if err := s.st.Create(ctx, af); err != nil {
		return nil, errors.Trace(err)
	}
	s.emit(who, artifact.EventCreate, d, af)
	return af, nil
}

// setIntrinsic stores a coerced value into its dedicated artifact
// field, if it has one. Non-intrinsic names are left to the caller.
func (s *Service) setIntrinsic(af *artifact.Artifact, name string, value any) error {
	switch name {
	case "name":
		str, _ := value.(string)
		if str == "" {
			return badRequestf("name must not be empty")
		}
		af.Name = str
	case "version":
		str, _ := value.(string)
		version, err := semversion.Parse(str)
		if err != nil {
			return badRequestf("version %q is not a valid version", str)
		}
		af.Version = version.String()
	case "description":
		str, _ := value.(string)
		af.Description = str
	case "tags":
		af.Tags = toStrings(value)
	case "status":
		str, _ := value.(string)
		af.Status = artifact.Status(str)
	case "visibility":
		str, _ := value.(string)
		af.Visibility = artifact.Visibility(str)
	}
	return nil
}

func toStrings(value any) []string {
	list, _ := value.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, _ := item.(string)
		out = append(out, s)
	}
	return out
}

// applyDefaults fills declared defaults for attributes absent from the
// record. List and dict defaults are copied so records never share the
// descriptor's value.
func applyDefaults(d *artifacttype.Descriptor, af *artifact.Artifact) {
	for _, attr := range d.Attributes() {
		if attr.System || attr.Kind.Blob() || artifacttype.Intrinsic(attr.Name) {
			continue
		}
		if !attr.HasDefault || attr.Default == nil {
			continue
		}
		if _, ok := af.Properties[attr.Name]; ok {
			continue
		}
		af.Properties[attr.Name] = copyDefault(attr.Default)
	}
}

func copyDefault(value any) any {
	switch tv := value.(type) {
	case []any:
		out := make([]any, len(tv))
		copy(out, tv)
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, v := range tv {
			out[k] = v
		}
		return out
	}
	return value
}

// checkDependencies verifies referential integrity of dependency
// attributes: repository-local references must name an artifact the
// caller can see; anything else must be an http(s) URL.
func (s *Service) checkDependencies(ctx context.Context, who identity.Identity, d *artifacttype.Descriptor, props map[string]any) error {
	for name, value := range props {
		attr, ok := d.Attribute(name)
		if !ok {
			continue
		}
		var refs []string
		switch {
		case attr.Kind == artifacttype.KindDependency:
			if s, ok := value.(string); ok {
				refs = append(refs, s)
			}
		case attr.Kind == artifacttype.KindList && attr.Element == artifacttype.KindDependency:
			for _, item := range value.([]any) {
				if s, ok := item.(string); ok {
					refs = append(refs, s)
				}
			}
		case attr.Kind == artifacttype.KindDict && attr.Element == artifacttype.KindDependency:
			for _, item := range value.(map[string]any) {
				if s, ok := item.(string); ok {
					refs = append(refs, s)
				}
			}
		default:
			continue
		}
		for _, ref := range refs {
			if err := s.checkDependency(ctx, who, name, ref); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func (s *Service) checkDependency(ctx context.Context, who identity.Identity, name, ref string) error {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ref, "/"), "/")
	if len(parts) != 3 || parts[0] != "artifacts" {
		return badRequestf("attribute %q: dependency %q is not an artifact reference or http(s) URL", name, ref)
	}
	target, err := s.st.Get(ctx, parts[2], scopeFor(who))
	if err != nil {
		if errors.Is(err, arterrors.ArtifactNotFound) {
			return badRequestf("attribute %q: dependency %q does not exist", name, ref)
		}
		return errors.Trace(err)
	}
	if target.TypeName != parts[1] {
		return badRequestf("attribute %q: dependency %q does not exist", name, ref)
	}
	return nil
}

// Get loads one artifact visible to the caller.
func (s *Service) Get(ctx context.Context, who identity.Identity, typeName, id string) (*artifact.Artifact, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	af, err := s.st.Get(ctx, id, scopeFor(who))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if af.TypeName != d.Name {
		return nil, errors.Annotatef(arterrors.ArtifactNotFound, "artifact %q", id)
	}
	return af, nil
}

// Delete removes an artifact: the record is marked deleted and its blob
// payloads reclaimed, inline unless delayed deletion is configured.
func (s *Service) Delete(ctx context.Context, who identity.Identity, typeName, id string) error {
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return errors.Trace(err)
	}
	if who.Anonymous {
		return forbiddenf("anonymous users cannot delete artifacts")
	}
	admin := who.IsAdmin()
	if af.Visibility == artifact.VisibilityPublic && !admin {
		return forbiddenf("only administrators can delete public artifacts")
	}
	if !admin && !who.OwnerOf(af.Owner) {
		return errors.Annotatef(arterrors.ArtifactNotFound, "artifact %q", id)
	}

	if err := s.st.MarkDeleted(ctx, af.ID); err != nil {
		return errors.Trace(err)
	}
	if !s.params.DelayedBlobDelete {
		s.reclaimBlobs(ctx, af)
		if err := s.st.PurgeArtifact(ctx, af.ID); err != nil {
			return errors.Trace(err)
		}
	}
	d, _ := s.registry.GetType(typeName)
	s.emit(who, artifact.EventDelete, d, af)
	return nil
}

// reclaimBlobs deletes the stored payloads of every slot and purges the
// rows. Failures are logged; leftover rows stay pending_delete and the
// record is retried by the sweeper if one runs.
func (s *Service) reclaimBlobs(ctx context.Context, af *artifact.Artifact) {
	reclaim := func(b *artifact.Blob) {
		if b == nil {
			return
		}
		if !b.External && b.URL != "" {
			if err := s.store.Delete(ctx, b.URL); err != nil {
				logger.Errorf("deleting payload of blob %q: %v", b.ID, err)
				return
			}
		}
		if err := s.st.PurgeBlob(ctx, b.ID); err != nil {
			logger.Errorf("purging blob row %q: %v", b.ID, err)
		}
	}
	for _, b := range af.Blobs {
		reclaim(b)
	}
	for _, entries := range af.BlobDicts {
		for _, b := range entries {
			reclaim(b)
		}
	}
}

// Tags returns the artifact's tag list.
func (s *Service) Tags(ctx context.Context, who identity.Identity, typeName, id string) ([]string, error) {
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if af.Tags == nil {
		return []string{}, nil
	}
	return af.Tags, nil
}

// ReplaceTags atomically replaces the artifact's tag set and returns
// the new list.
func (s *Service) ReplaceTags(ctx context.Context, who identity.Identity, typeName, id string, tags []string) ([]string, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	af, err := s.Get(ctx, who, typeName, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	attr, _ := d.Attribute("tags")
	if err := s.authorizeWrite(who, af, attr); err != nil {
		return nil, errors.Trace(err)
	}

	raw := make([]any, len(tags))
	for i, t := range tags {
		raw[i] = t
	}
	if _, err := attr.Coerce(raw); err != nil {
		return nil, badRequestf("%v", err)
	}

	now := s.clock.Now().UTC()
	if err := s.st.ReplaceTags(ctx, af.ID, tags, now); err != nil {
		return nil, errors.Trace(err)
	}
	af.Tags = tags
	af.UpdatedAt = now
	s.emit(who, artifact.EventUpdate, d, af)
	return tags, nil
}

// ClearTags removes every tag from the artifact.
func (s *Service) ClearTags(ctx context.Context, who identity.Identity, typeName, id string) error {
	_, err := s.ReplaceTags(ctx, who, typeName, id, []string{})
	return errors.Trace(err)
}

// authorizeWrite enforces the mutation matrix for one attribute (nil
// attr means a write to the record in general, e.g. a blob dict entry):
// queued private records are fully writable by owner and admin;
// afterwards only mutable attributes may change, by the admin always
// and by the owner only while the record is active and private.
func (s *Service) authorizeWrite(who identity.Identity, af *artifact.Artifact, attr *artifacttype.Attribute) error {
	if who.Anonymous {
		return forbiddenf("anonymous users cannot modify artifacts")
	}
	if attr != nil && attr.System {
		return forbiddenf("attribute %q is read only", attr.Name)
	}
	admin := who.IsAdmin()
	if !admin && !who.OwnerOf(af.Owner) {
		return forbiddenf("artifact belongs to another tenant")
	}
	if af.Status == artifact.StatusQueued {
		return nil
	}
	if attr == nil || !attr.Mutable {
		name := "attribute"
		if attr != nil {
			name = "attribute " + attr.Name
		}
		return forbiddenf("%s is immutable once the artifact is activated", name)
	}
	if admin {
		return nil
	}
	if af.Visibility == artifact.VisibilityPublic {
		return forbiddenf("only administrators can modify public artifacts")
	}
	if af.Status == artifact.StatusDeactivated {
		return forbiddenf("only administrators can modify deactivated artifacts")
	}
	return nil
}

// emit publishes a lifecycle event, best effort.
func (s *Service) emit(who identity.Identity, event string, d *artifacttype.Descriptor, af *artifact.Artifact) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(who, event, af, Render(d, af), s.clock.Now())
}
