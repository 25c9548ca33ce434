// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service_test

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/domain/artifact/service"
	"github.com/go-glare/glare/domain/artifact/state"
	"github.com/go-glare/glare/internal/artifacttype"
	"github.com/go-glare/glare/internal/blobstore"
	dbtesting "github.com/go-glare/glare/internal/database/testing"
	"github.com/go-glare/glare/internal/jsonpatch"
	"github.com/go-glare/glare/internal/notify"
)

var (
	owner = identity.Identity{UserID: "user-1", TenantID: "tenant-1"}
	other = identity.Identity{UserID: "user-2", TenantID: "tenant-2"}
	admin = identity.Identity{UserID: "root", TenantID: "tenant-admin", Roles: []string{"admin"}}
	anon  = identity.Anonymous()
)

var startTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// baseSuite wires a lifecycle engine over a real in-memory database, a
// filesystem blob store and a recording notification hub. It is not
// registered itself; the per-area suites embed it.
type baseSuite struct {
	dbtesting.DBSuite

	clock    *testclock.Clock
	store    blobstore.Store
	recorder *notify.Recorder
	svc      *service.Service
}

type serviceSuite struct {
	baseSuite
}

var _ = gc.Suite(&serviceSuite{})

func (s *baseSuite) SetUpTest(c *gc.C) {
	s.DBSuite.SetUpTest(c)

	s.clock = testclock.NewClock(startTime)
	store, err := blobstore.NewFileStore(c.MkDir())
	c.Assert(err, jc.ErrorIsNil)
	s.store = store

	hub := notify.NewHub()
	s.recorder, err = notify.NewRecorder(hub)
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(*gc.C) { s.recorder.Close() })

	registry, err := artifacttype.New(append(artifacttype.BuiltinTypes(), artifacttype.SampleArtifact())...)
	c.Assert(err, jc.ErrorIsNil)

	s.svc = service.NewService(
		state.NewState(s.Runner), registry, store, notify.NewNotifier(hub),
		s.clock, service.Params{DefaultPageSize: 25, MaxPageSize: 1000},
	)
}

func patchOps(c *gc.C, doc string) []jsonpatch.Operation {
	ops, err := jsonpatch.Parse([]byte(doc))
	c.Assert(err, jc.ErrorIsNil)
	return ops
}

func (s *baseSuite) nextEvent(c *gc.C) notify.Event {
	select {
	case ev := <-s.recorder.Events():
		return ev
	case <-time.After(5 * time.Second):
		c.Fatalf("timed out waiting for event")
	}
	return notify.Event{}
}

func (s *baseSuite) create(c *gc.C, who identity.Identity, body map[string]any) *artifact.Artifact {
	af, err := s.svc.Create(context.Background(), who, "sample_artifact", body)
	c.Assert(err, jc.ErrorIsNil)
	return af
}

func (s *serviceSuite) TestCreateMinimal(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})

	c.Check(af.Name, gc.Equals, "unit")
	c.Check(af.Version, gc.Equals, "0.0.0")
	c.Check(af.Owner, gc.Equals, "tenant-1")
	c.Check(af.Status, gc.Equals, artifact.StatusQueued)
	c.Check(af.Visibility, gc.Equals, artifact.VisibilityPrivate)
	c.Check(af.CreatedAt.Equal(startTime), jc.IsTrue)

	ev := s.nextEvent(c)
	c.Check(ev.EventType, gc.Equals, artifact.EventCreate)
	c.Check(ev.TenantID, gc.Equals, "tenant-1")
	c.Check(ev.TypeName, gc.Equals, "sample_artifact")
	c.Check(ev.Artifact["name"], gc.Equals, "unit")
}

func (s *serviceSuite) TestCreateAppliesDefaults(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	c.Check(af.Properties["bool1"], gc.Equals, false)
	c.Check(af.Properties["list_of_str"], gc.DeepEquals, []any{})
	c.Check(af.Properties["dict_of_str"], gc.DeepEquals, map[string]any{})
}

func (s *serviceSuite) TestCreateCoercesAttributes(c *gc.C) {
	af := s.create(c, owner, map[string]any{
		"name":    "unit",
		"version": "2.1",
		"int1":    "17",
		"bool1":   "yes",
	})
	c.Check(af.Version, gc.Equals, "2.1.0")
	c.Check(af.Properties["int1"], gc.Equals, int64(17))
	c.Check(af.Properties["bool1"], gc.Equals, true)
}

func (s *serviceSuite) TestCreateRequiresName(c *gc.C) {
	_, err := s.svc.Create(context.Background(), owner, "sample_artifact", map[string]any{})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
	c.Check(err, gc.ErrorMatches, "name is required.*")
}

func (s *serviceSuite) TestCreateRejections(c *gc.C) {
	ctx := context.Background()
	for _, t := range []struct {
		about string
		who   identity.Identity
		body  map[string]any
		match string
		is    error
	}{{
		about: "anonymous caller",
		who:   anon,
		body:  map[string]any{"name": "x"},
		match: "anonymous users cannot create artifacts.*",
		is:    arterrors.Forbidden,
	}, {
		about: "visibility in body",
		who:   owner,
		body:  map[string]any{"name": "x", "visibility": "public"},
		match: "visibility cannot be set on creation.*",
		is:    arterrors.Forbidden,
	}, {
		about: "unknown attribute",
		who:   owner,
		body:  map[string]any{"name": "x", "nonesuch": 1},
		match: `unknown attribute "nonesuch".*`,
		is:    arterrors.BadRequest,
	}, {
		about: "system attribute",
		who:   owner,
		body:  map[string]any{"name": "x", "status": "active"},
		match: `attribute "status" is read only.*`,
		is:    arterrors.Forbidden,
	}, {
		about: "blob attribute",
		who:   owner,
		body:  map[string]any{"name": "x", "blob": map[string]any{}},
		match: `attribute "blob" is a blob and cannot be set directly.*`,
		is:    arterrors.BadRequest,
	}, {
		about: "bad value",
		who:   owner,
		body:  map[string]any{"name": "x", "int1": "not-a-number"},
		match: `attribute "int1".*not a valid integer.*`,
		is:    arterrors.BadRequest,
	}, {
		about: "bad version",
		who:   owner,
		body:  map[string]any{"name": "x", "version": "banana"},
		match: `attribute "version": "banana" is not a valid version.*`,
		is:    arterrors.BadRequest,
	}} {
		c.Logf("case: %s", t.about)
		_, err := s.svc.Create(ctx, t.who, "sample_artifact", t.body)
		c.Check(err, jc.ErrorIs, t.is)
		c.Check(err, gc.ErrorMatches, t.match)
	}
}

func (s *serviceSuite) TestCreateUnknownType(c *gc.C) {
	_, err := s.svc.Create(context.Background(), owner, "nonesuch", map[string]any{"name": "x"})
	c.Check(err, jc.ErrorIs, arterrors.TypeNotFound)
}

func (s *serviceSuite) TestCreateDuplicateConflicts(c *gc.C) {
	s.create(c, owner, map[string]any{"name": "unit", "version": "1.0"})
	_, err := s.svc.Create(context.Background(), owner, "sample_artifact",
		map[string]any{"name": "unit", "version": "1.0"})
	c.Check(err, jc.ErrorIs, arterrors.Conflict)
}

func (s *serviceSuite) TestCreateDependencyReference(c *gc.C) {
	target := s.create(c, owner, map[string]any{"name": "dep"})

	af := s.create(c, owner, map[string]any{
		"name":        "unit",
		"dependency1": "/artifacts/sample_artifact/" + target.ID,
	})
	c.Check(af.Properties["dependency1"], gc.Equals, "/artifacts/sample_artifact/"+target.ID)

	// External URLs pass without probing.
	s.create(c, owner, map[string]any{
		"name":        "unit2",
		"dependency1": "https://example.com/thing",
	})
}

func (s *serviceSuite) TestCreateDependencyBroken(c *gc.C) {
	_, err := s.svc.Create(context.Background(), owner, "sample_artifact", map[string]any{
		"name":        "unit",
		"dependency1": "/artifacts/sample_artifact/no-such-id",
	})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
	c.Check(err, gc.ErrorMatches, `attribute "dependency1": dependency .* does not exist.*`)

	_, err = s.svc.Create(context.Background(), owner, "sample_artifact", map[string]any{
		"name":        "unit",
		"dependency1": "ftp://example.com/thing",
	})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
}

func (s *serviceSuite) TestCreateDependencyWrongType(c *gc.C) {
	target := s.create(c, owner, map[string]any{"name": "dep"})
	_, err := s.svc.Create(context.Background(), owner, "sample_artifact", map[string]any{
		"name":        "unit",
		"dependency1": "/artifacts/image/" + target.ID,
	})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
}

func (s *serviceSuite) TestGetScoping(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	ctx := context.Background()

	got, err := s.svc.Get(ctx, owner, "sample_artifact", af.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.ID, gc.Equals, af.ID)

	_, err = s.svc.Get(ctx, other, "sample_artifact", af.ID)
	c.Check(err, jc.ErrorIs, arterrors.ArtifactNotFound)

	_, err = s.svc.Get(ctx, admin, "sample_artifact", af.ID)
	c.Check(err, jc.ErrorIsNil)

	// The type in the URL must match the record.
	_, err = s.svc.Get(ctx, owner, "image", af.ID)
	c.Check(err, jc.ErrorIs, arterrors.ArtifactNotFound)
}

func (s *serviceSuite) TestDeleteByOwner(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	s.nextEvent(c) // create

	err := s.svc.Delete(context.Background(), owner, "sample_artifact", af.ID)
	c.Assert(err, jc.ErrorIsNil)

	_, err = s.svc.Get(context.Background(), admin, "sample_artifact", af.ID)
	c.Check(err, jc.ErrorIs, arterrors.ArtifactNotFound)

	ev := s.nextEvent(c)
	c.Check(ev.EventType, gc.Equals, artifact.EventDelete)
}

func (s *serviceSuite) TestDeleteAnonymousForbidden(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	// Anonymous readers cannot see a private artifact at all.
	err := s.svc.Delete(context.Background(), anon, "sample_artifact", af.ID)
	c.Check(err, jc.ErrorIs, arterrors.ArtifactNotFound)
}

func (s *serviceSuite) TestDeleteOtherTenantNotFound(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	err := s.svc.Delete(context.Background(), other, "sample_artifact", af.ID)
	c.Check(err, jc.ErrorIs, arterrors.ArtifactNotFound)
}

func (s *serviceSuite) TestTagsRoundTrip(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	ctx := context.Background()

	tags, err := s.svc.Tags(ctx, owner, "sample_artifact", af.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(tags, gc.DeepEquals, []string{})

	tags, err = s.svc.ReplaceTags(ctx, owner, "sample_artifact", af.ID, []string{"blue", "round"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(tags, gc.DeepEquals, []string{"blue", "round"})

	tags, err = s.svc.Tags(ctx, owner, "sample_artifact", af.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(tags, gc.DeepEquals, []string{"blue", "round"})

	err = s.svc.ClearTags(ctx, owner, "sample_artifact", af.ID)
	c.Assert(err, jc.ErrorIsNil)
	tags, err = s.svc.Tags(ctx, owner, "sample_artifact", af.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(tags, gc.HasLen, 0)
}

func (s *serviceSuite) TestReplaceTagsValidates(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	_, err := s.svc.ReplaceTags(context.Background(), owner, "sample_artifact", af.ID,
		[]string{"with,comma"})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
}

func (s *serviceSuite) TestReplaceTagsForbiddenForOtherTenant(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	pub := s.publish(c, af)

	_, err := s.svc.ReplaceTags(context.Background(), other, "sample_artifact", pub.ID,
		[]string{"x"})
	c.Check(err, jc.ErrorIs, arterrors.Forbidden)
}

// activate satisfies the activation requirements and flips the
// artifact to active as its owner.
func (s *baseSuite) activate(c *gc.C, af *artifact.Artifact) *artifact.Artifact {
	ctx := context.Background()
	if af.Properties["string_required"] == nil {
		updated, err := s.svc.Update(ctx, owner, "sample_artifact", af.ID, patchOps(c,
			`[{"op": "add", "path": "/string_required", "value": "set"}]`))
		c.Assert(err, jc.ErrorIsNil)
		af = updated
	}
	updated, err := s.svc.Update(ctx, owner, "sample_artifact", af.ID, patchOps(c,
		`[{"op": "replace", "path": "/status", "value": "active"}]`))
	c.Assert(err, jc.ErrorIsNil)
	return updated
}

// publish activates the artifact and makes it public as the admin.
func (s *baseSuite) publish(c *gc.C, af *artifact.Artifact) *artifact.Artifact {
	active := s.activate(c, af)
	published, err := s.svc.Update(context.Background(), admin, "sample_artifact", active.ID,
		patchOps(c, `[{"op": "replace", "path": "/visibility", "value": "public"}]`))
	c.Assert(err, jc.ErrorIsNil)
	return published
}
