// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/internal/artifacttype"
)

type registrySuite struct{}

var _ = gc.Suite(&registrySuite{})

func (s *registrySuite) TestRegistryResolvesTypes(c *gc.C) {
	r, err := artifacttype.New(append(artifacttype.BuiltinTypes(), artifacttype.SampleArtifact())...)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(r.TypeNames(), gc.DeepEquals,
		[]string{"image", "heat_template", "tosca_template", "sample_artifact"})

	d, err := r.GetType("image")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.Name, gc.Equals, "image")

	_, err = r.GetType("nonesuch")
	c.Check(err, jc.ErrorIs, arterrors.TypeNotFound)
}

func (s *registrySuite) TestRegistryRejectsDuplicates(c *gc.C) {
	_, err := artifacttype.New(artifacttype.SampleArtifact(), artifacttype.SampleArtifact())
	c.Check(err, gc.ErrorMatches, `artifact type "sample_artifact" registered twice`)
}

func (s *registrySuite) TestDescriptorRejectsDuplicateAttribute(c *gc.C) {
	_, err := artifacttype.NewDescriptor("t", "1.0", []*artifacttype.Attribute{
		{Name: "name", Kind: artifacttype.KindString},
	})
	c.Check(err, gc.ErrorMatches, `duplicate attribute "name" in type "t"`)
}

func (s *registrySuite) TestDescriptorRejectsNestedCompound(c *gc.C) {
	_, err := artifacttype.NewDescriptor("t", "1.0", []*artifacttype.Attribute{
		{Name: "bad", Kind: artifacttype.KindList, Element: artifacttype.KindDict},
	})
	c.Check(err, gc.ErrorMatches, `type "t": attribute "bad": nested compound element not valid`)
}

func (s *registrySuite) TestDescriptorRejectsSortableList(c *gc.C) {
	_, err := artifacttype.NewDescriptor("t", "1.0", []*artifacttype.Attribute{
		{Name: "bad", Kind: artifacttype.KindList, Element: artifacttype.KindString, Sortable: true},
	})
	c.Check(err, gc.ErrorMatches, ".*sortable must be false for compound and boolean attributes.*")
}

func (s *registrySuite) TestBaseAttributesPresent(c *gc.C) {
	d := artifacttype.SampleArtifact()
	for _, name := range []string{
		"id", "name", "version", "owner", "status", "visibility",
		"description", "tags", "metadata", "created_at", "updated_at", "activated_at",
	} {
		_, ok := d.Attribute(name)
		c.Check(ok, jc.IsTrue, gc.Commentf("missing base attribute %q", name))
	}
}

func (s *registrySuite) TestIntrinsic(c *gc.C) {
	c.Check(artifacttype.Intrinsic("name"), jc.IsTrue)
	c.Check(artifacttype.Intrinsic("tags"), jc.IsTrue)
	c.Check(artifacttype.Intrinsic("metadata"), jc.IsFalse)
	c.Check(artifacttype.Intrinsic("int1"), jc.IsFalse)
}

func (s *registrySuite) TestFilterOpsDefaults(c *gc.C) {
	d := artifacttype.SampleArtifact()

	visibility, _ := d.Attribute("visibility")
	c.Check(visibility.AllowsFilter(artifact.OpEq), jc.IsTrue)
	c.Check(visibility.AllowsFilter(artifact.OpGt), jc.IsFalse)

	version, _ := d.Attribute("version")
	c.Check(version.AllowsFilter(artifact.OpGte), jc.IsTrue)

	blob, _ := d.Attribute("blob")
	c.Check(blob.AllowsFilter(artifact.OpEq), jc.IsFalse)
}

func (s *registrySuite) TestSchemaShape(c *gc.C) {
	d := artifacttype.SampleArtifact()
	schema := d.Schema()

	c.Check(schema["name"], gc.Equals, "sample_artifact")
	c.Check(schema["title"], gc.Equals, "Artifact type sample_artifact of version 1.0")
	c.Check(schema["type"], gc.Equals, "object")
	c.Check(schema["required"], gc.DeepEquals, []string{"name"})

	props, ok := schema["properties"].(map[string]any)
	c.Assert(ok, jc.IsTrue)

	name := props["name"].(map[string]any)
	c.Check(name["type"], gc.Equals, "string")
	c.Check(name["maxLength"], gc.Equals, 255)
	c.Check(name["sortable"], gc.Equals, true)

	status := props["status"].(map[string]any)
	c.Check(status["readOnly"], gc.Equals, true)
	c.Check(status["enum"], gc.DeepEquals,
		[]any{"queued", "active", "deactivated", "deleted"})

	intAttr := props["int1"].(map[string]any)
	c.Check(intAttr["type"], gc.DeepEquals, []any{"integer", "null"})

	list := props["list_of_str"].(map[string]any)
	c.Check(list["items"], gc.DeepEquals, map[string]any{"type": "string"})

	blob := props["blob"].(map[string]any)
	c.Check(blob["type"], gc.DeepEquals, []any{"object", "null"})
	c.Check(blob["additionalProperties"], gc.Equals, false)

	blobDict := props["dict_of_blobs"].(map[string]any)
	inner, ok := blobDict["additionalProperties"].(map[string]any)
	c.Assert(ok, jc.IsTrue)
	c.Check(inner["type"], gc.DeepEquals, []any{"object", "null"})

	created := props["created_at"].(map[string]any)
	c.Check(created["format"], gc.Equals, "date-time")
}

func (s *registrySuite) TestListTypes(c *gc.C) {
	r, err := artifacttype.New(artifacttype.BuiltinTypes()...)
	c.Assert(err, jc.ErrorIsNil)
	schemas := r.ListTypes()
	c.Check(schemas, gc.HasLen, 3)
	c.Check(schemas["image"]["name"], gc.Equals, "image")
}
