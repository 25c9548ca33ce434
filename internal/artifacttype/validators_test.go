// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/internal/artifacttype"
)

type validatorSuite struct{}

var _ = gc.Suite(&validatorSuite{})

func (s *validatorSuite) TestMaxStrLen(c *gc.C) {
	v := artifacttype.MaxStrLen(3)
	c.Check(v.Validate("abc"), jc.ErrorIsNil)
	c.Check(v.Validate("abcd"), gc.ErrorMatches, "string length must be less than 3.*")
	c.Check(v.Validate(42), gc.ErrorMatches, "expected string, got int")
	c.Check(v.SchemaFragment(), gc.DeepEquals, map[string]any{"maxLength": 3})
}

func (s *validatorSuite) TestMinStrLen(c *gc.C) {
	v := artifacttype.MinStrLen(2)
	c.Check(v.Validate("ab"), jc.ErrorIsNil)
	c.Check(v.Validate("a"), gc.ErrorMatches, "string length must be more than 2.*")
}

func (s *validatorSuite) TestForbiddenChars(c *gc.C) {
	v := artifacttype.ForbiddenChars(",", "/")
	c.Check(v.Validate("clean"), jc.ErrorIsNil)
	c.Check(v.Validate("a,b"), gc.ErrorMatches, `forbidden character "," found in string "a,b"`)
	c.Check(v.Validate("a/b"), gc.ErrorMatches, `forbidden character "/" found in string "a/b"`)
}

func (s *validatorSuite) TestAllowedValues(c *gc.C) {
	v := artifacttype.AllowedValues("ab", "cd", int64(7))
	c.Check(v.Validate("ab"), jc.ErrorIsNil)
	c.Check(v.Validate(int64(7)), jc.ErrorIsNil)
	c.Check(v.Validate("ef"), gc.ErrorMatches, "value ef is not allowed.*")
}

func (s *validatorSuite) TestMaxSize(c *gc.C) {
	v := artifacttype.MaxSize(2)
	c.Check(v.Validate([]any{1, 2}), jc.ErrorIsNil)
	c.Check(v.Validate([]any{1, 2, 3}), gc.ErrorMatches, "number of items must be less than 2.*")
	c.Check(v.Validate(map[string]any{"a": 1, "b": 2, "c": 3}), gc.ErrorMatches,
		"number of items must be less than 2.*")
	c.Check(v.Validate("nope"), gc.ErrorMatches, "expected list or map, got string")
}

func (s *validatorSuite) TestUnique(c *gc.C) {
	v := artifacttype.Unique()
	c.Check(v.Validate([]any{"a", "b"}), jc.ErrorIsNil)
	c.Check(v.Validate([]any{"a", "a"}), gc.ErrorMatches, "list items .* must be unique")
}

func (s *validatorSuite) TestAllowedListValues(c *gc.C) {
	v := artifacttype.AllowedListValues("x", "y")
	c.Check(v.Validate([]any{"x", "y"}), jc.ErrorIsNil)
	c.Check(v.Validate([]any{"z"}), gc.ErrorMatches,
		"value z is not allowed in list, allowed list values: x, y")
}

func (s *validatorSuite) TestAllowedDictKeys(c *gc.C) {
	v := artifacttype.AllowedDictKeys("name", "href")
	c.Check(v.Validate(map[string]any{"name": "n"}), jc.ErrorIsNil)
	c.Check(v.Validate(map[string]any{"other": 1}), gc.ErrorMatches,
		`key "other" is not allowed in dict, allowed key values: href, name`)
}

func (s *validatorSuite) TestRequiredDictKeys(c *gc.C) {
	v := artifacttype.RequiredDictKeys("name", "href")
	c.Check(v.Validate(map[string]any{"name": "n", "href": "h"}), jc.ErrorIsNil)
	c.Check(v.Validate(map[string]any{"name": "n"}), gc.ErrorMatches,
		`key "href" is required in dict, required key values: name, href`)
}

func (s *validatorSuite) TestMaxDictKeyLen(c *gc.C) {
	v := artifacttype.MaxDictKeyLen(3)
	c.Check(v.Validate(map[string]any{"abc": 1}), jc.ErrorIsNil)
	c.Check(v.Validate(map[string]any{"abcd": 1}), gc.ErrorMatches,
		`dict key "abcd" length must be less than 3`)
}

func (s *validatorSuite) TestNumberBounds(c *gc.C) {
	min := artifacttype.MinNumberSize(0)
	c.Check(min.Validate(int64(0)), jc.ErrorIsNil)
	c.Check(min.Validate(int64(-1)), gc.ErrorMatches, "number -1 must be at least 0")
	c.Check(min.Validate("x"), gc.ErrorMatches, "expected number, got string")

	max := artifacttype.MaxNumberSize(10)
	c.Check(max.Validate(10.0), jc.ErrorIsNil)
	c.Check(max.Validate(10.5), gc.ErrorMatches, "number 10.5 must be at most 10")
}

func (s *validatorSuite) TestIsUUID(c *gc.C) {
	v := artifacttype.IsUUID()
	c.Check(v.Validate("0d78e47c-b1ee-4b4f-8b8e-4f3ae998c2b2"), jc.ErrorIsNil)
	c.Check(v.Validate("not-a-uuid"), gc.ErrorMatches, `"not-a-uuid" is not a valid uuid`)
}

func (s *validatorSuite) TestIsVersion(c *gc.C) {
	v := artifacttype.IsVersion()
	c.Check(v.Validate("1.0.0"), jc.ErrorIsNil)
	c.Check(v.Validate("1.2"), jc.ErrorIsNil)
	c.Check(v.Validate("banana"), gc.ErrorMatches, `"banana" is not a valid version`)
}
