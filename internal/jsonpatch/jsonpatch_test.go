// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonpatch_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/internal/jsonpatch"
)

type patchSuite struct{}

var _ = gc.Suite(&patchSuite{})

func (s *patchSuite) TestParseSimple(c *gc.C) {
	ops, err := jsonpatch.Parse([]byte(`[
		{"op": "replace", "path": "/name", "value": "new-name"},
		{"op": "add", "path": "/metadata/key", "value": 42},
		{"op": "remove", "path": "/description"}
	]`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ops, gc.HasLen, 3)

	c.Check(ops[0], gc.DeepEquals, jsonpatch.Operation{
		Op: jsonpatch.OpReplace, Path: []string{"name"}, Value: "new-name", HasValue: true,
	})
	c.Check(ops[1], gc.DeepEquals, jsonpatch.Operation{
		Op: jsonpatch.OpAdd, Path: []string{"metadata", "key"}, Value: int64(42), HasValue: true,
	})
	c.Check(ops[2], gc.DeepEquals, jsonpatch.Operation{
		Op: jsonpatch.OpRemove, Path: []string{"description"},
	})
}

func (s *patchSuite) TestParseExplicitNull(c *gc.C) {
	ops, err := jsonpatch.Parse([]byte(`[{"op": "replace", "path": "/description", "value": null}]`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ops, gc.HasLen, 1)
	c.Check(ops[0].HasValue, jc.IsTrue)
	c.Check(ops[0].Value, gc.IsNil)
}

func (s *patchSuite) TestParseNumbers(c *gc.C) {
	ops, err := jsonpatch.Parse([]byte(`[
		{"op": "replace", "path": "/count", "value": 9007199254740993},
		{"op": "replace", "path": "/ratio", "value": 1.5},
		{"op": "replace", "path": "/nested", "value": {"a": [1, 2.5]}}
	]`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ops[0].Value, gc.Equals, int64(9007199254740993))
	c.Check(ops[1].Value, gc.Equals, 1.5)
	c.Check(ops[2].Value, gc.DeepEquals, map[string]any{"a": []any{int64(1), 2.5}})
}

func (s *patchSuite) TestParsePointerEscapes(c *gc.C) {
	ops, err := jsonpatch.Parse([]byte(`[{"op": "remove", "path": "/metadata/a~1b~0c"}]`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ops[0].Path, gc.DeepEquals, []string{"metadata", "a/b~c"})
}

func (s *patchSuite) TestParseEmptyToken(c *gc.C) {
	ops, err := jsonpatch.Parse([]byte(`[{"op": "remove", "path": "/metadata/"}]`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ops[0].Path, gc.DeepEquals, []string{"metadata", ""})
}

func (s *patchSuite) TestParseErrors(c *gc.C) {
	for _, t := range []struct {
		about string
		body  string
		match string
	}{
		{"non-array body", `{"op": "remove", "path": "/x"}`, "malformed json-patch document.*"},
		{"empty array", `[]`, "empty json-patch document"},
		{"missing op", `[{"path": "/x", "value": 1}]`, "operation 0: missing op"},
		{"unknown op", `[{"op": "move", "path": "/x", "value": 1}]`, `operation 0: unknown op "move"`},
		{"missing path", `[{"op": "remove"}]`, "operation 0: missing path"},
		{"relative pointer", `[{"op": "remove", "path": "x"}]`, `operation 0: invalid pointer "x"`},
		{"add without value", `[{"op": "add", "path": "/x"}]`, "operation 0: add requires a value"},
		{"replace without value", `[{"op": "replace", "path": "/x"}]`, "operation 0: replace requires a value"},
	} {
		c.Logf("case: %s", t.about)
		_, err := jsonpatch.Parse([]byte(t.body))
		c.Check(err, gc.ErrorMatches, t.match)
	}
}

func (s *patchSuite) TestRemoveIgnoresValue(c *gc.C) {
	ops, err := jsonpatch.Parse([]byte(`[{"op": "remove", "path": "/x", "value": "ignored"}]`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ops[0].HasValue, jc.IsTrue)
}
