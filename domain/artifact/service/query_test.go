// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service_test

import (
	"context"
	"fmt"
	"net/url"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

type querySuite struct {
	serviceSuite
}

var _ = gc.Suite(&querySuite{})

func (s *querySuite) seed(c *gc.C, n int) {
	for i := 0; i < n; i++ {
		s.create(c, owner, map[string]any{
			"name":    fmt.Sprintf("unit-%02d", i),
			"version": fmt.Sprintf("%d.0.0", i+1),
			"int1":    i,
		})
		s.clock.Advance(time.Minute)
	}
}

func (s *querySuite) list(c *gc.C, who identity.Identity, params url.Values) artifact.Page {
	page, err := s.svc.List(context.Background(), who, "sample_artifact", params)
	c.Assert(err, jc.ErrorIsNil)
	return page
}

func pageNames(page artifact.Page) []string {
	out := make([]string, len(page.Artifacts))
	for i, af := range page.Artifacts {
		out[i] = af.Name
	}
	return out
}

func (s *querySuite) TestListDefaults(c *gc.C) {
	s.seed(c, 3)
	page := s.list(c, owner, url.Values{})
	// Newest first by default.
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-02", "unit-01", "unit-00"})
}

func (s *querySuite) TestListLimitAndMarker(c *gc.C) {
	s.seed(c, 5)
	page := s.list(c, owner, url.Values{"limit": {"2"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-04", "unit-03"})
	c.Check(page.Full, jc.IsTrue)

	page = s.list(c, owner, url.Values{
		"limit":  {"2"},
		"marker": {page.Artifacts[1].ID},
	})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-02", "unit-01"})
}

func (s *querySuite) TestListLimitClampedToMax(c *gc.C) {
	s.seed(c, 2)
	// MaxPageSize is 1000; an absurd limit is clamped, not rejected.
	page := s.list(c, owner, url.Values{"limit": {"99999"}})
	c.Check(page.Artifacts, gc.HasLen, 2)
}

func (s *querySuite) TestListBadLimit(c *gc.C) {
	for _, raw := range []string{"nope", "-1", "1.5"} {
		_, err := s.svc.List(context.Background(), owner, "sample_artifact",
			url.Values{"limit": {raw}})
		c.Check(err, jc.ErrorIs, arterrors.BadRequest, gc.Commentf("limit=%q", raw))
	}
}

func (s *querySuite) TestListSort(c *gc.C) {
	s.seed(c, 3)
	page := s.list(c, owner, url.Values{"sort": {"name:asc"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-00", "unit-01", "unit-02"})

	// Bare names default to descending.
	page = s.list(c, owner, url.Values{"sort": {"name"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-02", "unit-01", "unit-00"})
}

func (s *querySuite) TestListPropertySort(c *gc.C) {
	s.seed(c, 3)
	page := s.list(c, owner, url.Values{"sort": {"int1:asc"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-00", "unit-01", "unit-02"})
}

func (s *querySuite) TestListVersionSort(c *gc.C) {
	s.seed(c, 3)
	page := s.list(c, owner, url.Values{"sort": {"version:desc"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-02", "unit-01", "unit-00"})
}

func (s *querySuite) TestListSortRejections(c *gc.C) {
	ctx := context.Background()
	for _, t := range []struct {
		sort  string
		match string
	}{{
		sort:  "name:sideways",
		match: `sort direction "sideways" is not asc or desc.*`,
	}, {
		sort:  "nonesuch",
		match: `cannot sort by unknown attribute "nonesuch".*`,
	}, {
		sort:  "list_of_str",
		match: `attribute "list_of_str" is not sortable.*`,
	}, {
		sort:  "dict_of_str.env",
		match: `cannot sort by map entry "dict_of_str.env".*`,
	}, {
		sort:  "int1,float1,str1",
		match: "at most 2 property sort keys are allowed.*",
	}} {
		c.Logf("sort=%q", t.sort)
		_, err := s.svc.List(ctx, owner, "sample_artifact", url.Values{"sort": {t.sort}})
		c.Check(err, jc.ErrorIs, arterrors.BadRequest)
		c.Check(err, gc.ErrorMatches, t.match)
	}
}

func (s *querySuite) TestListFilterOps(c *gc.C) {
	s.seed(c, 5)

	page := s.list(c, owner, url.Values{"name": {"unit-02"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-02"})

	page = s.list(c, owner, url.Values{"name": {"neq:unit-02"}})
	c.Check(page.Artifacts, gc.HasLen, 4)

	page = s.list(c, owner, url.Values{"int1": {"gte:3"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-04", "unit-03"})

	page = s.list(c, owner, url.Values{"int1": {"gt:1", "lt:4"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit-03", "unit-02"})

	page = s.list(c, owner, url.Values{"name": {`in:unit-00,unit-04`}})
	c.Check(page.Artifacts, gc.HasLen, 2)
}

func (s *querySuite) TestListInFilterQuotedCommas(c *gc.C) {
	s.create(c, owner, map[string]any{"name": "a,b"})
	page := s.list(c, owner, url.Values{"name": {`in:"a,b",other`}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"a,b"})
}

func (s *querySuite) TestListDictEntryFilter(c *gc.C) {
	s.create(c, owner, map[string]any{
		"name": "holder", "dict_of_str": map[string]any{"env": "prod"},
	})
	s.create(c, owner, map[string]any{
		"name": "other", "dict_of_str": map[string]any{"env": "dev"},
	})

	page := s.list(c, owner, url.Values{"dict_of_str.env": {"prod"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"holder"})
}

func (s *querySuite) TestListVersionFilter(c *gc.C) {
	s.seed(c, 3)
	page := s.list(c, owner, url.Values{"version": {"gt:1.0.0"}})
	c.Check(page.Artifacts, gc.HasLen, 2)

	_, err := s.svc.List(context.Background(), owner, "sample_artifact",
		url.Values{"version": {"gt:banana"}})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
	c.Check(err, gc.ErrorMatches, `version "banana" is not a valid version.*`)
}

func (s *querySuite) TestListVisibilityFilter(c *gc.C) {
	af := s.create(c, owner, map[string]any{"name": "unit"})
	s.publish(c, af)
	s.create(c, owner, map[string]any{"name": "hidden"})

	page := s.list(c, owner, url.Values{"visibility": {"public"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"unit"})

	// Unknown visibility values match nothing instead of erroring.
	page = s.list(c, owner, url.Values{"visibility": {"sideways"}})
	c.Check(page.Artifacts, gc.HasLen, 0)
}

func (s *querySuite) TestListTagFilters(c *gc.C) {
	ctx := context.Background()
	af := s.create(c, owner, map[string]any{"name": "both"})
	_, err := s.svc.ReplaceTags(ctx, owner, "sample_artifact", af.ID, []string{"blue", "round"})
	c.Assert(err, jc.ErrorIsNil)
	af = s.create(c, owner, map[string]any{"name": "one"})
	_, err = s.svc.ReplaceTags(ctx, owner, "sample_artifact", af.ID, []string{"blue"})
	c.Assert(err, jc.ErrorIsNil)

	page := s.list(c, owner, url.Values{"tags": {"blue,round"}})
	c.Check(pageNames(page), gc.DeepEquals, []string{"both"})

	page = s.list(c, owner, url.Values{"tags-any": {"blue,round"}})
	c.Check(page.Artifacts, gc.HasLen, 2)

	_, err = s.svc.List(ctx, owner, "sample_artifact", url.Values{"tags": {"eq:blue"}})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
	c.Check(err, gc.ErrorMatches, "tags are filtered without an operator.*")

	_, err = s.svc.List(ctx, owner, "sample_artifact", url.Values{"tags": {"blue,,round"}})
	c.Check(err, jc.ErrorIs, arterrors.BadRequest)
	c.Check(err, gc.ErrorMatches, "empty tag value.*")
}

func (s *querySuite) TestListFilterRejections(c *gc.C) {
	ctx := context.Background()
	for _, t := range []struct {
		params url.Values
		match  string
	}{{
		params: url.Values{"nonesuch": {"x"}},
		match:  `unknown filter attribute "nonesuch".*`,
	}, {
		params: url.Values{"str1.key": {"x"}},
		match:  `attribute "str1" is not a map.*`,
	}, {
		params: url.Values{"dict_of_str": {"x"}},
		match:  `attribute "dict_of_str" is filtered by map entry.*`,
	}, {
		params: url.Values{"bool1": {"gt:true"}},
		match:  `attribute "bool1" cannot be filtered with "gt".*`,
	}, {
		params: url.Values{"int1": {"gte:banana"}},
		match:  `filter "int1": .*not a valid integer.*`,
	}, {
		params: url.Values{"name": {"in:,,"}},
		match:  `empty value list for "name".*`,
	}} {
		c.Logf("params=%v", t.params)
		_, err := s.svc.List(ctx, owner, "sample_artifact", t.params)
		c.Check(err, jc.ErrorIs, arterrors.BadRequest)
		c.Check(err, gc.ErrorMatches, t.match)
	}
}

func (s *querySuite) TestListScoping(c *gc.C) {
	s.create(c, owner, map[string]any{"name": "mine"})
	af := s.create(c, owner, map[string]any{"name": "shared"})
	s.publish(c, af)

	page := s.list(c, other, url.Values{})
	c.Check(pageNames(page), gc.DeepEquals, []string{"shared"})

	page = s.list(c, anon, url.Values{})
	c.Check(pageNames(page), gc.DeepEquals, []string{"shared"})

	page = s.list(c, admin, url.Values{})
	c.Check(page.Artifacts, gc.HasLen, 2)
}

func (s *querySuite) TestListUnknownType(c *gc.C) {
	_, err := s.svc.List(context.Background(), owner, "nonesuch", url.Values{})
	c.Check(err, jc.ErrorIs, arterrors.TypeNotFound)
}
