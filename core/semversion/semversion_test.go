// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package semversion_test

import (
	"sort"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/core/semversion"
)

type semversionSuite struct{}

var _ = gc.Suite(&semversionSuite{})

func (s *semversionSuite) TestParseNormalises(c *gc.C) {
	for _, t := range []struct {
		in, out string
	}{
		{"1", "1.0.0"},
		{"1.2", "1.2.0"},
		{"1.2.3", "1.2.3"},
		{"0.0.0", "0.0.0"},
		{"2.1.0-beta", "2.1.0-beta"},
		{"2.1.0-beta.2", "2.1.0-beta.2"},
		{" 1.0.0 ", "1.0.0"},
	} {
		n, err := semversion.Parse(t.in)
		c.Assert(err, jc.ErrorIsNil, gc.Commentf("input %q", t.in))
		c.Check(n.String(), gc.Equals, t.out)
	}
}

func (s *semversionSuite) TestParseRejectsGarbage(c *gc.C) {
	for _, in := range []string{"", "   ", "abc", "1.x", "1.0.0-"} {
		_, err := semversion.Parse(in)
		c.Check(err, gc.NotNil, gc.Commentf("input %q", in))
	}
}

func (s *semversionSuite) TestPrerelease(c *gc.C) {
	c.Check(semversion.MustParse("1.0.0").Prerelease(), gc.Equals, "")
	c.Check(semversion.MustParse("1.0.0-alpha").Prerelease(), gc.Equals, "alpha")
	c.Check(semversion.MustParse("1.0.0-alpha.1").Prerelease(), gc.Equals, "alpha.1")
}

func (s *semversionSuite) TestCompare(c *gc.C) {
	ordered := []string{
		"0.9.0",
		"1.0.0-1",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-beta",
		"1.0.0",
		"1.0.1",
		"1.10.0",
		"2.0.0",
	}
	for i := 1; i < len(ordered); i++ {
		lo := semversion.MustParse(ordered[i-1])
		hi := semversion.MustParse(ordered[i])
		c.Check(lo.Compare(hi), gc.Equals, -1,
			gc.Commentf("%s should order before %s", ordered[i-1], ordered[i]))
		c.Check(hi.Compare(lo), gc.Equals, 1)
		c.Check(hi.Compare(hi), gc.Equals, 0)
	}
}

func (s *semversionSuite) TestSortKeyMatchesCompare(c *gc.C) {
	versions := []string{
		"2.0.0",
		"1.0.0-alpha",
		"1.0.0",
		"1.0.0-alpha.1",
		"0.9.0",
		"1.0.0-1",
		"1.10.0",
		"1.2.0",
		"1.0.0-beta",
	}
	bySortKey := append([]string{}, versions...)
	sort.Slice(bySortKey, func(i, j int) bool {
		return semversion.MustParse(bySortKey[i]).SortKey() < semversion.MustParse(bySortKey[j]).SortKey()
	})
	byCompare := append([]string{}, versions...)
	sort.Slice(byCompare, func(i, j int) bool {
		return semversion.MustParse(byCompare[i]).Compare(semversion.MustParse(byCompare[j])) < 0
	})
	c.Assert(bySortKey, gc.DeepEquals, byCompare)
}

func (s *semversionSuite) TestSortKeyReleaseAfterPrerelease(c *gc.C) {
	release := semversion.MustParse("1.0.0").SortKey()
	pre := semversion.MustParse("1.0.0-zzz").SortKey()
	c.Check(pre < release, jc.IsTrue)
}

func (s *semversionSuite) TestMustParsePanics(c *gc.C) {
	c.Check(func() { semversion.MustParse("nope") }, gc.PanicMatches, ".*not valid.*")
}
