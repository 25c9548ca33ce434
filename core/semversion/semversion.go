// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package semversion normalises and orders artifact version strings.
//
// Artifact versions follow SemVer with the historical relaxation that
// "1" and "1.0" are accepted and normalised to "1.0.0". Prerelease
// versions order before their release ("1.0.0-alpha" < "1.0.0").
package semversion

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/juju/errors"
)

// Pattern is the (slash-wrapped, historical) pattern advertised for the
// version attribute in generated schemas.
const Pattern = `/^([0-9]+)\.([0-9]+)\.([0-9]+)(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?(?:\+[0-9A-Za-z-]+)?$/`

// Number is a parsed artifact version.
type Number struct {
	v semver.Version
}

// Parse parses an artifact version string. Missing minor or patch
// components default to zero.
func Parse(s string) (Number, error) {
	if strings.TrimSpace(s) == "" {
		return Number{}, errors.NotValidf("empty version")
	}
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return Number{}, errors.NotValidf("version %q", s)
	}
	return Number{v: v}, nil
}

// String returns the normalised dotted form, e.g. "1.0.0" or
// "2.1.0-beta".
func (n Number) String() string {
	return n.v.String()
}

// Prerelease returns the prerelease component, empty for releases.
func (n Number) Prerelease() string {
	if len(n.v.Pre) == 0 {
		return ""
	}
	parts := make([]string, len(n.v.Pre))
	for i, p := range n.v.Pre {
		parts[i] = p.String()
	}
	return strings.Join(parts, ".")
}

// Compare returns -1, 0 or 1 when n is less than, equal to or greater
// than other under SemVer ordering.
func (n Number) Compare(other Number) int {
	return n.v.Compare(other.v)
}

// SortKey returns a string whose byte ordering matches SemVer ordering
// of the version, suitable for storage in an indexed column. Numeric
// components are zero padded; a release gets a "~" sentinel that orders
// after any prerelease of the same triple, and numeric prerelease
// identifiers order before alphanumeric ones.
func (n Number) SortKey() string {
	pre := "~"
	if len(n.v.Pre) > 0 {
		parts := make([]string, len(n.v.Pre))
		for i, p := range n.v.Pre {
			if p.IsNum {
				parts[i] = fmt.Sprintf("0%010d", p.VersionNum)
			} else {
				parts[i] = "1" + p.VersionStr
			}
		}
		pre = strings.Join(parts, ".")
	}
	return fmt.Sprintf("%010d.%010d.%010d-%s", n.v.Major, n.v.Minor, n.v.Patch, pre)
}

// MustParse parses a version known to be valid, panicking otherwise.
// For use in type definitions and tests.
func MustParse(s string) Number {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}
