// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package identity carries the caller identity extracted from request
// headers through the service layers.
package identity

import (
	"github.com/juju/collections/set"
)

// AdminRole is the role name that grants the extended operations of the
// lifecycle engine.
const AdminRole = "admin"

// Identity describes the caller of a single request. The zero value is
// an anonymous, read-only caller.
type Identity struct {
	UserID   string
	TenantID string
	Roles    []string

	// Anonymous is true when the request carried no confirmed identity.
	// Anonymous callers may only read public artifacts.
	Anonymous bool
}

// Anonymous returns the identity used for unauthenticated requests.
func Anonymous() Identity {
	return Identity{Anonymous: true}
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	if i.Anonymous {
		return false
	}
	return set.NewStrings(i.Roles...).Contains(AdminRole)
}

// OwnerOf reports whether the identity's tenant owns the given owner id.
func (i Identity) OwnerOf(owner string) bool {
	if i.Anonymous || i.TenantID == "" {
		return false
	}
	return i.TenantID == owner
}
