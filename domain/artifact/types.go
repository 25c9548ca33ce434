// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package artifact holds the core types of the artifact repository:
// the artifact record, its lifecycle states, blob slots and the listing
// query model shared between the service and state layers.
package artifact

import (
	"time"
)

// Status is the lifecycle state of an artifact.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
	StatusDeleted     Status = "deleted"
)

// Statuses lists the valid lifecycle states in declaration order.
var Statuses = []Status{StatusQueued, StatusActive, StatusDeactivated, StatusDeleted}

// CanTransition reports whether the lifecycle state machine permits
// moving from s to next. Self transitions are not edges; idempotent
// re-application is handled above the state machine.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusActive || next == StatusDeleted
	case StatusActive:
		return next == StatusDeactivated || next == StatusDeleted
	case StatusDeactivated:
		return next == StatusActive || next == StatusDeleted
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusActive, StatusDeactivated, StatusDeleted:
		return true
	}
	return false
}

// Visibility scopes who can read an artifact.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// BlobStatus is the state of a blob slot.
type BlobStatus string

const (
	BlobSaving        BlobStatus = "saving"
	BlobActive        BlobStatus = "active"
	BlobPendingDelete BlobStatus = "pending_delete"
)

// BlobStatuses lists the valid blob slot states.
var BlobStatuses = []BlobStatus{BlobSaving, BlobActive, BlobPendingDelete}

// Blob is the value of a blob slot. Size and Checksum are set exactly
// when Status is active. URL is the backend reference (a store key, or
// the external location for external blobs); it is never serialized
// into API responses.
type Blob struct {
	ID          string
	URL         string
	Size        *int64
	Checksum    *string
	ContentType string
	External    bool
	Status      BlobStatus
}

// Active reports whether the slot holds committed, readable bytes.
func (b *Blob) Active() bool {
	return b != nil && b.Status == BlobActive
}

// Artifact is the in-memory view of one artifact record. Intrinsic
// columns are struct fields; typed custom attributes (and the flexible
// base attributes such as metadata and license) live in Properties,
// keyed by attribute name. Blob slots live in Blobs and BlobDicts.
type Artifact struct {
	ID          string
	TypeName    string
	Name        string
	Version     string // normalised dotted form, e.g. "1.0.0"
	Owner       string
	Visibility  Visibility
	Status      Status
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ActivatedAt *time.Time

	Tags       []string
	Properties map[string]any
	Blobs      map[string]*Blob
	BlobDicts  map[string]map[string]*Blob

	// LockVersion is the optimistic concurrency token. Updates carry
	// the token they read; the state layer rejects stale writers.
	LockVersion int64
}

// Blob returns the blob at the given slot path, where key is empty for
// plain blob attributes and names the entry for blob dictionaries.
func (a *Artifact) Blob(name, key string) *Blob {
	if key == "" {
		return a.Blobs[name]
	}
	if m, ok := a.BlobDicts[name]; ok {
		return m[key]
	}
	return nil
}

// Copy returns a deep copy of the artifact. The patch engine mutates
// copies so a failed update never dirties the loaded record.
func (a *Artifact) Copy() *Artifact {
	dup := *a
	if a.ActivatedAt != nil {
		t := *a.ActivatedAt
		dup.ActivatedAt = &t
	}
	dup.Tags = append([]string(nil), a.Tags...)
	dup.Properties = make(map[string]any, len(a.Properties))
	for k, v := range a.Properties {
		dup.Properties[k] = copyValue(v)
	}
	dup.Blobs = make(map[string]*Blob, len(a.Blobs))
	for k, b := range a.Blobs {
		dup.Blobs[k] = copyBlob(b)
	}
	dup.BlobDicts = make(map[string]map[string]*Blob, len(a.BlobDicts))
	for k, m := range a.BlobDicts {
		entries := make(map[string]*Blob, len(m))
		for key, b := range m {
			entries[key] = copyBlob(b)
		}
		dup.BlobDicts[k] = entries
	}
	return &dup
}

func copyBlob(b *Blob) *Blob {
	if b == nil {
		return nil
	}
	dup := *b
	if b.Size != nil {
		n := *b.Size
		dup.Size = &n
	}
	if b.Checksum != nil {
		s := *b.Checksum
		dup.Checksum = &s
	}
	return &dup
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case []any:
		out := make([]any, len(tv))
		copy(out, tv)
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = e
		}
		return out
	}
	return v
}

// FilterOp is a comparison operator accepted by the query engine.
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpNeq FilterOp = "neq"
	OpIn  FilterOp = "in"
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
)

// AllFilterOps is the full operator set, in the order advertised by
// generated schemas.
var AllFilterOps = []FilterOp{OpEq, OpNeq, OpIn, OpGt, OpGte, OpLt, OpLte}

// DefaultFilterOps is applied to attributes that declare no explicit
// operator set.
var DefaultFilterOps = []FilterOp{OpEq, OpNeq, OpIn}

// ValueType tells the state layer which typed column a filter or sort
// key lives in.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeInt      ValueType = "int"
	TypeNumeric  ValueType = "numeric"
	TypeBool     ValueType = "bool"
	TypeDateTime ValueType = "datetime"
)

// Filter is one parsed filter condition. Key is set for map entry
// filters (attr.key=value). Values holds the coerced operands; it has
// multiple entries only for the "in" operator.
type Filter struct {
	Name   string
	Key    string
	Op     FilterOp
	Type   ValueType
	Values []any

	// MatchesNothing marks a syntactically valid filter that can never
	// match (e.g. an unknown visibility value); the state layer
	// shortcuts to an empty page.
	MatchesNothing bool
}

// SortDirection orders a sort key.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort is one parsed sort key. Custom is true when the key is an
// EAV-backed attribute rather than an intrinsic column.
type Sort struct {
	Name      string
	Direction SortDirection
	Type      ValueType
	Custom    bool
}

// Query is the executable listing plan handed to the state layer.
type Query struct {
	TypeName string
	Filters  []Filter
	TagsAll  []string
	TagsAny  []string
	Sorts    []Sort
	Marker   string
	Limit    int
}

// Page is one page of listing results. Full is true when the page
// filled the limit, i.e. a next marker should be advertised.
type Page struct {
	Artifacts []*Artifact
	Full      bool
}

// Event names emitted by the notification hub.
const (
	EventCreate     = "create"
	EventUpdate     = "update"
	EventActivate   = "activate"
	EventDeactivate = "deactivate"
	EventReactivate = "reactivate"
	EventPublish    = "publish"
	EventDelete     = "delete"
)
