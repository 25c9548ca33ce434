// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype

import (
	"github.com/juju/errors"

	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

// Descriptor is the immutable schema of one artifact type: the ordered
// set of declared attributes (intrinsic plus custom) with all their
// metadata, and the type's version string.
type Descriptor struct {
	Name    string
	Version string

	attrs map[string]*Attribute
	order []string
}

// NewDescriptor builds a descriptor from the custom attribute set. The
// intrinsic base attributes are prepended automatically. Construction
// fails on duplicate or invalid attribute declarations.
func NewDescriptor(name, version string, custom []*Attribute) (*Descriptor, error) {
	if name == "" {
		return nil, errors.NotValidf("artifact type with empty name")
	}
	d := &Descriptor{
		Name:    name,
		Version: version,
		attrs:   make(map[string]*Attribute),
	}
	for _, attr := range append(baseAttributes(), custom...) {
		if _, ok := d.attrs[attr.Name]; ok {
			return nil, errors.Errorf("duplicate attribute %q in type %q", attr.Name, name)
		}
		if err := attr.finalize(); err != nil {
			return nil, errors.Annotatef(err, "type %q", name)
		}
		d.attrs[attr.Name] = attr
		d.order = append(d.order, attr.Name)
	}
	return d, nil
}

// Attribute resolves a declared attribute by name.
func (d *Descriptor) Attribute(name string) (*Attribute, bool) {
	attr, ok := d.attrs[name]
	return attr, ok
}

// Attributes returns the declared attributes in declaration order.
func (d *Descriptor) Attributes() []*Attribute {
	out := make([]*Attribute, len(d.order))
	for i, name := range d.order {
		out[i] = d.attrs[name]
	}
	return out
}

// Registry maps type names to descriptors. It is immutable after New
// and therefore safe for concurrent use without locking.
type Registry struct {
	types map[string]*Descriptor
	order []string
}

// New builds a registry from the given descriptors. A duplicate type
// name is a conflict, fatal at startup.
func New(descriptors ...*Descriptor) (*Registry, error) {
	r := &Registry{types: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, ok := r.types[d.Name]; ok {
			return nil, errors.Errorf("artifact type %q registered twice", d.Name)
		}
		r.types[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// GetType resolves a type descriptor by name.
func (r *Registry) GetType(name string) (*Descriptor, error) {
	d, ok := r.types[name]
	if !ok {
		return nil, errors.Annotatef(arterrors.TypeNotFound, "type %q", name)
	}
	return d, nil
}

// TypeNames returns the registered type names in registration order.
func (r *Registry) TypeNames() []string {
	return append([]string(nil), r.order...)
}

// ListTypes returns the generated Draft-4 schema for every registered
// type, keyed by type name.
func (r *Registry) ListTypes() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.types))
	for name, d := range r.types {
		out[name] = d.Schema()
	}
	return out
}

// intrinsicNames is the set of attribute names backed by dedicated
// artifact columns (or dedicated tables) rather than the property
// store.
var intrinsicNames = map[string]bool{
	"id": true, "name": true, "version": true, "owner": true,
	"status": true, "visibility": true, "description": true,
	"created_at": true, "updated_at": true, "activated_at": true,
	"tags": true,
}

// Intrinsic reports whether the attribute name is served by a
// dedicated column of the artifact record.
func Intrinsic(name string) bool {
	return intrinsicNames[name]
}

// baseAttributes returns the intrinsic attribute set shared by every
// artifact type. Fresh instances every call: finalize mutates them.
func baseAttributes() []*Attribute {
	return []*Attribute{{
		Name: "id", Kind: KindString, System: true, Sortable: true, Nullable: true,
		Validators: []Validator{IsUUID()},
		FilterOps:  artifact.DefaultFilterOps,
	}, {
		Name: "name", Kind: KindString, RequiredOnActivate: true, Sortable: true,
		FilterOps: artifact.DefaultFilterOps,
	}, {
		Name: "owner", Kind: KindString, System: true, RequiredOnActivate: true, Sortable: true,
		FilterOps: artifact.DefaultFilterOps,
	}, {
		Name: "status", Kind: KindString, System: true, RequiredOnActivate: true, Sortable: true,
		Default: string(artifact.StatusQueued), HasDefault: true,
		Validators: []Validator{AllowedValues(statusValues()...)},
		FilterOps:  artifact.DefaultFilterOps,
	}, {
		Name: "visibility", Kind: KindString, RequiredOnActivate: true, Sortable: true,
		Default: string(artifact.VisibilityPrivate), HasDefault: true,
		Validators: []Validator{AllowedValues("private", "public")},
		FilterOps:  []artifact.FilterOp{artifact.OpEq},
	}, {
		Name: "version", Kind: KindString, RequiredOnActivate: true, Sortable: true,
		Default: "0.0.0", HasDefault: true,
		Validators: []Validator{IsVersion()},
		FilterOps:  artifact.AllFilterOps,
	}, {
		Name: "description", Kind: KindString, Mutable: true, Nullable: true,
		Default: "", HasDefault: true,
		Validators: []Validator{MaxStrLen(4096)},
		FilterOps:  []artifact.FilterOp{},
	}, {
		Name: "tags", Kind: KindList, Element: KindString, Mutable: true, Nullable: true,
		ElementValidators: []Validator{ForbiddenChars(",", "/")},
		FilterOps:         []artifact.FilterOp{},
	}, {
		Name: "metadata", Kind: KindDict, Element: KindString, Nullable: true,
		ElementValidators: []Validator{MinStrLen(1)},
		FilterOps:         []artifact.FilterOp{artifact.OpEq, artifact.OpNeq},
	}, {
		Name: "icon", Kind: KindBlob, Nullable: true,
	}, {
		Name: "license", Kind: KindString, Nullable: true,
		FilterOps: []artifact.FilterOp{},
	}, {
		Name: "license_url", Kind: KindString, Nullable: true,
		FilterOps: []artifact.FilterOp{},
	}, {
		Name: "provided_by", Kind: KindDict, Element: KindString, Nullable: true,
		Default: nil, HasDefault: true,
		Validators: []Validator{
			AllowedDictKeys("name", "href", "company"),
			RequiredDictKeys("name", "href", "company"),
		},
		FilterOps: []artifact.FilterOp{},
	}, {
		Name: "supported_by", Kind: KindDict, Element: KindString, Nullable: true,
		Default: nil, HasDefault: true,
		Validators: []Validator{RequiredDictKeys("name")},
		FilterOps:  []artifact.FilterOp{},
	}, {
		Name: "release", Kind: KindList, Element: KindString, Nullable: true,
		Validators: []Validator{Unique()},
		FilterOps:  []artifact.FilterOp{},
	}, {
		Name: "created_at", Kind: KindDateTime, System: true, RequiredOnActivate: true, Sortable: true,
		FilterOps: artifact.AllFilterOps,
	}, {
		Name: "updated_at", Kind: KindDateTime, System: true, RequiredOnActivate: true, Sortable: true,
		FilterOps: artifact.AllFilterOps,
	}, {
		Name: "activated_at", Kind: KindDateTime, System: true, Sortable: true, Nullable: true,
		FilterOps: artifact.AllFilterOps,
	}}
}

func statusValues() []any {
	out := make([]any, len(artifact.Statuses))
	for i, s := range artifact.Statuses {
		out[i] = string(s)
	}
	return out
}
