// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package artifacttype implements the artifact type registry: attribute
// metadata, value coercion and validation, and Draft-4 schema
// generation for registered artifact types.
package artifacttype

import (
	"github.com/juju/errors"

	"github.com/go-glare/glare/domain/artifact"
)

// Kind is the declared shape of an attribute value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindDependency
	KindDateTime
	KindList
	KindDict
	KindBlob
	KindBlobDict
)

// Scalar reports whether the kind is a plain scalar value.
func (k Kind) Scalar() bool {
	switch k {
	case KindBool, KindInt, KindFloat, KindString, KindDependency, KindDateTime:
		return true
	}
	return false
}

// Blob reports whether the kind is a blob slot or blob dictionary.
func (k Kind) Blob() bool {
	return k == KindBlob || k == KindBlobDict
}

// ValueType maps the kind onto the typed storage column used by the
// state layer for filters and sorts.
func (k Kind) ValueType() artifact.ValueType {
	switch k {
	case KindBool:
		return artifact.TypeBool
	case KindInt:
		return artifact.TypeInt
	case KindFloat:
		return artifact.TypeNumeric
	case KindDateTime:
		return artifact.TypeDateTime
	}
	return artifact.TypeString
}

// DefaultMaxBlobSize caps blob uploads for slots that declare no
// explicit limit.
const DefaultMaxBlobSize = 10485760

const (
	defaultMaxStrLen     = 255
	defaultMaxSize       = 255
	defaultMaxDictKeyLen = 255
)

// Attribute describes one declared attribute of an artifact type.
// Zero-value booleans follow the historical defaults: not mutable, not
// system, not sortable. RequiredOnActivate and Nullable default to the
// historical true via Descriptor construction unless overridden by the
// type declaration (see NewAttribute option funcs).
type Attribute struct {
	Name    string
	Kind    Kind
	Element Kind // element kind for KindList and KindDict

	Mutable            bool
	RequiredOnActivate bool
	System             bool
	Sortable           bool
	Nullable           bool

	Default    any
	HasDefault bool

	FilterOps []artifact.FilterOp

	Validators        []Validator
	ElementValidators []Validator

	MaxBlobSize int64

	// checks is the composed validation pipeline: collection caps run
	// before element validators. Built by finalize.
	checks []Validator
}

// finalize applies the historical defaults and composes the validation
// pipeline. It returns an error for nonsensical declarations, which is
// fatal at registry construction.
func (a *Attribute) finalize() error {
	if a.Name == "" {
		return errors.NotValidf("attribute with empty name")
	}
	// Every attribute that is not required on activation is nullable.
	if !a.RequiredOnActivate {
		a.Nullable = true
	}
	if a.FilterOps == nil {
		if a.Kind.Blob() {
			a.FilterOps = []artifact.FilterOp{}
		} else {
			a.FilterOps = artifact.DefaultFilterOps
		}
	}
	if a.Kind.Blob() && len(a.FilterOps) > 0 {
		return errors.NotValidf("attribute %q: filter ops on blob attribute", a.Name)
	}
	if a.Sortable && (a.Kind == KindList || a.Kind == KindDict || a.Kind.Blob() || a.Kind == KindBool) {
		return errors.NotValidf("attribute %q: sortable must be false for compound and boolean attributes", a.Name)
	}

	switch a.Kind {
	case KindString, KindDependency:
		if !hasMaxStrLen(a.Validators) {
			a.Validators = append(a.Validators, MaxStrLen(defaultMaxStrLen))
		}
		if a.Sortable {
			if n, ok := maxStrLenOf(a.Validators); ok && n > defaultMaxStrLen {
				return errors.NotValidf(
					"attribute %q: sortable string longer than %d", a.Name, defaultMaxStrLen)
			}
		}
	case KindList, KindDict:
		if a.Element == KindList || a.Element == KindDict || a.Element.Blob() {
			return errors.NotValidf("attribute %q: nested compound element", a.Name)
		}
		if a.Element == KindString && !hasMaxStrLen(a.ElementValidators) {
			a.ElementValidators = append(a.ElementValidators, MaxStrLen(defaultMaxStrLen))
		}
		if !a.HasDefault && !a.System {
			if a.Kind == KindList {
				a.Default, a.HasDefault = []any{}, true
			} else {
				a.Default, a.HasDefault = map[string]any{}, true
			}
		}
	case KindBlob, KindBlobDict:
		if a.MaxBlobSize == 0 {
			a.MaxBlobSize = DefaultMaxBlobSize
		}
	}

	a.checks = a.composeChecks()
	return nil
}

func (a *Attribute) composeChecks() []Validator {
	switch a.Kind {
	case KindList:
		checks := []Validator{ensureMaxSize(a.Validators, "maxItems")}
		checks = append(checks, a.Validators...)
		return append(checks, listElement{a.ElementValidators})
	case KindDict:
		checks := []Validator{ensureMaxSize(a.Validators, "maxProperties"), MaxDictKeyLen(defaultMaxDictKeyLen)}
		checks = append(checks, a.Validators...)
		return append(checks, dictElement{a.ElementValidators})
	case KindBlobDict:
		return []Validator{MaxDictKeyLen(defaultMaxDictKeyLen)}
	}
	return a.Validators
}

// ensureMaxSize fixes the schema key of a declared MaxSize validator,
// or returns the default cap when none was declared. The declared
// validator is skipped during checks composition to avoid running
// twice; the returned one is authoritative.
func ensureMaxSize(validators []Validator, schemaKey string) Validator {
	for _, v := range validators {
		if ms, ok := v.(*maxSize); ok {
			ms.schemaKey = schemaKey
			return noop{}
		}
	}
	ms := MaxSize(defaultMaxSize).(*maxSize)
	ms.schemaKey = schemaKey
	return ms
}

type noop struct{}

func (noop) Validate(any) error             { return nil }
func (noop) SchemaFragment() map[string]any { return nil }

func hasMaxStrLen(validators []Validator) bool {
	_, ok := maxStrLenOf(validators)
	return ok
}

func maxStrLenOf(validators []Validator) (int, bool) {
	for _, v := range validators {
		if m, ok := v.(maxStrLen); ok {
			return m.n, true
		}
	}
	return 0, false
}

// Check runs the attribute's composed validation pipeline over a
// coerced value. Nil values are accepted or rejected by the caller
// according to nullability; Check never sees nil.
func (a *Attribute) Check(value any) error {
	for _, v := range a.checks {
		if err := v.Validate(value); err != nil {
			return err
		}
	}
	return nil
}

// AllowsFilter reports whether the attribute declares the operator.
func (a *Attribute) AllowsFilter(op artifact.FilterOp) bool {
	for _, allowed := range a.FilterOps {
		if allowed == op {
			return true
		}
	}
	return false
}

// schemaValidators returns the validators contributing schema
// fragments, including the composed defaults. Element validators do
// not contribute: the element type renders through items or
// additionalProperties instead.
func (a *Attribute) schemaValidators() []Validator {
	return a.checks
}
