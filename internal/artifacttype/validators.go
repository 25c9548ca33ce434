// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/go-glare/glare/core/semversion"
)

// Validator is a single-purpose value check attached to an attribute.
// Validate receives a coerced value (string, int64, float64, bool,
// []any or map[string]any) and reports a plain error on violation; the
// caller wraps it with attribute context. SchemaFragment returns the
// Draft-4 keys the validator contributes to the generated schema.
type Validator interface {
	Validate(value any) error
	SchemaFragment() map[string]any
}

// MaxStrLen caps the length of a string value in runes.
func MaxStrLen(n int) Validator { return maxStrLen{n} }

type maxStrLen struct{ n int }

func (v maxStrLen) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.Errorf("expected string, got %T", value)
	}
	if l := utf8.RuneCountInString(s); l > v.n {
		return errors.Errorf("string length must be less than %d, current length: %d", v.n, l)
	}
	return nil
}

func (v maxStrLen) SchemaFragment() map[string]any {
	return map[string]any{"maxLength": v.n}
}

// MinStrLen requires a minimum string length in runes.
func MinStrLen(n int) Validator { return minStrLen{n} }

type minStrLen struct{ n int }

func (v minStrLen) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.Errorf("expected string, got %T", value)
	}
	if l := utf8.RuneCountInString(s); l < v.n {
		return errors.Errorf("string length must be more than %d, current length: %d", v.n, l)
	}
	return nil
}

func (v minStrLen) SchemaFragment() map[string]any {
	return map[string]any{"minLength": v.n}
}

// ForbiddenChars rejects strings containing any of the given
// substrings.
func ForbiddenChars(chars ...string) Validator { return forbiddenChars{chars} }

type forbiddenChars struct{ chars []string }

func (v forbiddenChars) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.Errorf("expected string, got %T", value)
	}
	for _, c := range v.chars {
		if strings.Contains(s, c) {
			return errors.Errorf("forbidden character %q found in string %q", c, s)
		}
	}
	return nil
}

func (v forbiddenChars) SchemaFragment() map[string]any { return nil }

// AllowedValues restricts a scalar to an enumerated set.
func AllowedValues(values ...any) Validator { return allowedValues{values} }

type allowedValues struct{ values []any }

func (v allowedValues) Validate(value any) error {
	for _, allowed := range v.values {
		if value == allowed {
			return nil
		}
	}
	return errors.Errorf("value %v is not allowed, allowed values: %v", value, v.values)
}

func (v allowedValues) SchemaFragment() map[string]any {
	return map[string]any{"enum": v.values}
}

// MaxSize caps the number of elements in a list or entries in a map.
// The schema key depends on the container kind, fixed at attribute
// construction time.
func MaxSize(n int) Validator { return &maxSize{n: n} }

type maxSize struct {
	n         int
	schemaKey string
}

func (v *maxSize) Validate(value any) error {
	var l int
	switch tv := value.(type) {
	case []any:
		l = len(tv)
	case map[string]any:
		l = len(tv)
	default:
		return errors.Errorf("expected list or map, got %T", value)
	}
	if l > v.n {
		return errors.Errorf("number of items must be less than %d, current size: %d", v.n, l)
	}
	return nil
}

func (v *maxSize) SchemaFragment() map[string]any {
	if v.schemaKey == "" {
		return nil
	}
	return map[string]any{v.schemaKey: v.n}
}

// Unique rejects lists with duplicate elements.
func Unique() Validator { return unique{} }

type unique struct{}

func (unique) Validate(value any) error {
	list, ok := value.([]any)
	if !ok {
		return errors.Errorf("expected list, got %T", value)
	}
	seen := make(map[any]bool, len(list))
	for _, item := range list {
		if seen[item] {
			return errors.Errorf("list items %v must be unique", list)
		}
		seen[item] = true
	}
	return nil
}

func (unique) SchemaFragment() map[string]any {
	return map[string]any{"unique": true}
}

// AllowedListValues restricts list elements to an enumerated set.
func AllowedListValues(values ...string) Validator {
	return allowedListValues{set.NewStrings(values...)}
}

type allowedListValues struct{ allowed set.Strings }

func (v allowedListValues) Validate(value any) error {
	list, ok := value.([]any)
	if !ok {
		return errors.Errorf("expected list, got %T", value)
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok || !v.allowed.Contains(s) {
			return errors.Errorf("value %v is not allowed in list, allowed list values: %s",
				item, strings.Join(v.allowed.SortedValues(), ", "))
		}
	}
	return nil
}

func (v allowedListValues) SchemaFragment() map[string]any { return nil }

// AllowedDictKeys restricts map keys to an enumerated set.
func AllowedDictKeys(keys ...string) Validator {
	return allowedDictKeys{keys: keys, allowed: set.NewStrings(keys...)}
}

type allowedDictKeys struct {
	keys    []string
	allowed set.Strings
}

func (v allowedDictKeys) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return errors.Errorf("expected map, got %T", value)
	}
	for key := range m {
		if !v.allowed.Contains(key) {
			return errors.Errorf("key %q is not allowed in dict, allowed key values: %s",
				key, strings.Join(v.allowed.SortedValues(), ", "))
		}
	}
	return nil
}

func (v allowedDictKeys) SchemaFragment() map[string]any {
	props := make(map[string]any, len(v.keys))
	for _, key := range v.keys {
		props[key] = map[string]any{}
	}
	return map[string]any{"properties": props}
}

// RequiredDictKeys requires the given keys to be present in a map.
func RequiredDictKeys(keys ...string) Validator { return requiredDictKeys{keys} }

type requiredDictKeys struct{ keys []string }

func (v requiredDictKeys) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return errors.Errorf("expected map, got %T", value)
	}
	for _, key := range v.keys {
		if _, ok := m[key]; !ok {
			return errors.Errorf("key %q is required in dict, required key values: %s",
				key, strings.Join(v.keys, ", "))
		}
	}
	return nil
}

func (v requiredDictKeys) SchemaFragment() map[string]any {
	return map[string]any{"required": v.keys}
}

// MaxDictKeyLen caps the length of map keys.
func MaxDictKeyLen(n int) Validator { return maxDictKeyLen{n} }

type maxDictKeyLen struct{ n int }

func (v maxDictKeyLen) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return errors.Errorf("expected map, got %T", value)
	}
	for key := range m {
		if utf8.RuneCountInString(key) > v.n {
			return errors.Errorf("dict key %q length must be less than %d", key, v.n)
		}
	}
	return nil
}

func (v maxDictKeyLen) SchemaFragment() map[string]any { return nil }

// MinNumberSize sets a numeric lower bound (int or float values).
func MinNumberSize(n float64) Validator { return minNumberSize{n} }

type minNumberSize struct{ n float64 }

func (v minNumberSize) Validate(value any) error {
	f, err := numberOf(value)
	if err != nil {
		return err
	}
	if f < v.n {
		return errors.Errorf("number %v must be at least %v", value, v.n)
	}
	return nil
}

func (v minNumberSize) SchemaFragment() map[string]any {
	return map[string]any{"minimum": v.n}
}

// MaxNumberSize sets a numeric upper bound (int or float values).
func MaxNumberSize(n float64) Validator { return maxNumberSize{n} }

type maxNumberSize struct{ n float64 }

func (v maxNumberSize) Validate(value any) error {
	f, err := numberOf(value)
	if err != nil {
		return err
	}
	if f > v.n {
		return errors.Errorf("number %v must be at most %v", value, v.n)
	}
	return nil
}

func (v maxNumberSize) SchemaFragment() map[string]any {
	return map[string]any{"maximum": v.n}
}

func numberOf(value any) (float64, error) {
	switch tv := value.(type) {
	case int64:
		return float64(tv), nil
	case float64:
		return tv, nil
	}
	return 0, errors.Errorf("expected number, got %T", value)
}

// IsUUID requires the string to be a valid UUID.
func IsUUID() Validator { return uuidValidator{} }

type uuidValidator struct{}

const uuidPattern = `^([0-9a-fA-F]){8}-([0-9a-fA-F]){4}-([0-9a-fA-F]){4}-([0-9a-fA-F]){4}-([0-9a-fA-F]){12}$`

func (uuidValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.Errorf("expected string, got %T", value)
	}
	if _, err := uuid.Parse(s); err != nil {
		return errors.Errorf("%q is not a valid uuid", s)
	}
	return nil
}

func (uuidValidator) SchemaFragment() map[string]any {
	return map[string]any{"pattern": uuidPattern}
}

// IsVersion requires the string to parse as an artifact version.
func IsVersion() Validator { return versionValidator{} }

type versionValidator struct{}

func (versionValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.Errorf("expected string, got %T", value)
	}
	if _, err := semversion.Parse(s); err != nil {
		return errors.Errorf("%q is not a valid version", s)
	}
	return nil
}

func (versionValidator) SchemaFragment() map[string]any {
	return map[string]any{"pattern": semversion.Pattern}
}

// listElement applies the wrapped validators to every list element.
type listElement struct{ validators []Validator }

func (v listElement) Validate(value any) error {
	list, ok := value.([]any)
	if !ok {
		return errors.Errorf("expected list, got %T", value)
	}
	for i, item := range list {
		for _, inner := range v.validators {
			if err := inner.Validate(item); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	}
	return nil
}

func (listElement) SchemaFragment() map[string]any { return nil }

// dictElement applies the wrapped validators to every map value.
type dictElement struct{ validators []Validator }

func (v dictElement) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return errors.Errorf("expected map, got %T", value)
	}
	for key, item := range m {
		for _, inner := range v.validators {
			if err := inner.Validate(item); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
		}
	}
	return nil
}

func (dictElement) SchemaFragment() map[string]any { return nil }
