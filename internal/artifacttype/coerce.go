// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Coerce converts a decoded JSON value into the attribute's canonical
// in-memory shape: string, int64, float64, bool, []any (elements
// coerced) or map[string]any (values coerced). Nil is accepted only
// for nullable attributes. The coerced value has already passed the
// attribute's validation pipeline on return.
func (a *Attribute) Coerce(value any) (any, error) {
	if value == nil {
		if !a.Nullable {
			return nil, errors.Errorf("attribute %q is not nullable", a.Name)
		}
		return nil, nil
	}
	coerced, err := a.coerceValue(value)
	if err != nil {
		return nil, errors.Annotatef(err, "attribute %q", a.Name)
	}
	if err := a.Check(coerced); err != nil {
		return nil, errors.Annotatef(err, "attribute %q", a.Name)
	}
	return coerced, nil
}

// CoerceElement converts a single element for a list or dict
// attribute, running the element validators only.
func (a *Attribute) CoerceElement(value any) (any, error) {
	if a.Kind != KindList && a.Kind != KindDict {
		return nil, errors.Errorf("attribute %q has no elements", a.Name)
	}
	coerced, err := coerceScalar(a.Element, value)
	if err != nil {
		return nil, errors.Annotatef(err, "attribute %q", a.Name)
	}
	for _, v := range a.ElementValidators {
		if err := v.Validate(coerced); err != nil {
			return nil, errors.Annotatef(err, "attribute %q", a.Name)
		}
	}
	return coerced, nil
}

func (a *Attribute) coerceValue(value any) (any, error) {
	switch a.Kind {
	case KindList:
		list, ok := value.([]any)
		if !ok {
			return nil, errors.Errorf("expected a list, got %T", value)
		}
		out := make([]any, len(list))
		for i, item := range list {
			coerced, err := coerceScalar(a.Element, item)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	case KindDict:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, errors.Errorf("expected a map, got %T", value)
		}
		out := make(map[string]any, len(m))
		for key, item := range m {
			coerced, err := coerceScalar(a.Element, item)
			if err != nil {
				return nil, err
			}
			out[key] = coerced
		}
		return out, nil
	case KindBlob, KindBlobDict:
		return nil, errors.Errorf("blob attributes cannot be set directly")
	}
	return coerceScalar(a.Kind, value)
}

func coerceScalar(kind Kind, value any) (any, error) {
	if isStructured(value) {
		return nil, errors.Errorf("expected a scalar, got %T", value)
	}
	switch kind {
	case KindBool:
		return coerceBool(value)
	case KindInt:
		return coerceInt(value)
	case KindFloat:
		return coerceFloat(value)
	case KindString, KindDependency:
		return coerceString(value)
	case KindDateTime:
		s, err := coerceString(value)
		if err != nil {
			return nil, err
		}
		if _, perr := time.Parse(time.RFC3339, s); perr != nil {
			return nil, errors.Errorf("%q is not a valid datetime", s)
		}
		return s, nil
	}
	return nil, errors.Errorf("unsupported scalar kind %d", kind)
}

func isStructured(value any) bool {
	switch value.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

// coerceBool accepts JSON booleans plus the historical flexible
// spellings: "true"/"false", "yes"/"no", "on"/"off", "1"/"0" and the
// numbers 1 and 0.
func coerceBool(value any) (any, error) {
	switch tv := value.(type) {
	case bool:
		return tv, nil
	case string:
		switch strings.ToLower(tv) {
		case "true", "t", "yes", "y", "on", "1":
			return true, nil
		case "false", "f", "no", "n", "off", "0":
			return false, nil
		}
	case float64:
		if tv == 1 {
			return true, nil
		}
		if tv == 0 {
			return false, nil
		}
	case int64:
		if tv == 1 {
			return true, nil
		}
		if tv == 0 {
			return false, nil
		}
	case json.Number:
		if tv == "1" {
			return true, nil
		}
		if tv == "0" {
			return false, nil
		}
	}
	return nil, errors.Errorf("%v is not a valid boolean", value)
}

// coerceInt accepts any value losslessly convertible to an integer.
func coerceInt(value any) (any, error) {
	switch tv := value.(type) {
	case json.Number:
		return coerceInt(string(tv))
	case int64:
		return tv, nil
	case int:
		return int64(tv), nil
	case int32:
		return int64(tv), nil
	case float64:
		if tv != math.Trunc(tv) || math.Abs(tv) > math.MaxInt64 {
			return nil, errors.Errorf("%v is not a valid integer", tv)
		}
		return int64(tv), nil
	case string:
		n, err := strconv.ParseInt(tv, 10, 64)
		if err != nil {
			return nil, errors.Errorf("%q is not a valid integer", tv)
		}
		return n, nil
	}
	return nil, errors.Errorf("%v is not a valid integer", value)
}

func coerceFloat(value any) (any, error) {
	switch tv := value.(type) {
	case json.Number:
		return coerceFloat(string(tv))
	case float64:
		return tv, nil
	case int64:
		return float64(tv), nil
	case int:
		return float64(tv), nil
	case string:
		f, err := strconv.ParseFloat(tv, 64)
		if err != nil {
			return nil, errors.Errorf("%q is not a valid number", tv)
		}
		return f, nil
	}
	return nil, errors.Errorf("%v is not a valid number", value)
}

// coerceString renders scalars through their lossless JSON literal:
// 1 -> "1", 1.5 -> "1.5", true -> "true".
func coerceString(value any) (string, error) {
	switch tv := value.(type) {
	case json.Number:
		return string(tv), nil
	case string:
		return tv, nil
	case bool:
		return strconv.FormatBool(tv), nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(tv, 10), nil
	}
	return "", errors.Errorf("%v is not a valid string", value)
}
