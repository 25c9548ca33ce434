// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jsonpatch parses RFC 6902 JSON-Patch documents restricted to
// the add, remove and replace operations, with RFC 6901 pointer
// unescaping. Applying the operations to an artifact record is the
// service layer's concern; this package only yields the parsed shape.
package jsonpatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/juju/errors"
)

// Op names accepted by the engine.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// Operation is one parsed patch operation. Path holds the unescaped
// pointer tokens; a pointer of "/attr/key" yields ["attr", "key"].
// HasValue distinguishes an explicit null value from an absent one:
// remove accepts (and ignores) a value, add and replace require one.
type Operation struct {
	Op       string
	Path     []string
	Value    any
	HasValue bool
}

type rawOperation struct {
	Op    *string         `json:"op"`
	Path  *string         `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Parse decodes a JSON-Patch document. Any malformation - a non-array
// body, unknown op, missing op or path, bad pointer syntax, or a
// missing value on add/replace - is an error; there is no partial
// result.
func Parse(body []byte) ([]Operation, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var raw []rawOperation
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.Errorf("malformed json-patch document: %v", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty json-patch document")
	}

	ops := make([]Operation, len(raw))
	for i, r := range raw {
		if r.Op == nil {
			return nil, errors.Errorf("operation %d: missing op", i)
		}
		op := *r.Op
		if op != OpAdd && op != OpRemove && op != OpReplace {
			return nil, errors.Errorf("operation %d: unknown op %q", i, op)
		}
		if r.Path == nil {
			return nil, errors.Errorf("operation %d: missing path", i)
		}
		path, err := parsePointer(*r.Path)
		if err != nil {
			return nil, errors.Annotatef(err, "operation %d", i)
		}
		o := Operation{Op: op, Path: path}
		if r.Value != nil {
			value, err := decodeValue(r.Value)
			if err != nil {
				return nil, errors.Errorf("operation %d: malformed value: %v", i, err)
			}
			o.Value = value
			o.HasValue = true
		}
		if !o.HasValue && op != OpRemove {
			return nil, errors.Errorf("operation %d: %s requires a value", i, op)
		}
		ops[i] = o
	}
	return ops, nil
}

// parsePointer splits and unescapes an RFC 6901 pointer. The empty
// token is legal (map keys may be empty strings) but the whole-document
// pointer "" is not addressable here.
func parsePointer(pointer string) ([]string, error) {
	if !strings.HasPrefix(pointer, "/") {
		return nil, errors.Errorf("invalid pointer %q", pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	out := make([]string, len(tokens))
	for i, token := range tokens {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		out[i] = token
	}
	return out, nil
}

// decodeValue materialises a raw value with numbers kept lossless:
// integral json.Number decodes to int64, fractional to float64.
func decodeValue(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch tv := v.(type) {
	case json.Number:
		if n, err := tv.Int64(); err == nil {
			return n
		}
		f, _ := tv.Float64()
		return f
	case []any:
		for i, item := range tv {
			tv[i] = normalizeNumbers(item)
		}
		return tv
	case map[string]any:
		for key, item := range tv {
			tv[key] = normalizeNumbers(item)
		}
		return tv
	}
	return v
}
