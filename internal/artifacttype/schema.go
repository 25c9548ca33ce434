// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype

import (
	"fmt"

	"github.com/go-glare/glare/domain/artifact"
)

// Schema renders the Draft-4 JSON Schema document for the type. The
// output reproduces the historical generator bit-exact, including its
// quirks: boolean attributes advertise ["string","null"], blob slots
// render as the blob object schema, and the attribute metadata
// (mutable, sortable, required_on_activate, filter_ops) appears as
// extension keys.
func (d *Descriptor) Schema() map[string]any {
	props := make(map[string]any, len(d.order))
	for _, name := range d.order {
		props[name] = d.attrs[name].schema()
	}
	return map[string]any{
		"name":       d.Name,
		"title":      fmt.Sprintf("Artifact type %s of version %s", d.Name, d.Version),
		"type":       "object",
		"required":   []string{"name"},
		"properties": props,
	}
}

// schemaType maps an attribute kind to its Draft-4 type name.
// Booleans map to "string": the flexible boolean never matched the
// generator's boolean branch and clients grew to depend on the shape.
func schemaType(kind Kind) string {
	switch kind {
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindList:
		return "array"
	case KindDict, KindBlob, KindBlobDict:
		return "object"
	}
	return "string"
}

func blobSchema() map[string]any {
	return map[string]any{
		"type": []any{"object", "null"},
		"properties": map[string]any{
			"size":         map[string]any{"type": []any{"number", "null"}},
			"checksum":     map[string]any{"type": []any{"string", "null"}},
			"external":     map[string]any{"type": "boolean"},
			"status":       map[string]any{"type": "string", "enum": blobStatusValues()},
			"content_type": map[string]any{"type": "string"},
		},
		"required":             []string{"size", "checksum", "external", "status", "content_type"},
		"additionalProperties": false,
	}
}

func (a *Attribute) schema() map[string]any {
	schema := map[string]any{}
	for _, v := range a.schemaValidators() {
		for key, val := range v.SchemaFragment() {
			schema[key] = val
		}
	}

	attrType := schemaType(a.Kind)
	if a.Nullable {
		schema["type"] = []any{attrType, "null"}
	} else {
		schema["type"] = attrType
	}

	if a.System {
		schema["readOnly"] = true
	}

	switch a.Kind {
	case KindDict:
		elementType := schemaType(a.Element)
		if props, ok := schema["properties"].(map[string]any); ok {
			// An allowed-keys dict renders a closed property map. Keys
			// required by a validator keep the bare element type, the
			// rest are nullable.
			required := stringSet(schema["required"])
			delete(schema, "required")
			typed := make(map[string]any, len(props))
			for key := range props {
				if required[key] {
					typed[key] = map[string]any{"type": elementType}
				} else {
					typed[key] = map[string]any{"type": []any{elementType, "null"}}
				}
			}
			schema["properties"] = typed
			schema["additionalProperties"] = false
		} else {
			schema["additionalProperties"] = map[string]any{"type": elementType}
		}
	case KindBlobDict:
		schema["additionalProperties"] = blobSchema()
	case KindList:
		schema["items"] = map[string]any{"type": schemaType(a.Element)}
	case KindBlob:
		for key, val := range blobSchema() {
			schema[key] = val
		}
	case KindDateTime:
		schema["format"] = "date-time"
	}

	if a.Name == "status" {
		schema["enum"] = statusValues()
		delete(schema, "maxLength")
	}

	if a.Mutable {
		schema["mutable"] = true
	}
	if a.Sortable {
		schema["sortable"] = true
	}
	if !a.RequiredOnActivate {
		schema["required_on_activate"] = false
	}
	if a.HasDefault && a.Default != nil {
		schema["default"] = a.Default
	}
	schema["filter_ops"] = filterOpStrings(a.FilterOps)

	return schema
}

func stringSet(v any) map[string]bool {
	out := map[string]bool{}
	switch tv := v.(type) {
	case []string:
		for _, s := range tv {
			out[s] = true
		}
	case []any:
		for _, s := range tv {
			if str, ok := s.(string); ok {
				out[str] = true
			}
		}
	}
	return out
}

func blobStatusValues() []any {
	out := make([]any, len(artifact.BlobStatuses))
	for i, s := range artifact.BlobStatuses {
		out[i] = string(s)
	}
	return out
}

func filterOpStrings(ops []artifact.FilterOp) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}
