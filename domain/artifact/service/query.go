// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/go-glare/glare/core/identity"
	"github.com/go-glare/glare/core/semversion"
	"github.com/go-glare/glare/domain/artifact"
	"github.com/go-glare/glare/internal/artifacttype"
)

// reservedParams are the query parameters that are not attribute
// filters.
var reservedParams = map[string]bool{
	"limit": true, "marker": true, "sort": true,
	"tags": true, "tags-any": true,
}

var filterOps = map[string]artifact.FilterOp{
	"eq": artifact.OpEq, "neq": artifact.OpNeq, "in": artifact.OpIn,
	"gt": artifact.OpGt, "gte": artifact.OpGte,
	"lt": artifact.OpLt, "lte": artifact.OpLte,
}

// maxCustomSortKeys caps how many property-backed keys one listing may
// sort by; each one costs a join.
const maxCustomSortKeys = 2

// List executes a catalog query parsed from the request parameters.
func (s *Service) List(ctx context.Context, who identity.Identity, typeName string, params url.Values) (artifact.Page, error) {
	d, err := s.registry.GetType(typeName)
	if err != nil {
		return artifact.Page{}, errors.Trace(err)
	}
	q, err := s.parseQuery(d, params)
	if err != nil {
		return artifact.Page{}, errors.Trace(err)
	}
	page, err := s.st.List(ctx, q, scopeFor(who))
	return page, errors.Trace(err)
}

func (s *Service) parseQuery(d *artifacttype.Descriptor, params url.Values) (artifact.Query, error) {
	q := artifact.Query{
		TypeName: d.Name,
		Limit:    s.params.DefaultPageSize,
		Marker:   params.Get("marker"),
	}

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, badRequestf("limit %q is not a non-negative integer", raw)
		}
		if limit > s.params.MaxPageSize {
			limit = s.params.MaxPageSize
		}
		q.Limit = limit
	}

	for _, raw := range params["sort"] {
		for _, part := range strings.Split(raw, ",") {
			key, err := parseSortKey(d, part)
			if err != nil {
				return q, errors.Trace(err)
			}
			q.Sorts = append(q.Sorts, key)
		}
	}
	if len(q.Sorts) == 0 {
		q.Sorts = []artifact.Sort{{
			Name: "created_at", Direction: artifact.SortDesc, Type: artifact.TypeDateTime,
		}}
	}
	custom := 0
	for _, key := range q.Sorts {
		if key.Custom {
			custom++
		}
	}
	if custom > maxCustomSortKeys {
		return q, badRequestf("at most %d property sort keys are allowed", maxCustomSortKeys)
	}

	tagsAll, err := parseTags(params["tags"])
	if err != nil {
		return q, errors.Trace(err)
	}
	q.TagsAll = tagsAll
	tagsAny, err := parseTags(params["tags-any"])
	if err != nil {
		return q, errors.Trace(err)
	}
	q.TagsAny = tagsAny

	names := make([]string, 0, len(params))
	for name := range params {
		if !reservedParams[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, raw := range params[name] {
			f, err := parseFilter(d, name, raw)
			if err != nil {
				return q, errors.Trace(err)
			}
			q.Filters = append(q.Filters, f)
		}
	}
	return q, nil
}

// parseTags splits bare comma lists. Operator prefixes are rejected:
// tag filters carry no operator.
func parseTags(raws []string) ([]string, error) {
	var out []string
	for _, raw := range raws {
		if raw == "" {
			continue
		}
		if _, _, prefixed := splitOp(raw); prefixed {
			return nil, badRequestf("tags are filtered without an operator")
		}
		for _, tag := range strings.Split(raw, ",") {
			if tag == "" {
				return nil, badRequestf("empty tag value")
			}
			out = append(out, tag)
		}
	}
	return out, nil
}

// splitOp splits an "op:value" filter expression. Values without a
// known operator prefix default to eq.
func splitOp(raw string) (artifact.FilterOp, string, bool) {
	if i := strings.Index(raw, ":"); i >= 0 {
		if op, ok := filterOps[raw[:i]]; ok {
			return op, raw[i+1:], true
		}
	}
	return artifact.OpEq, raw, false
}

func parseSortKey(d *artifacttype.Descriptor, raw string) (artifact.Sort, error) {
	name, dir := raw, artifact.SortDesc
	if i := strings.Index(raw, ":"); i >= 0 {
		name = raw[:i]
		switch raw[i+1:] {
		case "asc":
			dir = artifact.SortAsc
		case "desc":
			dir = artifact.SortDesc
		default:
			return artifact.Sort{}, badRequestf("sort direction %q is not asc or desc", raw[i+1:])
		}
	}
	if strings.Contains(name, ".") {
		return artifact.Sort{}, badRequestf("cannot sort by map entry %q", name)
	}
	attr, ok := d.Attribute(name)
	if !ok {
		return artifact.Sort{}, badRequestf("cannot sort by unknown attribute %q", name)
	}
	if !attr.Sortable {
		return artifact.Sort{}, badRequestf("attribute %q is not sortable", name)
	}
	key := artifact.Sort{
		Name:      name,
		Direction: dir,
		Type:      attr.Kind.ValueType(),
		Custom:    !artifacttype.Intrinsic(name),
	}
	if name == "version" {
		key.Type = artifact.TypeString
	}
	return key, nil
}

// parseFilter turns one "attr=op:value" pair into an executable filter.
// Dotted names address map entries; the key may itself contain dots.
func parseFilter(d *artifacttype.Descriptor, rawName, rawValue string) (artifact.Filter, error) {
	name, key := rawName, ""
	if i := strings.Index(rawName, "."); i >= 0 {
		name, key = rawName[:i], rawName[i+1:]
	}
	attr, ok := d.Attribute(name)
	if !ok {
		return artifact.Filter{}, badRequestf("unknown filter attribute %q", rawName)
	}
	if key != "" && attr.Kind != artifacttype.KindDict {
		return artifact.Filter{}, badRequestf("attribute %q is not a map", name)
	}
	if key == "" && attr.Kind == artifacttype.KindDict {
		return artifact.Filter{}, badRequestf("attribute %q is filtered by map entry", name)
	}

	op, operand, _ := splitOp(rawValue)
	if !attr.AllowsFilter(op) {
		return artifact.Filter{}, badRequestf("attribute %q cannot be filtered with %q", name, op)
	}

	operands := []string{operand}
	if op == artifact.OpIn {
		operands = splitIn(operand)
		if len(operands) == 0 {
			return artifact.Filter{}, badRequestf("empty value list for %q", rawName)
		}
	}

	f := artifact.Filter{Name: name, Key: key, Op: op, Type: filterType(attr)}
	if name == "visibility" {
		// Unknown visibility values are syntactically fine but can
		// never match; neq was already rejected by the operator set.
		for _, v := range operands {
			if v != string(artifact.VisibilityPrivate) && v != string(artifact.VisibilityPublic) {
				f.MatchesNothing = true
			}
			f.Values = append(f.Values, v)
		}
		return f, nil
	}
	if name == "version" {
		for _, v := range operands {
			version, err := semversion.Parse(v)
			if err != nil {
				return artifact.Filter{}, badRequestf("version %q is not a valid version", v)
			}
			f.Values = append(f.Values, version.SortKey())
		}
		return f, nil
	}

	for _, v := range operands {
		coerced, err := coerceOperand(attr, v)
		if err != nil {
			return artifact.Filter{}, badRequestf("filter %q: %v", rawName, err)
		}
		f.Values = append(f.Values, coerced)
	}
	return f, nil
}

// filterType names the typed storage column the filter compares
// against. Version compares on its order-preserving sort key.
func filterType(attr *artifacttype.Attribute) artifact.ValueType {
	if attr.Name == "version" {
		return artifact.TypeString
	}
	switch attr.Kind {
	case artifacttype.KindList, artifacttype.KindDict:
		return attr.Element.ValueType()
	}
	return attr.Kind.ValueType()
}

func coerceOperand(attr *artifacttype.Attribute, operand string) (any, error) {
	switch attr.Kind {
	case artifacttype.KindList, artifacttype.KindDict:
		return attr.CoerceElement(operand)
	}
	return attr.Coerce(operand)
}

// splitIn splits the comma list of an "in" operator. Values may be
// double quoted to embed commas.
func splitIn(raw string) []string {
	var out []string
	var current strings.Builder
	inQuotes := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			out = append(out, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	out = append(out, current.String())

	filtered := out[:0]
	for _, v := range out {
		if v != "" {
			filtered = append(filtered, v)
		}
	}
	return filtered
}
