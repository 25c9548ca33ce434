// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

// intrinsicColumns maps filterable and sortable intrinsic attribute
// names onto artifact table columns. Version maps onto the order-
// preserving sort key column; the service pre-converts version filter
// operands to sort keys.
var intrinsicColumns = map[string]string{
	"id":           "a.id",
	"name":         "a.name",
	"owner":        "a.owner",
	"status":       "a.status",
	"visibility":   "a.visibility",
	"version":      "a.version_sort",
	"created_at":   "a.created_at",
	"updated_at":   "a.updated_at",
	"activated_at": "a.activated_at",
	"description":  "a.description",
}

// typedColumn names the artifact_property column holding values of the
// given type.
func typedColumn(t artifact.ValueType) string {
	switch t {
	case artifact.TypeInt:
		return "int_value"
	case artifact.TypeNumeric:
		return "numeric_value"
	case artifact.TypeBool:
		return "bool_value"
	}
	return "string_value"
}

func opSQL(op artifact.FilterOp) string {
	switch op {
	case artifact.OpEq:
		return "="
	case artifact.OpNeq:
		return "!="
	case artifact.OpGt:
		return ">"
	case artifact.OpGte:
		return ">="
	case artifact.OpLt:
		return "<"
	case artifact.OpLte:
		return "<="
	}
	return "="
}

// listQuery accumulates the dynamically assembled catalog query.
type listQuery struct {
	joins    []string
	joinArgs []any
	where    []string
	order    []string
	args     []any

	// sortExprs are the ORDER BY expressions in sort-key order, used
	// again for marker extraction and the strict-after predicate.
	sortExprs []sortExpr
}

type sortExpr struct {
	expr string
	dir  artifact.SortDirection
}

// List executes the catalog query: visibility scoping, filters, sort
// with id tiebreaker and keyset pagination. The page holds fully
// loaded artifacts in order.
func (st *State) List(ctx context.Context, q artifact.Query, scope ReadScope) (artifact.Page, error) {
	for _, f := range q.Filters {
		if f.MatchesNothing {
			return artifact.Page{}, nil
		}
	}

	lq := &listQuery{}
	lq.where = append(lq.where, "a.type_name = ?")
	lq.args = append(lq.args, q.TypeName)
	scopePredicate(lq, scope)

	for _, f := range q.Filters {
		if err := filterPredicate(lq, f); err != nil {
			return artifact.Page{}, errors.Trace(err)
		}
	}
	for _, tag := range q.TagsAll {
		lq.where = append(lq.where,
			"EXISTS (SELECT 1 FROM artifact_tag t WHERE t.artifact_id = a.id AND t.value = ?)")
		lq.args = append(lq.args, tag)
	}
	if len(q.TagsAny) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.TagsAny)), ", ")
		lq.where = append(lq.where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM artifact_tag t WHERE t.artifact_id = a.id AND t.value IN (%s))",
			placeholders))
		for _, tag := range q.TagsAny {
			lq.args = append(lq.args, tag)
		}
	}

	if err := sortClauses(lq, q.Sorts); err != nil {
		return artifact.Page{}, errors.Trace(err)
	}

	var ids []string
	err := st.Runner().StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if q.Marker != "" {
			if err := markerPredicate(ctx, tx, lq, q.Marker); err != nil {
				return errors.Trace(err)
			}
		}

		query := "SELECT a.id FROM artifact a"
		if len(lq.joins) > 0 {
			query += " " + strings.Join(lq.joins, " ")
		}
		query += " WHERE " + strings.Join(lq.where, " AND ")
		query += " ORDER BY " + strings.Join(lq.order, ", ")
		query += " LIMIT ?"
		args := append(append([]any{}, lq.joinArgs...), lq.args...)
		args = append(args, q.Limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Annotate(err, "executing catalog query")
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return errors.Trace(err)
			}
			ids = append(ids, id)
		}
		return errors.Trace(rows.Err())
	})
	if err != nil {
		return artifact.Page{}, errors.Trace(err)
	}

	page := artifact.Page{Full: len(ids) == q.Limit && q.Limit > 0}
	if len(ids) == 0 {
		return page, nil
	}
	err = st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		for _, id := range ids {
			af, err := st.loadArtifact(ctx, tx, id)
			if err != nil {
				return errors.Trace(err)
			}
			page.Artifacts = append(page.Artifacts, af)
		}
		return nil
	})
	if err != nil {
		return artifact.Page{}, errors.Trace(err)
	}
	return page, nil
}

// scopePredicate applies the visibility scope: deleted rows are never
// listed; non-admins see their own artifacts plus public non-
// deactivated ones.
func scopePredicate(lq *listQuery, scope ReadScope) {
	lq.where = append(lq.where, "a.status != 'deleted'")
	if scope.Admin {
		return
	}
	if scope.Anonymous || scope.Tenant == "" {
		lq.where = append(lq.where, "(a.visibility = 'public' AND a.status != 'deactivated')")
		return
	}
	lq.where = append(lq.where,
		"(a.owner = ? OR (a.visibility = 'public' AND a.status != 'deactivated'))")
	lq.args = append(lq.args, scope.Tenant)
}

func filterPredicate(lq *listQuery, f artifact.Filter) error {
	values, err := storageValues(f)
	if err != nil {
		return errors.Trace(err)
	}

	if col, ok := intrinsicColumns[f.Name]; ok && f.Key == "" {
		switch f.Op {
		case artifact.OpIn:
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			lq.where = append(lq.where, fmt.Sprintf("%s IN (%s)", col, placeholders))
			lq.args = append(lq.args, values...)
		default:
			lq.where = append(lq.where, fmt.Sprintf("%s %s ?", col, opSQL(f.Op)))
			lq.args = append(lq.args, values[0])
		}
		return nil
	}

	// EAV-backed attribute: existence of a matching property row. For
	// list attributes this yields containment semantics.
	col := typedColumn(f.Type)
	conds := []string{"p.artifact_id = a.id", "p.name = ?"}
	args := []any{f.Name}
	if f.Key != "" {
		conds = append(conds, "p.key_name = ?")
		args = append(args, f.Key)
	}
	switch f.Op {
	case artifact.OpIn:
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		conds = append(conds, fmt.Sprintf("p.%s IN (%s)", col, placeholders))
		args = append(args, values...)
	default:
		conds = append(conds, fmt.Sprintf("p.%s %s ?", col, opSQL(f.Op)))
		args = append(args, values[0])
	}
	lq.where = append(lq.where, fmt.Sprintf(
		"EXISTS (SELECT 1 FROM artifact_property p WHERE %s)", strings.Join(conds, " AND ")))
	lq.args = append(lq.args, args...)
	return nil
}

// storageValues converts filter operands into their stored form: bools
// to 0/1 integers, datetimes to the canonical storage format.
func storageValues(f artifact.Filter) ([]any, error) {
	out := make([]any, len(f.Values))
	for i, v := range f.Values {
		switch f.Type {
		case artifact.TypeBool:
			b, ok := v.(bool)
			if !ok {
				return nil, errors.Annotatef(arterrors.BadRequest, "filter %q: expected boolean", f.Name)
			}
			if b {
				out[i] = int64(1)
			} else {
				out[i] = int64(0)
			}
		case artifact.TypeDateTime:
			s, ok := v.(string)
			if !ok {
				return nil, errors.Annotatef(arterrors.BadRequest, "filter %q: expected datetime", f.Name)
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, errors.Annotatef(arterrors.BadRequest, "filter %q: invalid datetime %q", f.Name, s)
			}
			out[i] = t.UTC().Format(timeFormat)
		default:
			out[i] = v
		}
	}
	if len(out) == 0 {
		return nil, errors.Annotatef(arterrors.BadRequest, "filter %q: no value", f.Name)
	}
	return out, nil
}

// sortClauses assembles ORDER BY expressions. Custom sort keys join
// the property table once per key; the id tiebreaker is always
// appended so ordering is total.
func sortClauses(lq *listQuery, sorts []artifact.Sort) error {
	for i, s := range sorts {
		var expr string
		if s.Custom {
			alias := fmt.Sprintf("s%d", i)
			lq.joins = append(lq.joins, fmt.Sprintf(
				"LEFT JOIN artifact_property %s ON %s.artifact_id = a.id AND %s.name = ? AND %s.container = 'scalar'",
				alias, alias, alias, alias))
			lq.joinArgs = append(lq.joinArgs, s.Name)
			expr = fmt.Sprintf("%s.%s", alias, typedColumn(s.Type))
		} else {
			col, ok := intrinsicColumns[s.Name]
			if !ok {
				return errors.Annotatef(arterrors.BadRequest, "cannot sort by %q", s.Name)
			}
			expr = col
		}
		dir := "ASC"
		if s.Direction == artifact.SortDesc {
			dir = "DESC"
		}
		lq.sortExprs = append(lq.sortExprs, sortExpr{expr: expr, dir: s.Direction})
		lq.order = append(lq.order, fmt.Sprintf("%s %s", expr, dir))
	}
	lq.sortExprs = append(lq.sortExprs, sortExpr{expr: "a.id", dir: artifact.SortDesc})
	lq.order = append(lq.order, "a.id DESC")
	return nil
}

// markerPredicate resolves the marker row's sort key values and adds
// the strict-after condition for keyset pagination.
func markerPredicate(ctx context.Context, tx *sql.Tx, lq *listQuery, marker string) error {
	exprs := make([]string, len(lq.sortExprs))
	for i, s := range lq.sortExprs {
		exprs[i] = s.expr
	}
	query := fmt.Sprintf("SELECT %s FROM artifact a", strings.Join(exprs, ", "))
	if len(lq.joins) > 0 {
		query += " " + strings.Join(lq.joins, " ")
	}
	query += " WHERE a.id = ?"

	markerArgs := append(append([]any{}, lq.joinArgs...), marker)
	row := tx.QueryRowContext(ctx, query, markerArgs...)
	values := make([]any, len(lq.sortExprs))
	dest := make([]any, len(lq.sortExprs))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Annotatef(arterrors.BadRequest, "marker %q not found", marker)
		}
		return errors.Trace(err)
	}

	// Strict-after: OR over prefixes, equality on earlier keys plus a
	// strict comparison on the current one.
	var branches []string
	var args []any
	for i, s := range lq.sortExprs {
		var conds []string
		for j := 0; j < i; j++ {
			eq, eqArgs := equalCond(lq.sortExprs[j].expr, values[j])
			conds = append(conds, eq)
			args = append(args, eqArgs...)
		}
		after, afterArgs, ok := afterCond(s, values[i])
		if !ok {
			continue
		}
		conds = append(conds, after)
		args = append(args, afterArgs...)
		branches = append(branches, "("+strings.Join(conds, " AND ")+")")
	}
	if len(branches) == 0 {
		// The marker row orders last under this sort; nothing follows.
		lq.where = append(lq.where, "1 = 0")
		return nil
	}
	lq.where = append(lq.where, "("+strings.Join(branches, " OR ")+")")
	lq.args = append(lq.args, args...)
	return nil
}

func equalCond(expr string, value any) (string, []any) {
	if value == nil {
		return fmt.Sprintf("%s IS NULL", expr), nil
	}
	return fmt.Sprintf("%s = ?", expr), []any{value}
}

// afterCond yields the strictly-after comparison for one sort key,
// honouring SQLite null placement: nulls first ascending, last
// descending.
func afterCond(s sortExpr, value any) (string, []any, bool) {
	if s.dir == artifact.SortDesc {
		if value == nil {
			// Nulls sort last descending; nothing is after null.
			return "", nil, false
		}
		return fmt.Sprintf("(%s < ? OR %s IS NULL)", s.expr, s.expr), []any{value}, true
	}
	if value == nil {
		return fmt.Sprintf("%s IS NOT NULL", s.expr), nil, true
	}
	return fmt.Sprintf("%s > ?", s.expr), []any{value}, true
}
