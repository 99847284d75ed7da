package sqlengine

import (
	"fmt"
	"strings"

	"github.com/seb7887/gofw/stillsuit"
)

// whereBuilder renders conditions and collects their arguments in order
type whereBuilder struct {
	m    *mapping
	d    Dialect
	args []any
}

func (b *whereBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (m *mapping) validateFilterField(field string) error {
	if !m.hasColumn(field) {
		return fmt.Errorf("%w: unknown field %q for table %s", stillsuit.ErrInvalidArgument, field, m.tableName)
	}
	return nil
}

func (b *whereBuilder) buildWhereClause(conds []stillsuit.Condition, sep string) (string, error) {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		part, err := b.buildCondition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, sep), nil
}

func (b *whereBuilder) buildCondition(c stillsuit.Condition) (string, error) {
	if c.IsGroup() {
		switch c.LogicalOp {
		case stillsuit.LogicalAND, stillsuit.LogicalOR:
			if len(c.Conditions) == 0 {
				return "", fmt.Errorf("%w: empty %s group", stillsuit.ErrInvalidArgument, c.LogicalOp)
			}
			inner, err := b.buildWhereClause(c.Conditions, " "+string(c.LogicalOp)+" ")
			if err != nil {
				return "", err
			}
			return "(" + inner + ")", nil
		case stillsuit.LogicalNOT:
			if len(c.Conditions) != 1 {
				return "", fmt.Errorf("%w: NOT expects exactly one condition", stillsuit.ErrInvalidArgument)
			}
			inner, err := b.buildCondition(c.Conditions[0])
			if err != nil {
				return "", err
			}
			return "NOT (" + inner + ")", nil
		default:
			return "", fmt.Errorf("%w: unknown logical operator %q", stillsuit.ErrInvalidArgument, c.LogicalOp)
		}
	}

	if err := b.m.validateFilterField(c.Field); err != nil {
		return "", err
	}
	column := quoteIdentifier(c.Field)

	switch c.Operator {
	case stillsuit.OpIsNull, stillsuit.OpIsNotNull:
		return column + " " + string(c.Operator), nil
	case stillsuit.OpIn, stillsuit.OpNotIn:
		values, err := stillsuit.ValuesOf(c.Value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			return "", fmt.Errorf("%w: %s on %q needs at least one value", stillsuit.ErrInvalidArgument, c.Operator, c.Field)
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.bind(v)
		}
		return fmt.Sprintf("%s %s (%s)", column, c.Operator, strings.Join(placeholders, ", ")), nil
	case stillsuit.OpBetween:
		values, err := stillsuit.ValuesOf(c.Value)
		if err != nil {
			return "", err
		}
		if len(values) != 2 {
			return "", fmt.Errorf("%w: BETWEEN on %q needs exactly two values", stillsuit.ErrInvalidArgument, c.Field)
		}
		lo := b.bind(values[0])
		hi := b.bind(values[1])
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, lo, hi), nil
	case stillsuit.OpILike:
		return b.d.ILike(column, b.bind(c.Value)), nil
	case stillsuit.OpEqual, stillsuit.OpNotEqual, stillsuit.OpGreaterThan, stillsuit.OpGreaterThanOrEqual,
		stillsuit.OpLessThan, stillsuit.OpLessThanOrEqual, stillsuit.OpLike:
		return fmt.Sprintf("%s %s %s", column, c.Operator, b.bind(c.Value)), nil
	default:
		return "", fmt.Errorf("%w: unsupported operator %q", stillsuit.ErrInvalidArgument, c.Operator)
	}
}

// queryBuilder renders the SELECT for filter, a nil filter selects every row
func (m *mapping) queryBuilder(d Dialect, filter *stillsuit.Filter) (string, []any, error) {
	if filter == nil {
		filter = &stillsuit.Filter{}
	}
	query := fmt.Sprintf("SELECT %s FROM %s", joinQuotedColumns(m.columns), quoteIdentifier(m.tableName))

	b := &whereBuilder{m: m, d: d}
	where, err := b.buildWhereClause(filter.Conditions, " AND ")
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		query += " WHERE " + where
	}

	if len(filter.Sort) > 0 {
		order := make([]string, len(filter.Sort))
		for i, s := range filter.Sort {
			if err := m.validateFilterField(s.Field); err != nil {
				return "", nil, err
			}
			dir := s.Direction
			if dir == "" {
				dir = stillsuit.SortAsc
			}
			order[i] = quoteIdentifier(s.Field) + " " + string(dir)
		}
		query += " ORDER BY " + strings.Join(order, ", ")
	}

	if paging := d.LimitOffset(filter.Limit, filter.Offset); paging != "" {
		query += " " + paging
	}
	return query, b.args, nil
}

func (m *mapping) countBuilder(d Dialect, filter *stillsuit.Filter) (string, []any, error) {
	query := "SELECT COUNT(*) FROM " + quoteIdentifier(m.tableName)
	if filter == nil || len(filter.Conditions) == 0 {
		return query, nil, nil
	}
	b := &whereBuilder{m: m, d: d}
	where, err := b.buildWhereClause(filter.Conditions, " AND ")
	if err != nil {
		return "", nil, err
	}
	return query + " WHERE " + where, b.args, nil
}
