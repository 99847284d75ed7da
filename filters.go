package stillsuit

import (
	"fmt"
	"reflect"
)

// Operator is a comparison applied to a single field
type Operator string

const (
	OpEqual              Operator = "="
	OpNotEqual           Operator = "!="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpLike               Operator = "LIKE"
	OpILike              Operator = "ILIKE"
	OpIn                 Operator = "IN"
	OpNotIn              Operator = "NOT IN"
	OpIsNull             Operator = "IS NULL"
	OpIsNotNull          Operator = "IS NOT NULL"
	OpBetween            Operator = "BETWEEN"
)

// LogicalOperator combines nested conditions
type LogicalOperator string

const (
	LogicalAND LogicalOperator = "AND"
	LogicalOR  LogicalOperator = "OR"
	LogicalNOT LogicalOperator = "NOT"
)

// SortDirection is the ordering applied to a sort field
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// Condition represents a condition to filter queries.
// A condition with a LogicalOp is a group and its Field/Operator/Value are ignored.
type Condition struct {
	Field    string
	Operator Operator
	Value    any

	LogicalOp  LogicalOperator
	Conditions []Condition
}

// IsGroup reports whether the condition combines nested conditions
func (c Condition) IsGroup() bool {
	return c.LogicalOp != ""
}

// SortField orders results by a single field
type SortField struct {
	Field     string
	Direction SortDirection
}

// Filter groups a set of conditions. Top level conditions are AND-ed.
type Filter struct {
	Conditions []Condition
	Sort       []SortField
	Limit      int
	Offset     int
}

// Clone returns a deep copy of the filter, nil safe
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	return &Filter{
		Conditions: cloneConditions(f.Conditions),
		Sort:       append([]SortField(nil), f.Sort...),
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
}

func cloneConditions(conds []Condition) []Condition {
	if conds == nil {
		return nil
	}
	out := make([]Condition, len(conds))
	for i, c := range conds {
		out[i] = c
		out[i].Conditions = cloneConditions(c.Conditions)
	}
	return out
}

// Fields returns every field referenced by conditions and sort clauses
func (f *Filter) Fields() []string {
	if f == nil {
		return nil
	}
	var fields []string
	var walk func(conds []Condition)
	walk = func(conds []Condition) {
		for _, c := range conds {
			if c.IsGroup() {
				walk(c.Conditions)
				continue
			}
			fields = append(fields, c.Field)
		}
	}
	walk(f.Conditions)
	for _, s := range f.Sort {
		fields = append(fields, s.Field)
	}
	return fields
}

// Validate checks operator/value pairs without looking at the entity shape
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidArgument)
	}
	for _, c := range f.Conditions {
		if err := validateCondition(c); err != nil {
			return err
		}
	}
	for _, s := range f.Sort {
		if s.Field == "" {
			return fmt.Errorf("%w: empty sort field", ErrInvalidArgument)
		}
		if s.Direction != SortAsc && s.Direction != SortDesc {
			return fmt.Errorf("%w: invalid sort direction %q", ErrInvalidArgument, s.Direction)
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	if c.IsGroup() {
		switch c.LogicalOp {
		case LogicalAND, LogicalOR:
			if len(c.Conditions) == 0 {
				return fmt.Errorf("%w: empty %s group", ErrInvalidArgument, c.LogicalOp)
			}
		case LogicalNOT:
			if len(c.Conditions) != 1 {
				return fmt.Errorf("%w: NOT expects exactly one condition", ErrInvalidArgument)
			}
		default:
			return fmt.Errorf("%w: unknown logical operator %q", ErrInvalidArgument, c.LogicalOp)
		}
		for _, nested := range c.Conditions {
			if err := validateCondition(nested); err != nil {
				return err
			}
		}
		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("%w: empty condition field", ErrInvalidArgument)
	}
	switch c.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
		OpLike, OpILike, OpIsNull, OpIsNotNull:
		return nil
	case OpIn, OpNotIn:
		values, err := ValuesOf(c.Value)
		if err != nil {
			return fmt.Errorf("%s on %q: %w", c.Operator, c.Field, err)
		}
		if len(values) == 0 {
			return fmt.Errorf("%w: %s on %q needs at least one value", ErrInvalidArgument, c.Operator, c.Field)
		}
		return nil
	case OpBetween:
		values, err := ValuesOf(c.Value)
		if err != nil {
			return fmt.Errorf("%s on %q: %w", c.Operator, c.Field, err)
		}
		if len(values) != 2 {
			return fmt.Errorf("%w: BETWEEN on %q needs exactly two values", ErrInvalidArgument, c.Field)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidArgument, c.Operator)
	}
}

// ValuesOf flattens a slice or array value into []any
func ValuesOf(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: expected a slice value, got %T", ErrInvalidArgument, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// FilterBuilder assembles a Filter fluently
type FilterBuilder struct {
	filter Filter
}

// NewFilter starts an empty filter
func NewFilter() *FilterBuilder {
	return &FilterBuilder{}
}

// Where adds a leaf condition AND-ed with the rest
func (b *FilterBuilder) Where(field string, op Operator, value any) *FilterBuilder {
	b.filter.Conditions = append(b.filter.Conditions, Condition{Field: field, Operator: op, Value: value})
	return b
}

// And adds a parenthesized AND group
func (b *FilterBuilder) And(conds ...Condition) *FilterBuilder {
	b.filter.Conditions = append(b.filter.Conditions, Condition{LogicalOp: LogicalAND, Conditions: conds})
	return b
}

// Or adds a parenthesized OR group
func (b *FilterBuilder) Or(conds ...Condition) *FilterBuilder {
	b.filter.Conditions = append(b.filter.Conditions, Condition{LogicalOp: LogicalOR, Conditions: conds})
	return b
}

// Not negates a condition (leaf or group)
func (b *FilterBuilder) Not(cond Condition) *FilterBuilder {
	b.filter.Conditions = append(b.filter.Conditions, Condition{LogicalOp: LogicalNOT, Conditions: []Condition{cond}})
	return b
}

func (b *FilterBuilder) OrderBy(field string, dir SortDirection) *FilterBuilder {
	b.filter.Sort = append(b.filter.Sort, SortField{Field: field, Direction: dir})
	return b
}

func (b *FilterBuilder) Limit(n int) *FilterBuilder {
	b.filter.Limit = n
	return b
}

func (b *FilterBuilder) Offset(n int) *FilterBuilder {
	b.filter.Offset = n
	return b
}

// Build returns a copy, the builder may keep being used
func (b *FilterBuilder) Build() *Filter {
	return b.filter.Clone()
}
