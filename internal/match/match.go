// Package match evaluates filters against in-memory structs. Engines without a
// query language of their own (memory, redis) share it.
package match

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/seb7887/gofw/stillsuit"
)

// FieldByName finds a struct field by its db tag, then by a case-insensitive field name
func FieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if tag := f.Tag.Get("db"); f.IsExported() && tag != "" && tag == name {
			return v.Field(i), true
		}
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.IsExported() && strings.EqualFold(f.Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// truth is a SQL truth value. Comparisons against NULL are unknown, and
// unknown is never a match, even under NOT.
type truth int

const (
	unknown truth = iota
	no
	yes
)

func truthOf(b bool) truth {
	if b {
		return yes
	}
	return no
}

// Matches reports whether item satisfies every top level condition
func Matches(item any, conds []stillsuit.Condition) (bool, error) {
	v := reflect.ValueOf(item)
	for _, c := range conds {
		t, err := evaluate(v, c)
		if err != nil || t != yes {
			return false, err
		}
	}
	return true, nil
}

func evaluate(v reflect.Value, c stillsuit.Condition) (truth, error) {
	if c.IsGroup() {
		switch c.LogicalOp {
		case stillsuit.LogicalAND:
			result := yes
			for _, nested := range c.Conditions {
				t, err := evaluate(v, nested)
				if err != nil {
					return unknown, err
				}
				if t == no {
					return no, nil
				}
				if t == unknown {
					result = unknown
				}
			}
			return result, nil
		case stillsuit.LogicalOR:
			result := no
			for _, nested := range c.Conditions {
				t, err := evaluate(v, nested)
				if err != nil {
					return unknown, err
				}
				if t == yes {
					return yes, nil
				}
				if t == unknown {
					result = unknown
				}
			}
			return result, nil
		case stillsuit.LogicalNOT:
			if len(c.Conditions) != 1 {
				return unknown, fmt.Errorf("%w: NOT expects exactly one condition", stillsuit.ErrInvalidArgument)
			}
			t, err := evaluate(v, c.Conditions[0])
			switch t {
			case yes:
				return no, err
			case no:
				return yes, err
			}
			return unknown, err
		default:
			return unknown, fmt.Errorf("%w: unknown logical operator %q", stillsuit.ErrInvalidArgument, c.LogicalOp)
		}
	}

	field, ok := FieldByName(v, c.Field)
	if !ok {
		return unknown, fmt.Errorf("%w: unknown field %q", stillsuit.ErrInvalidArgument, c.Field)
	}

	switch c.Operator {
	case stillsuit.OpIsNull:
		return truthOf(isNull(field)), nil
	case stillsuit.OpIsNotNull:
		return truthOf(!isNull(field)), nil
	}
	if isNull(field) {
		if _, known := operators[c.Operator]; !known {
			return unknown, fmt.Errorf("%w: unsupported operator %q", stillsuit.ErrInvalidArgument, c.Operator)
		}
		return unknown, nil
	}
	value := indirect(field).Interface()

	switch c.Operator {
	case stillsuit.OpEqual:
		return truthOf(Equal(value, c.Value)), nil
	case stillsuit.OpNotEqual:
		return truthOf(!Equal(value, c.Value)), nil
	case stillsuit.OpGreaterThan, stillsuit.OpGreaterThanOrEqual, stillsuit.OpLessThan, stillsuit.OpLessThanOrEqual:
		cmp, ok := Compare(value, c.Value)
		if !ok {
			return no, nil
		}
		switch c.Operator {
		case stillsuit.OpGreaterThan:
			return truthOf(cmp > 0), nil
		case stillsuit.OpGreaterThanOrEqual:
			return truthOf(cmp >= 0), nil
		case stillsuit.OpLessThan:
			return truthOf(cmp < 0), nil
		default:
			return truthOf(cmp <= 0), nil
		}
	case stillsuit.OpLike, stillsuit.OpILike:
		s, ok1 := value.(string)
		pattern, ok2 := c.Value.(string)
		if !ok1 || !ok2 {
			return no, nil
		}
		return truthOf(Like(s, pattern, c.Operator == stillsuit.OpILike)), nil
	case stillsuit.OpIn, stillsuit.OpNotIn:
		values, err := stillsuit.ValuesOf(c.Value)
		if err != nil {
			return unknown, err
		}
		found := false
		for _, candidate := range values {
			if Equal(value, candidate) {
				found = true
				break
			}
		}
		return truthOf(found == (c.Operator == stillsuit.OpIn)), nil
	case stillsuit.OpBetween:
		values, err := stillsuit.ValuesOf(c.Value)
		if err != nil {
			return unknown, err
		}
		if len(values) != 2 {
			return unknown, fmt.Errorf("%w: BETWEEN needs exactly two values", stillsuit.ErrInvalidArgument)
		}
		lo, ok1 := Compare(value, values[0])
		hi, ok2 := Compare(value, values[1])
		return truthOf(ok1 && ok2 && lo >= 0 && hi <= 0), nil
	default:
		return unknown, fmt.Errorf("%w: unsupported operator %q", stillsuit.ErrInvalidArgument, c.Operator)
	}
}

var operators = map[stillsuit.Operator]struct{}{
	stillsuit.OpEqual: {}, stillsuit.OpNotEqual: {},
	stillsuit.OpGreaterThan: {}, stillsuit.OpGreaterThanOrEqual: {},
	stillsuit.OpLessThan: {}, stillsuit.OpLessThanOrEqual: {},
	stillsuit.OpLike: {}, stillsuit.OpILike: {},
	stillsuit.OpIn: {}, stillsuit.OpNotIn: {}, stillsuit.OpBetween: {},
}

func isNull(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	return v
}

// Equal compares numbers by value regardless of their Go type
func Equal(a, b any) bool {
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two numbers, strings, times or bools. ok is false when the
// values cannot be ordered against each other.
func Compare(a, b any) (cmp int, ok bool) {
	if af, okA := toFloat64(a); okA {
		if bf, okB := toFloat64(b); okB {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	switch at := a.(type) {
	case string:
		if bt, isStr := b.(string); isStr {
			return strings.Compare(at, bt), true
		}
	case time.Time:
		if bt, isTime := b.(time.Time); isTime {
			return at.Compare(bt), true
		}
	case bool:
		if bt, isBool := b.(bool); isBool {
			switch {
			case at == bt:
				return 0, true
			case !at:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

// Like implements SQL LIKE with % and _ wildcards
func Like(value, pattern string, fold bool) bool {
	var b strings.Builder
	if fold {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// Apply filters, sorts and pages items (pointers to structs) the way a SQL
// SELECT would
func Apply(items []any, f *stillsuit.Filter) ([]any, error) {
	if f == nil {
		f = &stillsuit.Filter{}
	}
	var out []any
	for _, item := range items {
		ok, err := Matches(item, f.Conditions)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	if err := Sort(out, f.Sort); err != nil {
		return nil, err
	}
	return Page(out, f.Limit, f.Offset), nil
}

// Sort orders items in place by the sort fields, stable for equal keys
func Sort(items []any, fields []stillsuit.SortField) error {
	if len(fields) == 0 || len(items) == 0 {
		return nil
	}
	for _, sf := range fields {
		if _, ok := FieldByName(reflect.ValueOf(items[0]), sf.Field); !ok {
			return fmt.Errorf("%w: unknown sort field %q", stillsuit.ErrInvalidArgument, sf.Field)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, sf := range fields {
			a, _ := FieldByName(reflect.ValueOf(items[i]), sf.Field)
			b, _ := FieldByName(reflect.ValueOf(items[j]), sf.Field)
			cmp, ok := compareValues(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if sf.Direction == stillsuit.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

// nulls sort first, as with ASC in SQLite
func compareValues(a, b reflect.Value) (int, bool) {
	aNull, bNull := isNull(a), isNull(b)
	switch {
	case aNull && bNull:
		return 0, true
	case aNull:
		return -1, true
	case bNull:
		return 1, true
	}
	return Compare(indirect(a).Interface(), indirect(b).Interface())
}

// Page applies offset then limit, a zero limit means no limit
func Page(items []any, limit, offset int) []any {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
