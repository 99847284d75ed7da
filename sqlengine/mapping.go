package sqlengine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/seb7887/gofw/stillsuit"
)

// mapping binds a struct type to a table. The first db column is the primary key.
type mapping struct {
	typ       reflect.Type
	entity    string
	tableName string
	columns   []string
	fields    []int
}

func sanitizeIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return fmt.Errorf("invalid character in identifier: %c", r)
		}
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

func joinQuotedColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdentifier(col)
	}
	return strings.Join(quoted, ", ")
}

func buildPlaceholders(d Dialect, start, n int) string {
	placeholders := make([]string, n)
	for i := 0; i < n; i++ {
		placeholders[i] = d.Placeholder(start + i)
	}
	return strings.Join(placeholders, ", ")
}

// getColumns returns the db tagged columns of typ and the index of their fields
func getColumns(typ reflect.Type) ([]string, []int, error) {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("columns must be a struct")
	}

	var (
		columns []string
		fields  []int
	)
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" || !field.IsExported() {
			continue
		}
		columns = append(columns, tag)
		fields = append(fields, i)
	}
	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("no columns found")
	}
	return columns, fields, nil
}

func newMapping(typ reflect.Type, tableName string) (*mapping, error) {
	if err := sanitizeIdentifier(tableName); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	columns, fields, err := getColumns(typ)
	if err != nil {
		return nil, err
	}
	for _, col := range columns {
		if err := sanitizeIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid column name '%s': %w", col, err)
		}
	}
	return &mapping{
		typ:       typ,
		entity:    stillsuit.EntityName(typ),
		tableName: tableName,
		columns:   columns,
		fields:    fields,
	}, nil
}

func (m *mapping) hasColumn(name string) bool {
	for _, c := range m.columns {
		if c == name {
			return true
		}
	}
	return false
}

// getValues returns the column values of v, a pointer to the mapped struct
func (m *mapping) getValues(v reflect.Value) []any {
	v = v.Elem()
	values := make([]any, len(m.fields))
	for i, f := range m.fields {
		values[i] = v.Field(f).Interface()
	}
	return values
}

func (m *mapping) getScanDestinations(v reflect.Value) []any {
	v = v.Elem()
	dests := make([]any, len(m.fields))
	for i, f := range m.fields {
		dests[i] = v.Field(f).Addr().Interface()
	}
	return dests
}

// key returns the primary key value of v
func (m *mapping) key(v reflect.Value) any {
	return v.Elem().Field(m.fields[0]).Interface()
}

func (m *mapping) copyColumns(dst, src reflect.Value) {
	for _, f := range m.fields {
		dst.Elem().Field(f).Set(src.Elem().Field(f))
	}
}

// value validates that the value is a non-nil pointer to the mapped struct
func (m *mapping) value(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Type() != m.typ {
		return reflect.Value{}, fmt.Errorf("%w: expected *%s, got %T", stillsuit.ErrInvalidArgument, m.entity, entity)
	}
	return v, nil
}

func (m *mapping) insertSQL(d Dialect) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(m.tableName),
		joinQuotedColumns(m.columns),
		buildPlaceholders(d, 1, len(m.columns)),
	)
}

func (m *mapping) getSQL(d Dialect) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		joinQuotedColumns(m.columns),
		quoteIdentifier(m.tableName),
		quoteIdentifier(m.columns[0]),
		d.Placeholder(1),
	)
}

// updateSQL sets the given columns, in order, and matches on the primary key
func (m *mapping) updateSQL(d Dialect, columns []string) string {
	setClause := make([]string, len(columns))
	for i, col := range columns {
		setClause[i] = fmt.Sprintf("%s = %s", quoteIdentifier(col), d.Placeholder(i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quoteIdentifier(m.tableName),
		strings.Join(setClause, ", "),
		quoteIdentifier(m.columns[0]),
		d.Placeholder(len(columns)+1),
	)
}

func (m *mapping) deleteSQL(d Dialect) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quoteIdentifier(m.tableName),
		quoteIdentifier(m.columns[0]),
		d.Placeholder(1),
	)
}
