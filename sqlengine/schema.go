package sqlengine

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// ColumnType represents SQL column data types
type ColumnType string

const (
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeBigInt    ColumnType = "BIGINT"
	ColumnTypeText      ColumnType = "TEXT"
	ColumnTypeBoolean   ColumnType = "BOOLEAN"
	ColumnTypeTimestamp ColumnType = "TIMESTAMP"
	ColumnTypeFloat     ColumnType = "FLOAT8"
	ColumnTypeBlob      ColumnType = "BYTEA"
)

// IndexType represents different types of database indexes. SQLite ignores it.
type IndexType string

const (
	IndexTypeBTree IndexType = "BTREE"
	IndexTypeHash  IndexType = "HASH"
	IndexTypeGin   IndexType = "GIN"
)

// ColumnDef defines a table column
type ColumnDef struct {
	Name         string
	Type         ColumnType
	PrimaryKey   bool
	NotNull      bool
	Unique       bool
	DefaultValue string
}

// IndexDef defines a table index
type IndexDef struct {
	Name    string
	Type    IndexType
	Columns []string
	Unique  bool
	Where   string // Partial index condition
}

// TableDef defines a complete table schema
type TableDef struct {
	Name    string
	Columns []ColumnDef
	Indexes []IndexDef
}

// InferTableDef infers the table definition of T. The first db column is the
// primary key; `unique:"true"`, `nullable:"true"` and `default:"..."` tags
// refine a column.
func InferTableDef[T any](tableName string) (*TableDef, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	m, err := newMapping(typ, tableName)
	if err != nil {
		return nil, err
	}
	return m.tableDef(), nil
}

func (m *mapping) tableDef() *TableDef {
	def := &TableDef{
		Name:    m.tableName,
		Columns: make([]ColumnDef, 0, len(m.columns)),
	}
	for i, f := range m.fields {
		field := m.typ.Field(f)
		col := ColumnDef{
			Name:       m.columns[i],
			Type:       inferColumnType(field.Type),
			PrimaryKey: i == 0,
			NotNull:    true,
		}
		if field.Tag.Get("unique") == "true" {
			col.Unique = true
		}
		if field.Tag.Get("nullable") == "true" || field.Type.Kind() == reflect.Ptr {
			col.NotNull = false
		}
		if v := field.Tag.Get("default"); v != "" {
			col.DefaultValue = v
		}
		def.Columns = append(def.Columns, col)
	}
	return def
}

// inferColumnType maps Go types to SQL column types
func inferColumnType(t reflect.Type) ColumnType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return ColumnTypeInteger
	case reflect.Int64, reflect.Uint, reflect.Uint64:
		return ColumnTypeBigInt
	case reflect.String:
		return ColumnTypeText
	case reflect.Bool:
		return ColumnTypeBoolean
	case reflect.Float32, reflect.Float64:
		return ColumnTypeFloat
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return ColumnTypeBlob
		}
		return ColumnTypeText
	default:
		if t.String() == "time.Time" {
			return ColumnTypeTimestamp
		}
		return ColumnTypeText
	}
}

// GenerateCreateTableSQL generates CREATE TABLE SQL from table definition
func GenerateCreateTableSQL(def *TableDef) string {
	var parts []string
	for _, col := range def.Columns {
		colDef := fmt.Sprintf("%s %s", quoteIdentifier(col.Name), col.Type)

		if col.PrimaryKey {
			colDef += " PRIMARY KEY"
		}
		if col.NotNull && !col.PrimaryKey {
			colDef += " NOT NULL"
		}
		if col.Unique && !col.PrimaryKey {
			colDef += " UNIQUE"
		}
		if col.DefaultValue != "" {
			colDef += " DEFAULT " + col.DefaultValue
		}
		parts = append(parts, colDef)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		quoteIdentifier(def.Name),
		strings.Join(parts, ",\n  "),
	)
}

// GenerateCreateIndexSQL generates CREATE INDEX SQL from index definition
func GenerateCreateIndexSQL(d Dialect, tableName string, idx *IndexDef) string {
	uniqueClause := ""
	if idx.Unique {
		uniqueClause = "UNIQUE "
	}

	using := ""
	if d.Name() == Postgres.Name() && idx.Type != "" {
		using = " USING " + string(idx.Type)
	}

	sql := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s%s (%s)",
		uniqueClause,
		quoteIdentifier(idx.Name),
		quoteIdentifier(tableName),
		using,
		joinQuotedColumns(idx.Columns),
	)
	if idx.Where != "" {
		sql += " WHERE " + idx.Where
	}
	return sql
}

// GenerateDropTableSQL generates DROP TABLE SQL
func GenerateDropTableSQL(d Dialect, tableName string) string {
	sql := "DROP TABLE IF EXISTS " + quoteIdentifier(tableName)
	if d.Name() == Postgres.Name() {
		sql += " CASCADE"
	}
	return sql
}

// EnsureTable creates the table registered for T, and its indexes, when missing
func EnsureTable[T any](ctx context.Context, e *Engine, indexes ...IndexDef) error {
	m, err := e.table(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return err
	}
	def := m.tableDef()
	def.Indexes = indexes

	if _, err := e.exec(ctx, e.conn, "create_table", GenerateCreateTableSQL(def), nil); err != nil {
		return fmt.Errorf("failed to create table %s: %w", def.Name, err)
	}
	for i := range def.Indexes {
		idx := &def.Indexes[i]
		if err := sanitizeIdentifier(idx.Name); err != nil {
			return fmt.Errorf("invalid index name: %w", err)
		}
		if _, err := e.exec(ctx, e.conn, "create_index", GenerateCreateIndexSQL(e.dialect, def.Name, idx), nil); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

// DropTable drops the table registered for T
func DropTable[T any](ctx context.Context, e *Engine) error {
	m, err := e.table(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return err
	}
	_, err = e.exec(ctx, e.conn, "drop_table", GenerateDropTableSQL(e.dialect, m.tableName), nil)
	return err
}
