package sqlengine

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect covers the SQL differences between the supported databases
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th argument, 1 based
	Placeholder(n int) string
	// ILike renders a case-insensitive LIKE of column against placeholder
	ILike(column, placeholder string) string
	// LimitOffset renders the paging clause, empty when both are zero
	LimitOffset(limit, offset int) string
}

var (
	Postgres Dialect = postgres{}
	SQLite   Dialect = sqliteDialect{}
)

type postgres struct{}

func (postgres) Name() string                   { return "postgres" }
func (postgres) Placeholder(n int) string        { return "$" + strconv.Itoa(n) }
func (postgres) ILike(column, ph string) string { return column + " ILIKE " + ph }

type sqliteDialect struct{}

func (sqliteDialect) Name() string            { return "sqlite" }
func (sqliteDialect) Placeholder(int) string   { return "?" }
func (sqliteDialect) ILike(column, ph string) string {
	return "LOWER(" + column + ") LIKE LOWER(" + ph + ")"
}

func (postgres) LimitOffset(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

// SQLite only accepts OFFSET after a LIMIT, -1 meaning no limit
func (sqliteDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}
