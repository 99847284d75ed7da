// Package sqlengine is a stillsuit engine over relational databases. Entities are
// structs tagged with `db`, the first tagged column being the primary key.
// Postgres (and CockroachDB) is reached through pgx, SQLite through database/sql
// and modernc.org/sqlite.
package sqlengine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/seb7887/gofw/stillsuit"
)

// DefaultBatchSize bounds the keys sent in one eager-load query when the
// repository gives no hint
const DefaultBatchSize = 500

// Engine maps registered entity types to tables of one database
type Engine struct {
	conn      Conn
	dialect   Dialect
	mu        sync.RWMutex
	tables    map[reflect.Type]*mapping
	relations map[reflect.Type]map[string]*relation
	cache     ResultCache
	logger    stillsuit.QueryLogger
	batchSize int
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger reports every statement through l
func WithLogger(l stillsuit.QueryLogger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithCache stores the rows of queries run with a cache name in c
func WithCache(c ResultCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithBatchSize sets the eager-load batch used when no hint is given
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New creates an engine talking to conn with the given dialect
func New(conn Conn, dialect Dialect, opts ...Option) (*Engine, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn cannot be nil")
	}
	if dialect == nil {
		return nil, fmt.Errorf("dialect cannot be nil")
	}
	e := &Engine{
		conn:      conn,
		dialect:   dialect,
		tables:    make(map[reflect.Type]*mapping),
		relations: make(map[reflect.Type]map[string]*relation),
		logger:    stillsuit.NewNoOpLogger(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register maps entity type T to tableName
func Register[T any](e *Engine, tableName string) error {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	m, err := newMapping(typ, tableName)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables[typ] = m
	return nil
}

// Dialect returns the dialect the engine renders SQL with
func (e *Engine) Dialect() Dialect {
	return e.dialect
}

// Open starts a new session
func (e *Engine) Open(_ context.Context) (stillsuit.Session, error) {
	return newSession(e), nil
}

func (e *Engine) table(typ reflect.Type) (*mapping, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.tables[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stillsuit.ErrUnknownEntity, stillsuit.EntityName(typ))
	}
	return m, nil
}

// tableOf resolves the mapping of an entity pointer
func (e *Engine) tableOf(entity any) (*mapping, reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("%w: expected a non-nil pointer to a struct, got %T", stillsuit.ErrInvalidArgument, entity)
	}
	m, err := e.table(v.Elem().Type())
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return m, v, nil
}

// queryRows runs query on q and scans every row into a new *T
func (e *Engine) queryRows(ctx context.Context, q Queryable, m *mapping, query string, args []any) (out []reflect.Value, err error) {
	start := time.Now()
	defer func() { stillsuit.LogQuery(e.logger, ctx, "select", query, args, start, err) }()

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		v := reflect.New(m.typ)
		if err := rows.Scan(m.getScanDestinations(v)...); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (e *Engine) exec(ctx context.Context, q Queryable, operation, query string, args []any) (n int64, err error) {
	start := time.Now()
	defer func() { stillsuit.LogQuery(e.logger, ctx, operation, query, args, start, err) }()
	return q.Exec(ctx, query, args...)
}
