// Package memory is an in-process stillsuit engine. Committed rows live in maps
// guarded by the engine; sessions keep an identity map and apply their pending
// changes atomically on Commit.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/seb7887/gofw/stillsuit"
)

type tableMeta struct {
	typ     reflect.Type
	name    string
	key     func(any) any
	columns []int
	rows    map[any]reflect.Value // key -> *struct holding committed column values
	keys    []any                 // insertion order
}

// copyRow returns a new *struct with the column fields of src (a *struct)
func (m *tableMeta) copyRow(src reflect.Value) reflect.Value {
	dst := reflect.New(m.typ)
	m.copyColumns(dst, src)
	return dst
}

func (m *tableMeta) copyColumns(dst, src reflect.Value) {
	for _, i := range m.columns {
		dst.Elem().Field(i).Set(src.Elem().Field(i))
	}
}

func (m *tableMeta) equalColumns(a, b reflect.Value) bool {
	for _, i := range m.columns {
		if !reflect.DeepEqual(a.Elem().Field(i).Interface(), b.Elem().Field(i).Interface()) {
			return false
		}
	}
	return true
}

func (m *tableMeta) removeKey(key any) {
	delete(m.rows, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return
		}
	}
}

// columnsOf returns the fields persisted for typ: the db tagged ones when the
// struct uses tags, otherwise every exported field
func columnsOf(typ reflect.Type) []int {
	var tagged, exported []int
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		exported = append(exported, i)
		if tag != "" {
			tagged = append(tagged, i)
		}
	}
	if len(tagged) > 0 {
		return tagged
	}
	return exported
}

// Engine stores committed entities in memory
type Engine struct {
	mu        sync.RWMutex
	tables    map[reflect.Type]*tableMeta
	relations map[reflect.Type]map[string]*relation
	logger    stillsuit.QueryLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger reports reads and commits through l
func WithLogger(l stillsuit.QueryLogger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an empty engine
func New(opts ...Option) *Engine {
	e := &Engine{
		tables:    make(map[reflect.Type]*tableMeta),
		relations: make(map[reflect.Type]map[string]*relation),
		logger:    stillsuit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register declares entity type T, identified by getID
func Register[T any, ID comparable](e *Engine, getID func(*T) ID) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables[typ] = &tableMeta{
		typ:     typ,
		name:    stillsuit.EntityName(typ),
		key:     func(v any) any { return getID(v.(*T)) },
		columns: columnsOf(typ),
		rows:    make(map[any]reflect.Value),
	}
}

// Open starts a new session
func (e *Engine) Open(_ context.Context) (stillsuit.Session, error) {
	return newSession(e), nil
}

// Len returns the number of committed entities of type T
func Len[T any](e *Engine) int {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.tables[typ]; ok {
		return len(m.keys)
	}
	return 0
}

func (e *Engine) table(typ reflect.Type) (*tableMeta, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.tables[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stillsuit.ErrUnknownEntity, stillsuit.EntityName(typ))
	}
	return m, nil
}

// tableOf resolves the meta of an entity pointer
func (e *Engine) tableOf(entity any) (*tableMeta, reflect.Value, error) {
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

// snapshot copies the committed rows of m, in insertion order
func (e *Engine) snapshot(m *tableMeta) []any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]any, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.copyRow(m.rows[k]).Interface())
	}
	return out
}

func (e *Engine) row(m *tableMeta, key any) (reflect.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := m.rows[key]
	if !ok {
		return reflect.Value{}, false
	}
	return m.copyRow(r), true
}
