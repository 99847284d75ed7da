package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/seb7887/gofw/stillsuit"
)

type state int

const (
	stateTracked state = iota
	stateAdded
	stateDeleted
)

type entry struct {
	m        *mapping
	key      any
	entity   reflect.Value
	original []any // column values when tracking started, nil forces a full update
	state    state
}

// changed returns the non key columns whose value differs from the original
func (en *entry) changed() []int {
	current := en.m.getValues(en.entity)
	var cols []int
	for i := 1; i < len(current); i++ {
		if en.original == nil || !reflect.DeepEqual(current[i], en.original[i]) {
			cols = append(cols, i)
		}
	}
	return cols
}

// Session reads outside a transaction and writes its pending changes in one
// transaction on Commit. It is not safe for concurrent use.
type Session struct {
	engine   *Engine
	identity map[reflect.Type]map[any]*entry
	order    []*entry
	opts     stillsuit.LoadOptions
}

var (
	_ stillsuit.Session        = (*Session)(nil)
	_ stillsuit.Detacher       = (*Session)(nil)
	_ stillsuit.Committer      = (*Session)(nil)
	_ stillsuit.ChangeReporter = (*Session)(nil)
)

func newSession(e *Engine) *Session {
	return &Session{
		engine:   e,
		identity: make(map[reflect.Type]map[any]*entry),
	}
}

func (s *Session) lookup(m *mapping, key any) (*entry, bool) {
	en, ok := s.identity[m.typ][key]
	return en, ok
}

func (s *Session) track(en *entry) {
	byKey, ok := s.identity[en.m.typ]
	if !ok {
		byKey = make(map[any]*entry)
		s.identity[en.m.typ] = byKey
	}
	byKey[en.key] = en
	s.order = append(s.order, en)
}

func (s *Session) untrack(en *entry) {
	delete(s.identity[en.m.typ], en.key)
	for i, o := range s.order {
		if o == en {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Session) tracked(m *mapping, v reflect.Value) (*entry, error) {
	key := m.key(v)
	en, ok := s.lookup(m, key)
	if !ok || en.entity.Pointer() != v.Pointer() {
		return nil, fmt.Errorf("%w: %s %v", stillsuit.ErrNotTracked, m.entity, key)
	}
	return en, nil
}

func (s *Session) batchSize() int {
	if s.opts.BatchSize > 0 {
		return s.opts.BatchSize
	}
	return s.engine.batchSize
}

// Table implements stillsuit.Session
func (s *Session) Table(entityType reflect.Type) (stillsuit.Collection, error) {
	m, err := s.engine.table(entityType)
	if err != nil {
		return nil, err
	}
	opts := s.opts
	opts.Paths = append([]stillsuit.FetchPath(nil), s.opts.Paths...)
	return &collection{session: s, m: m, opts: opts}, nil
}

// SetLoadOptions implements stillsuit.Session
func (s *Session) SetLoadOptions(opts stillsuit.LoadOptions) {
	s.opts = opts
}

// Insert implements stillsuit.Session
func (s *Session) Insert(_ context.Context, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := m.key(v)
	if en, ok := s.lookup(m, key); ok {
		if en.entity.Pointer() != v.Pointer() {
			return fmt.Errorf("%w: %s %v is already tracked", stillsuit.ErrItemAlreadyExists, m.entity, key)
		}
		if en.state == stateDeleted {
			en.state = stateTracked
		}
		return nil
	}
	s.track(&entry{m: m, key: key, entity: v, state: stateAdded})
	return nil
}

// Delete implements stillsuit.Session
func (s *Session) Delete(_ context.Context, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	en, err := s.tracked(m, v)
	if err != nil {
		return err
	}
	if en.state == stateAdded {
		s.untrack(en)
		return nil
	}
	en.state = stateDeleted
	return nil
}

// Attach implements stillsuit.Session. The row is not read back, so every
// column is written on commit.
func (s *Session) Attach(_ context.Context, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := m.key(v)
	if en, ok := s.lookup(m, key); ok {
		if en.entity.Pointer() != v.Pointer() {
			return fmt.Errorf("%w: %s %v is already tracked", stillsuit.ErrItemAlreadyExists, m.entity, key)
		}
		return nil
	}
	s.track(&entry{m: m, key: key, entity: v, state: stateTracked})
	return nil
}

// Detach implements stillsuit.Detacher
func (s *Session) Detach(_ context.Context, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	en, err := s.tracked(m, v)
	if err != nil {
		return err
	}
	s.untrack(en)
	return nil
}

// Refresh implements stillsuit.Session
func (s *Session) Refresh(ctx context.Context, mode stillsuit.RefreshMode, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	en, err := s.tracked(m, v)
	if err != nil {
		return err
	}
	if mode != stillsuit.OverwriteCurrentValues && mode != stillsuit.KeepCurrentValues {
		return fmt.Errorf("%w: refresh mode %s", stillsuit.ErrUnsupportedOperation, mode)
	}

	rows, err := s.engine.queryRows(ctx, s.engine.conn, m, m.getSQL(s.engine.dialect), []any{en.key})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s %v", stillsuit.ErrItemNotFound, m.entity, en.key)
	}
	fresh := rows[0]

	if mode == stillsuit.OverwriteCurrentValues {
		m.copyColumns(en.entity, fresh)
	} else {
		current := en.m.getValues(en.entity)
		for i, f := range m.fields {
			if en.original != nil && !reflect.DeepEqual(current[i], en.original[i]) {
				continue
			}
			en.entity.Elem().Field(f).Set(fresh.Elem().Field(f))
		}
	}
	en.original = m.getValues(fresh)
	return nil
}

// Pending implements stillsuit.ChangeReporter
func (s *Session) Pending() stillsuit.ChangeSet {
	var cs stillsuit.ChangeSet
	count := func(dst *map[string]int, name string) {
		if *dst == nil {
			*dst = make(map[string]int)
		}
		(*dst)[name]++
	}
	for _, en := range s.order {
		switch {
		case en.state == stateAdded:
			count(&cs.Inserted, en.m.entity)
		case en.state == stateDeleted:
			count(&cs.Deleted, en.m.entity)
		case len(en.changed()) > 0:
			count(&cs.Updated, en.m.entity)
		}
	}
	return cs
}

// Commit writes inserts, dirty columns and deletes in one transaction, in
// the order they were tracked
func (s *Session) Commit(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { stillsuit.LogQuery(s.engine.logger, ctx, "commit", s.engine.dialect.Name(), nil, start, err) }()

	if len(s.order) == 0 {
		return nil
	}

	tx, err := s.engine.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	d := s.engine.dialect
	touched := make(map[string]bool)
	for _, en := range s.order {
		var n int64
		switch en.state {
		case stateAdded:
			_, err = s.engine.exec(ctx, tx, "insert", en.m.insertSQL(d), en.m.getValues(en.entity))
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s %v", stillsuit.ErrItemAlreadyExists, en.m.entity, en.key)
				}
				return err
			}
		case stateDeleted:
			n, err = s.engine.exec(ctx, tx, "delete", en.m.deleteSQL(d), []any{en.key})
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: %s %v", stillsuit.ErrItemNotFound, en.m.entity, en.key)
			}
		default:
			cols := en.changed()
			if len(cols) == 0 {
				continue
			}
			values := en.m.getValues(en.entity)
			names := make([]string, len(cols))
			args := make([]any, 0, len(cols)+1)
			for i, c := range cols {
				names[i] = en.m.columns[c]
				args = append(args, values[c])
			}
			args = append(args, en.key)
			n, err = s.engine.exec(ctx, tx, "update", en.m.updateSQL(d, names), args)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: %s %v", stillsuit.ErrItemNotFound, en.m.entity, en.key)
			}
		}
		touched[en.m.tableName] = true
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	var kept []*entry
	for _, en := range s.order {
		if en.state == stateDeleted {
			delete(s.identity[en.m.typ], en.key)
			continue
		}
		en.state = stateTracked
		en.original = en.m.getValues(en.entity)
		kept = append(kept, en)
	}
	s.order = kept
	s.invalidate(ctx, touched)
	return nil
}

func (s *Session) invalidate(ctx context.Context, touched map[string]bool) {
	if s.engine.cache == nil || len(touched) == 0 {
		return
	}
	tables := make([]string, 0, len(touched))
	for t := range touched {
		tables = append(tables, t)
	}
	start := time.Now()
	err := s.engine.cache.Invalidate(ctx, tables...)
	stillsuit.LogQuery(s.engine.logger, ctx, "cache_invalidate", "", nil, start, err)
}

// Rollback forgets every tracked entity
func (s *Session) Rollback(_ context.Context) error {
	s.identity = make(map[reflect.Type]map[any]*entry)
	s.order = nil
	return nil
}

// materialize maps scanned rows to tracked instances, tracking new ones
func (s *Session) materialize(m *mapping, rows []reflect.Value) []any {
	out := make([]any, 0, len(rows))
	for _, rv := range rows {
		key := m.key(rv)
		if en, ok := s.lookup(m, key); ok {
			out = append(out, en.entity.Interface())
			continue
		}
		s.track(&entry{m: m, key: key, entity: rv, original: m.getValues(rv), state: stateTracked})
		out = append(out, rv.Interface())
	}
	return out
}

// fetch runs a select, going through the result cache when cacheName is set
func (s *Session) fetch(ctx context.Context, m *mapping, cacheName, query string, args []any) ([]reflect.Value, error) {
	cache := s.engine.cache
	if cache == nil || cacheName == "" {
		return s.engine.queryRows(ctx, s.engine.conn, m, query, args)
	}

	key := cacheKey(cacheName, m.tableName, query, args)
	start := time.Now()
	data, ok, err := cache.Get(ctx, key)
	if err == nil && ok {
		rows, derr := m.decodeRows(data)
		if derr == nil {
			stillsuit.LogQuery(s.engine.logger, ctx, "cache_hit", query, args, start, nil)
			return rows, nil
		}
		err = derr
	}
	if err != nil {
		// a broken cache never fails the read
		stillsuit.LogQuery(s.engine.logger, ctx, "cache_get", query, args, start, err)
	}

	gen, genErr := cache.Generation(ctx, m.tableName)
	rows, err := s.engine.queryRows(ctx, s.engine.conn, m, query, args)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		stillsuit.LogQuery(s.engine.logger, ctx, "cache_generation", query, args, start, genErr)
		return rows, nil
	}
	data, err = m.encodeRows(rows)
	if err == nil {
		err = cache.Set(ctx, m.tableName, gen, key, data)
	}
	if err != nil {
		stillsuit.LogQuery(s.engine.logger, ctx, "cache_set", query, args, start, err)
	}
	return rows, nil
}

type collection struct {
	session *Session
	m       *mapping
	opts    stillsuit.LoadOptions
}

// Find runs the filter against the database and returns tracked instances
func (c *collection) Find(ctx context.Context, filter *stillsuit.Filter) ([]any, error) {
	query, args, err := c.m.queryBuilder(c.session.engine.dialect, filter)
	if err != nil {
		return nil, err
	}
	rows, err := c.session.fetch(ctx, c.m, c.opts.CacheName, query, args)
	if err != nil {
		return nil, err
	}
	items := c.session.materialize(c.m, rows)
	if err := c.session.loadPaths(ctx, c.m.typ, items, c.opts.Paths, c.opts.CacheName); err != nil {
		return nil, err
	}
	return items, nil
}

// Count implements stillsuit.Collection
func (c *collection) Count(ctx context.Context, filter *stillsuit.Filter) (n int64, err error) {
	query, args, err := c.m.countBuilder(c.session.engine.dialect, filter)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { stillsuit.LogQuery(c.session.engine.logger, ctx, "count", query, args, start, err) }()

	rows, err := c.session.engine.conn.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("count returned no rows")
	}
	if err = rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}
