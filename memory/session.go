package memory

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/internal/match"
)

type state int

const (
	stateTracked state = iota
	stateAdded
	stateDeleted
)

type entry struct {
	meta     *tableMeta
	key      any
	entity   reflect.Value // the caller's pointer
	original reflect.Value // column values when tracking started, invalid for added entries
	state    state
}

func (en *entry) dirty() bool {
	if en.state != stateTracked {
		return false
	}
	if !en.original.IsValid() {
		return true
	}
	return !en.meta.equalColumns(en.entity, en.original)
}

// Session tracks entities for one unit of work. It is not safe for concurrent use.
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

func (s *Session) lookup(m *tableMeta, key any) (*entry, bool) {
	en, ok := s.identity[m.typ][key]
	return en, ok
}

func (s *Session) track(en *entry) {
	byKey, ok := s.identity[en.meta.typ]
	if !ok {
		byKey = make(map[any]*entry)
		s.identity[en.meta.typ] = byKey
	}
	byKey[en.key] = en
	s.order = append(s.order, en)
}

func (s *Session) untrack(en *entry) {
	delete(s.identity[en.meta.typ], en.key)
	for i, o := range s.order {
		if o == en {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// tracked returns the entry for the exact pointer v, or an error
func (s *Session) tracked(m *tableMeta, v reflect.Value) (*entry, error) {
	key := m.key(v.Interface())
	en, ok := s.lookup(m, key)
	if !ok || en.entity.Pointer() != v.Pointer() {
		return nil, fmt.Errorf("%w: %s %v", stillsuit.ErrNotTracked, m.name, key)
	}
	return en, nil
}

// Table implements stillsuit.Session
func (s *Session) Table(entityType reflect.Type) (stillsuit.Collection, error) {
	m, err := s.engine.table(entityType)
	if err != nil {
		return nil, err
	}
	opts := s.opts
	opts.Paths = append([]stillsuit.FetchPath(nil), s.opts.Paths...)
	return &collection{session: s, meta: m, opts: opts}, nil
}

// SetLoadOptions implements stillsuit.Session. Cache and batch hints are ignored.
func (s *Session) SetLoadOptions(opts stillsuit.LoadOptions) {
	s.opts = opts
}

// Insert implements stillsuit.Session. Inserting an entity the session already
// tracks keeps it tracked, so a later commit updates it instead.
func (s *Session) Insert(_ context.Context, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := m.key(entity)
	if en, ok := s.lookup(m, key); ok {
		if en.entity.Pointer() != v.Pointer() {
			return fmt.Errorf("%w: %s %v is already tracked", stillsuit.ErrItemAlreadyExists, m.name, key)
		}
		if en.state == stateDeleted {
			en.state = stateTracked
		}
		return nil
	}
	s.track(&entry{meta: m, key: key, entity: v, state: stateAdded})
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

// Attach implements stillsuit.Session. Changes made while the entity was
// detached are compared against the committed row and persisted on commit.
func (s *Session) Attach(_ context.Context, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := m.key(entity)
	if en, ok := s.lookup(m, key); ok {
		if en.entity.Pointer() != v.Pointer() {
			return fmt.Errorf("%w: %s %v is already tracked", stillsuit.ErrItemAlreadyExists, m.name, key)
		}
		return nil
	}
	en := &entry{meta: m, key: key, entity: v, state: stateTracked}
	if row, ok := s.engine.row(m, key); ok {
		en.original = row
	}
	s.track(en)
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
func (s *Session) Refresh(_ context.Context, mode stillsuit.RefreshMode, entity any) error {
	m, v, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	en, err := s.tracked(m, v)
	if err != nil {
		return err
	}
	row, ok := s.engine.row(m, en.key)
	if !ok {
		return fmt.Errorf("%w: %s %v", stillsuit.ErrItemNotFound, m.name, en.key)
	}

	switch mode {
	case stillsuit.OverwriteCurrentValues:
		m.copyColumns(en.entity, row)
	case stillsuit.KeepCurrentValues:
		for _, i := range m.columns {
			current := en.entity.Elem().Field(i)
			if en.original.IsValid() && !reflect.DeepEqual(current.Interface(), en.original.Elem().Field(i).Interface()) {
				continue
			}
			current.Set(row.Elem().Field(i))
		}
	default:
		return fmt.Errorf("%w: refresh mode %s", stillsuit.ErrUnsupportedOperation, mode)
	}
	en.original = row
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
			count(&cs.Inserted, en.meta.name)
		case en.state == stateDeleted:
			count(&cs.Deleted, en.meta.name)
		case en.dirty():
			count(&cs.Updated, en.meta.name)
		}
	}
	return cs
}

// Commit applies every pending change atomically. Nothing is written when a
// check fails.
func (s *Session) Commit(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { stillsuit.LogQuery(s.engine.logger, ctx, "commit", "memory", nil, start, err) }()

	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, en := range s.order {
		_, exists := en.meta.rows[en.key]
		switch {
		case en.state == stateAdded && exists:
			return fmt.Errorf("%w: %s %v", stillsuit.ErrItemAlreadyExists, en.meta.name, en.key)
		case en.state == stateDeleted && !exists:
			return fmt.Errorf("%w: %s %v", stillsuit.ErrItemNotFound, en.meta.name, en.key)
		case en.dirty() && !exists:
			return fmt.Errorf("%w: %s %v", stillsuit.ErrItemNotFound, en.meta.name, en.key)
		}
	}

	var kept []*entry
	for _, en := range s.order {
		switch {
		case en.state == stateAdded:
			en.meta.rows[en.key] = en.meta.copyRow(en.entity)
			en.meta.keys = append(en.meta.keys, en.key)
		case en.state == stateDeleted:
			en.meta.removeKey(en.key)
			delete(s.identity[en.meta.typ], en.key)
			continue
		case en.dirty():
			en.meta.rows[en.key] = en.meta.copyRow(en.entity)
		}
		en.state = stateTracked
		en.original = en.meta.copyRow(en.entity)
		kept = append(kept, en)
	}
	s.order = kept
	return nil
}

// Rollback forgets every tracked entity
func (s *Session) Rollback(_ context.Context) error {
	s.identity = make(map[reflect.Type]map[any]*entry)
	s.order = nil
	return nil
}

// materialize maps committed row copies to tracked instances, tracking new ones
func (s *Session) materialize(m *tableMeta, rows []any) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		rv := reflect.ValueOf(row)
		key := m.key(row)
		if en, ok := s.lookup(m, key); ok {
			out = append(out, en.entity.Interface())
			continue
		}
		s.track(&entry{meta: m, key: key, entity: rv, original: m.copyRow(rv), state: stateTracked})
		out = append(out, row)
	}
	return out
}

type collection struct {
	session *Session
	meta    *tableMeta
	opts    stillsuit.LoadOptions
}

// Find evaluates filter against committed rows and returns tracked instances
func (c *collection) Find(ctx context.Context, filter *stillsuit.Filter) (items []any, err error) {
	start := time.Now()
	defer func() { stillsuit.LogQuery(c.session.engine.logger, ctx, "find", c.meta.name, nil, start, err) }()

	rows, err := match.Apply(c.session.engine.snapshot(c.meta), filter)
	if err != nil {
		return nil, err
	}
	items = c.session.materialize(c.meta, rows)
	if err = c.session.loadPaths(ctx, c.meta.typ, items, c.opts.Paths); err != nil {
		return nil, err
	}
	return items, nil
}

// Count implements stillsuit.Collection
func (c *collection) Count(ctx context.Context, filter *stillsuit.Filter) (int64, error) {
	var conds []stillsuit.Condition
	if filter != nil {
		conds = filter.Conditions
	}
	var n int64
	for _, row := range c.session.engine.snapshot(c.meta) {
		ok, err := match.Matches(row, conds)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
