package redisengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/internal/match"
)

type opKind int

const (
	opInsert opKind = iota
	opAttach
	opDelete
)

type op struct {
	t      *table
	key    string
	entity any
	kind   opKind
}

// snapshot is the document an entity was loaded from
type snapshot struct {
	t    *table
	key  string
	data []byte
}

// Session buffers writes and applies them in one MULTI/EXEC on Commit.
// Entities returned by a query are watched for changes, but two queries
// return distinct instances for the same key.
type Session struct {
	engine  *Engine
	pending []*op
	loaded  map[any]*snapshot
	opts    stillsuit.LoadOptions
}

var (
	_ stillsuit.Session        = (*Session)(nil)
	_ stillsuit.Committer      = (*Session)(nil)
	_ stillsuit.ChangeReporter = (*Session)(nil)
)

func newSession(e *Engine) *Session {
	return &Session{engine: e, loaded: make(map[any]*snapshot)}
}

func (s *Session) find(key string, kinds ...opKind) int {
	for i, o := range s.pending {
		if o.key == key && slices.Contains(kinds, o.kind) {
			return i
		}
	}
	return -1
}

func (s *Session) remove(i int) {
	s.pending = append(s.pending[:i], s.pending[i+1:]...)
}

// Table implements stillsuit.Session
func (s *Session) Table(entityType reflect.Type) (stillsuit.Collection, error) {
	t, err := s.engine.table(entityType)
	if err != nil {
		return nil, err
	}
	opts := s.opts
	opts.Paths = append([]stillsuit.FetchPath(nil), s.opts.Paths...)
	return &collection{session: s, t: t, opts: opts}, nil
}

// SetLoadOptions implements stillsuit.Session. Cache and batch hints are ignored.
func (s *Session) SetLoadOptions(opts stillsuit.LoadOptions) {
	s.opts = opts
}

// Insert implements stillsuit.Session. Redis writes are upserts, so inserting
// an existing key replaces the stored document.
func (s *Session) Insert(_ context.Context, entity any) error {
	t, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := t.key(entity)
	if i := s.find(key, opDelete); i >= 0 {
		s.remove(i)
	}
	if i := s.find(key, opInsert, opAttach); i >= 0 {
		s.pending[i].entity = entity
		return nil
	}
	s.pending = append(s.pending, &op{t: t, key: key, entity: entity, kind: opInsert})
	return nil
}

// Delete implements stillsuit.Session. Deleting an entity inserted in this
// session only cancels the insert.
func (s *Session) Delete(_ context.Context, entity any) error {
	t, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := t.key(entity)
	delete(s.loaded, entity)
	if i := s.find(key, opInsert); i >= 0 {
		s.remove(i)
		return nil
	}
	if i := s.find(key, opAttach); i >= 0 {
		s.remove(i)
	}
	if s.find(key, opDelete) < 0 {
		s.pending = append(s.pending, &op{t: t, key: key, entity: entity, kind: opDelete})
	}
	return nil
}

// Attach implements stillsuit.Session. The whole document is written on commit.
func (s *Session) Attach(_ context.Context, entity any) error {
	t, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	key := t.key(entity)
	if s.find(key, opInsert, opAttach) >= 0 {
		return nil
	}
	s.pending = append(s.pending, &op{t: t, key: key, entity: entity, kind: opAttach})
	return nil
}

// Refresh implements stillsuit.Session. KeepCurrentValues needs the entity to
// come from a query of this session, otherwise every field is overwritten.
func (s *Session) Refresh(ctx context.Context, mode stillsuit.RefreshMode, entity any) error {
	t, err := s.engine.tableOf(entity)
	if err != nil {
		return err
	}
	if mode != stillsuit.OverwriteCurrentValues && mode != stillsuit.KeepCurrentValues {
		return fmt.Errorf("%w: refresh mode %s", stillsuit.ErrUnsupportedOperation, mode)
	}
	key := t.key(entity)

	start := time.Now()
	data, err := s.engine.client.Get(ctx, key).Bytes()
	stillsuit.LogQuery(s.engine.logger, ctx, "get", key, nil, start, err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s %s", stillsuit.ErrItemNotFound, t.name, key)
		}
		return err
	}

	fresh := reflect.New(t.typ)
	if err := json.Unmarshal(data, fresh.Interface()); err != nil {
		return err
	}
	current := reflect.ValueOf(entity).Elem()
	snap, tracked := s.loaded[entity]
	var original reflect.Value
	if mode == stillsuit.KeepCurrentValues && tracked {
		original = reflect.New(t.typ)
		if err := json.Unmarshal(snap.data, original.Interface()); err != nil {
			return err
		}
	}
	for i := 0; i < t.typ.NumField(); i++ {
		if !t.typ.Field(i).IsExported() {
			continue
		}
		if original.IsValid() && !reflect.DeepEqual(current.Field(i).Interface(), original.Elem().Field(i).Interface()) {
			continue
		}
		current.Field(i).Set(fresh.Elem().Field(i))
	}
	s.loaded[entity] = &snapshot{t: t, key: key, data: data}
	return nil
}

// dirty returns the loaded entities whose document changed, without a pending write
func (s *Session) dirty() ([]*op, error) {
	var out []*op
	for entity, snap := range s.loaded {
		if s.find(snap.key, opInsert, opAttach, opDelete) >= 0 {
			continue
		}
		data, err := json.Marshal(entity)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(data, snap.data) {
			out = append(out, &op{t: snap.t, key: snap.key, entity: entity, kind: opAttach})
		}
	}
	slices.SortFunc(out, func(a, b *op) int {
		return bytes.Compare([]byte(a.key), []byte(b.key))
	})
	return out, nil
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
	dirty, _ := s.dirty()
	for _, o := range append(slices.Clone(s.pending), dirty...) {
		switch o.kind {
		case opInsert:
			count(&cs.Inserted, o.t.name)
		case opAttach:
			count(&cs.Updated, o.t.name)
		case opDelete:
			count(&cs.Deleted, o.t.name)
		}
	}
	return cs
}

// Commit writes every pending change in one transaction. Keys being deleted
// are watched and must still exist, or nothing is written.
func (s *Session) Commit(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { stillsuit.LogQuery(s.engine.logger, ctx, "commit", "redis", nil, start, err) }()

	dirty, err := s.dirty()
	if err != nil {
		return err
	}
	ops := append(slices.Clone(s.pending), dirty...)
	if len(ops) == 0 {
		return nil
	}

	type write struct {
		o    *op
		data []byte
	}
	var (
		writes  []write
		deletes []string
	)
	for _, o := range ops {
		if o.kind == opDelete {
			deletes = append(deletes, o.key)
			continue
		}
		data, err := json.Marshal(o.entity)
		if err != nil {
			return err
		}
		writes = append(writes, write{o, data})
	}

	txf := func(tx *redis.Tx) error {
		if len(deletes) > 0 {
			n, err := tx.Exists(ctx, deletes...).Result()
			if err != nil {
				return err
			}
			if n != int64(len(deletes)) {
				return fmt.Errorf("%w: %d of %d deleted keys are missing", stillsuit.ErrItemNotFound, int64(len(deletes))-n, len(deletes))
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.Set(ctx, w.o.key, w.data, s.engine.ttl)
			}
			if len(deletes) > 0 {
				pipe.Del(ctx, deletes...)
			}
			return nil
		})
		return err
	}
	if err = s.engine.client.Watch(ctx, txf, deletes...); err != nil {
		return err
	}

	for _, o := range ops {
		if o.kind == opDelete {
			delete(s.loaded, o.entity)
		}
	}
	for _, w := range writes {
		s.loaded[w.o.entity] = &snapshot{t: w.o.t, key: w.o.key, data: w.data}
	}
	s.pending = nil
	return nil
}

// Rollback discards pending writes and stops watching loaded entities
func (s *Session) Rollback(_ context.Context) error {
	s.pending = nil
	s.loaded = make(map[any]*snapshot)
	return nil
}

type collection struct {
	session *Session
	t       *table
	opts    stillsuit.LoadOptions
}

func (c *collection) documents(ctx context.Context) ([]any, [][]byte, error) {
	keys, err := c.session.engine.scan(ctx, c.t)
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(keys)
	docs, err := c.session.engine.load(ctx, keys)
	if err != nil {
		return nil, nil, err
	}
	items := make([]any, len(docs))
	for i, d := range docs {
		v := reflect.New(c.t.typ)
		if err := json.Unmarshal(d, v.Interface()); err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s: %w", c.t.name, err)
		}
		items[i] = v.Interface()
	}
	return items, docs, nil
}

// Find implements stillsuit.Collection. Relationships cannot be eager-loaded.
func (c *collection) Find(ctx context.Context, filter *stillsuit.Filter) ([]any, error) {
	if len(c.opts.Paths) > 0 {
		return nil, fmt.Errorf("%w: %s has no relationship %q", stillsuit.ErrUnknownPath, c.t.name, c.opts.Paths[0])
	}
	items, docs, err := c.documents(ctx)
	if err != nil {
		return nil, err
	}
	byEntity := make(map[any][]byte, len(items))
	for i, item := range items {
		byEntity[item] = docs[i]
	}
	out, err := match.Apply(items, filter)
	if err != nil {
		return nil, err
	}
	for _, item := range out {
		c.session.loaded[item] = &snapshot{t: c.t, key: c.t.key(item), data: byEntity[item]}
	}
	return out, nil
}

// Count implements stillsuit.Collection
func (c *collection) Count(ctx context.Context, filter *stillsuit.Filter) (int64, error) {
	items, _, err := c.documents(ctx)
	if err != nil {
		return 0, err
	}
	var conds []stillsuit.Condition
	if filter != nil {
		conds = filter.Conditions
	}
	var n int64
	for _, item := range items {
		ok, err := match.Matches(item, conds)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
