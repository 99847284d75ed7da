package sqlengine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/seb7887/gofw/stillsuit"
)

// relation loads related entities for a batch of tracked owners
type relation struct {
	name   string
	target reflect.Type
	load   func(ctx context.Context, s *Session, owners []any, cacheName string) ([]any, error)
}

func (e *Engine) addRelation(owner reflect.Type, rel *relation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byName, ok := e.relations[owner]
	if !ok {
		byName = make(map[string]*relation)
		e.relations[owner] = byName
	}
	byName[rel.name] = rel
}

func (e *Engine) relation(owner reflect.Type, name string) (*relation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rel, ok := e.relations[owner][name]
	return rel, ok
}

// HasMany declares the one-to-many relationship name from P to C. Children
// are selected with `foreignKey IN (...)` on the parent keys and grouped by
// childKey before being passed to assign.
func HasMany[P, C any, K comparable](e *Engine, name, foreignKey string, parentKey func(*P) K, childKey func(*C) K, assign func(*P, []*C)) {
	ptyp := reflect.TypeOf((*P)(nil)).Elem()
	ctyp := reflect.TypeOf((*C)(nil)).Elem()
	e.addRelation(ptyp, &relation{
		name:   name,
		target: ctyp,
		load: func(ctx context.Context, s *Session, owners []any, cacheName string) ([]any, error) {
			m, err := e.table(ctyp)
			if err != nil {
				return nil, err
			}
			keys := make([]K, 0, len(owners))
			for _, o := range owners {
				keys = append(keys, parentKey(o.(*P)))
			}
			children, err := s.loadIn(ctx, m, foreignKey, uniqueKeys(keys), cacheName)
			if err != nil {
				return nil, err
			}
			grouped := make(map[K][]*C, len(owners))
			for _, c := range children {
				child := c.(*C)
				k := childKey(child)
				grouped[k] = append(grouped[k], child)
			}
			for _, o := range owners {
				parent := o.(*P)
				assign(parent, grouped[parentKey(parent)])
			}
			return children, nil
		},
	})
}

// BelongsTo declares the many-to-one relationship name from C to P. Parents
// are selected on their primary key and the one whose pk equals the child's
// fk is passed to assign, or nil when missing.
func BelongsTo[C, P any, K comparable](e *Engine, name string, fk func(*C) K, pk func(*P) K, assign func(*C, *P)) {
	ctyp := reflect.TypeOf((*C)(nil)).Elem()
	ptyp := reflect.TypeOf((*P)(nil)).Elem()
	e.addRelation(ctyp, &relation{
		name:   name,
		target: ptyp,
		load: func(ctx context.Context, s *Session, owners []any, cacheName string) ([]any, error) {
			m, err := e.table(ptyp)
			if err != nil {
				return nil, err
			}
			keys := make([]K, 0, len(owners))
			for _, o := range owners {
				keys = append(keys, fk(o.(*C)))
			}
			parents, err := s.loadIn(ctx, m, m.columns[0], uniqueKeys(keys), cacheName)
			if err != nil {
				return nil, err
			}
			byKey := make(map[K]*P, len(parents))
			for _, p := range parents {
				parent := p.(*P)
				byKey[pk(parent)] = parent
			}
			for _, o := range owners {
				child := o.(*C)
				assign(child, byKey[fk(child)])
			}
			return parents, nil
		},
	})
}

func uniqueKeys[K comparable](keys []K) []any {
	seen := make(map[K]bool, len(keys))
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// loadIn selects the rows of m whose column is one of keys, in batches
func (s *Session) loadIn(ctx context.Context, m *mapping, column string, keys []any, cacheName string) ([]any, error) {
	if !m.hasColumn(column) {
		return nil, fmt.Errorf("%w: %s has no column %q", stillsuit.ErrInvalidArgument, m.entity, column)
	}
	size := s.batchSize()
	var rows []reflect.Value
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		filter := stillsuit.NewFilter().Where(column, stillsuit.OpIn, keys[start:end]).Build()
		query, args, err := m.queryBuilder(s.engine.dialect, filter)
		if err != nil {
			return nil, err
		}
		batch, err := s.fetch(ctx, m, cacheName, query, args)
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return s.materialize(m, rows), nil
}

func (s *Session) loadPaths(ctx context.Context, owner reflect.Type, owners []any, paths []stillsuit.FetchPath, cacheName string) error {
	if len(paths) == 0 {
		return nil
	}
	heads, nested := stillsuit.SplitPaths(paths)
	for _, head := range heads {
		rel, ok := s.engine.relation(owner, head)
		if !ok {
			return fmt.Errorf("%w: %s has no relationship %q", stillsuit.ErrUnknownPath, stillsuit.EntityName(owner), head)
		}
		related, err := rel.load(ctx, s, owners, cacheName)
		if err != nil {
			return err
		}
		if err := s.loadPaths(ctx, rel.target, related, nested[head], cacheName); err != nil {
			return err
		}
	}
	return nil
}
