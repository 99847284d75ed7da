package memory

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
	load   func(ctx context.Context, s *Session, owners []any) ([]any, error)
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
// whose childKey equals the parent's parentKey are passed to assign.
func HasMany[P, C any, K comparable](e *Engine, name string, parentKey func(*P) K, childKey func(*C) K, assign func(*P, []*C)) {
	ptyp := reflect.TypeOf((*P)(nil)).Elem()
	ctyp := reflect.TypeOf((*C)(nil)).Elem()
	e.addRelation(ptyp, &relation{
		name:   name,
		target: ctyp,
		load: func(ctx context.Context, s *Session, owners []any) ([]any, error) {
			m, err := e.table(ctyp)
			if err != nil {
				return nil, err
			}
			wanted := make(map[K]bool, len(owners))
			for _, o := range owners {
				wanted[parentKey(o.(*P))] = true
			}
			var rows []any
			for _, row := range e.snapshot(m) {
				if wanted[childKey(row.(*C))] {
					rows = append(rows, row)
				}
			}
			children := s.materialize(m, rows)
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

// BelongsTo declares the many-to-one relationship name from C to P. The parent
// whose pk equals the child's fk is passed to assign, or nil when missing.
func BelongsTo[C, P any, K comparable](e *Engine, name string, fk func(*C) K, pk func(*P) K, assign func(*C, *P)) {
	ctyp := reflect.TypeOf((*C)(nil)).Elem()
	ptyp := reflect.TypeOf((*P)(nil)).Elem()
	e.addRelation(ctyp, &relation{
		name:   name,
		target: ptyp,
		load: func(ctx context.Context, s *Session, owners []any) ([]any, error) {
			m, err := e.table(ptyp)
			if err != nil {
				return nil, err
			}
			wanted := make(map[K]bool, len(owners))
			for _, o := range owners {
				wanted[fk(o.(*C))] = true
			}
			var rows []any
			for _, row := range e.snapshot(m) {
				if wanted[pk(row.(*P))] {
					rows = append(rows, row)
				}
			}
			parents := s.materialize(m, rows)
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

func (s *Session) loadPaths(ctx context.Context, owner reflect.Type, owners []any, paths []stillsuit.FetchPath) error {
	if len(paths) == 0 {
		return nil
	}
	heads, nested := stillsuit.SplitPaths(paths)
	for _, head := range heads {
		rel, ok := s.engine.relation(owner, head)
		if !ok {
			return fmt.Errorf("%w: %s has no relationship %q", stillsuit.ErrUnknownPath, stillsuit.EntityName(owner), head)
		}
		related, err := rel.load(ctx, s, owners)
		if err != nil {
			return err
		}
		if err := s.loadPaths(ctx, rel.target, related, nested[head]); err != nil {
			return err
		}
	}
	return nil
}
