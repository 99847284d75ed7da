package stillsuit

import (
	"context"
	"fmt"
	"reflect"
)

// Table is the typed view over the collection a session keeps for T
type Table[T any] struct {
	coll Collection
}

// TableOf asks s for the collection of T. Nothing is cached, callers re-derive
// the table from a freshly resolved session on every access.
func TableOf[T any](s Session) (*Table[T], error) {
	if s == nil {
		return nil, ErrNoActiveSession
	}
	coll, err := s.Table(entityType[T]())
	if err != nil {
		return nil, err
	}
	return &Table[T]{coll: coll}, nil
}

// Find runs filter against the collection
func (t *Table[T]) Find(ctx context.Context, filter *Filter) ([]*T, error) {
	rows, err := t.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return castAll[T](rows)
}

// Count returns how many entities match filter
func (t *Table[T]) Count(ctx context.Context, filter *Filter) (int64, error) {
	return t.coll.Count(ctx, filter)
}

func castAll[T any](rows []any) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		item, ok := row.(*T)
		if !ok {
			return nil, fmt.Errorf("collection returned %T, expected %T", row, (*T)(nil))
		}
		out = append(out, item)
	}
	return out, nil
}

// entityType returns the struct type behind T
func entityType[T any]() reflect.Type {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
