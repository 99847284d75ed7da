package stillsuit

import (
	"context"
	"iter"
	"time"
)

// Query is the composable read view over T. Builder methods return a new query
// and leave the receiver unchanged; nothing runs until All, First, Count or Seq.
type Query[T any] struct {
	repo   *Repository[T]
	table  *Table[T]
	filter *Filter
}

func (q *Query[T]) with(fn func(f *Filter)) *Query[T] {
	f := q.filter.Clone()
	fn(f)
	return &Query[T]{repo: q.repo, table: q.table, filter: f}
}

// Where adds a condition AND-ed with the existing ones
func (q *Query[T]) Where(field string, op Operator, value any) *Query[T] {
	return q.with(func(f *Filter) {
		f.Conditions = append(f.Conditions, Condition{Field: field, Operator: op, Value: value})
	})
}

// And adds a parenthesized AND group
func (q *Query[T]) And(conds ...Condition) *Query[T] {
	return q.with(func(f *Filter) {
		f.Conditions = append(f.Conditions, Condition{LogicalOp: LogicalAND, Conditions: conds})
	})
}

// Or adds a parenthesized OR group
func (q *Query[T]) Or(conds ...Condition) *Query[T] {
	return q.with(func(f *Filter) {
		f.Conditions = append(f.Conditions, Condition{LogicalOp: LogicalOR, Conditions: conds})
	})
}

// Not adds a negated condition
func (q *Query[T]) Not(cond Condition) *Query[T] {
	return q.with(func(f *Filter) {
		f.Conditions = append(f.Conditions, Condition{LogicalOp: LogicalNOT, Conditions: []Condition{cond}})
	})
}

// Filter merges other into the query: conditions and sort fields are appended,
// a non-zero limit or offset replaces the current one
func (q *Query[T]) Filter(other *Filter) *Query[T] {
	if other == nil {
		return q
	}
	return q.with(func(f *Filter) {
		o := other.Clone()
		f.Conditions = append(f.Conditions, o.Conditions...)
		f.Sort = append(f.Sort, o.Sort...)
		if o.Limit != 0 {
			f.Limit = o.Limit
		}
		if o.Offset != 0 {
			f.Offset = o.Offset
		}
	})
}

func (q *Query[T]) OrderBy(field string, dir SortDirection) *Query[T] {
	return q.with(func(f *Filter) {
		f.Sort = append(f.Sort, SortField{Field: field, Direction: dir})
	})
}

func (q *Query[T]) Limit(n int) *Query[T] {
	return q.with(func(f *Filter) { f.Limit = n })
}

func (q *Query[T]) Offset(n int) *Query[T] {
	return q.with(func(f *Filter) { f.Offset = n })
}

// Criteria returns a copy of the filter the query will run
func (q *Query[T]) Criteria() *Filter {
	return q.filter.Clone()
}

// All evaluates the query
func (q *Query[T]) All(ctx context.Context) (items []*T, err error) {
	start := time.Now()
	defer func() { logOperation(q.repo.logger, ctx, "find", q.repo.name, start, err) }()

	f := q.filter.Clone()
	if err = f.Validate(); err != nil {
		return nil, err
	}
	if err = q.repo.hooks.beforeQuery(ctx, f); err != nil {
		return nil, err
	}
	items, err = q.table.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if err = q.repo.hooks.afterQuery(ctx, items); err != nil {
		return items, err
	}
	return items, nil
}

// First returns the first match or ErrItemNotFound
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	items, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrItemNotFound
	}
	return items[0], nil
}

// Count returns the number of matches, ignoring sort, limit and offset
func (q *Query[T]) Count(ctx context.Context) (n int64, err error) {
	start := time.Now()
	defer func() { logOperation(q.repo.logger, ctx, "count", q.repo.name, start, err) }()

	f := &Filter{Conditions: cloneConditions(q.filter.Conditions)}
	if err = f.Validate(); err != nil {
		return 0, err
	}
	return q.table.Count(ctx, f)
}

// Seq evaluates the query and yields its results. An evaluation error is
// yielded once with a nil item.
func (q *Query[T]) Seq(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		items, err := q.All(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
