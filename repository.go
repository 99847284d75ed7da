package stillsuit

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Repository is the operation surface application code uses for entities of type T.
// It holds no tracked state itself: reads and lifecycle transitions go to the
// resolved session and become durable when the owning unit of work commits.
//
// A repository is not safe for concurrent use, callers serialize access to a
// repository/session pair.
type Repository[T any] struct {
	entity    reflect.Type
	name      string
	resolver  *resolver
	fetch     fetchStore
	cacheName string
	batchSize int
	logger    QueryLogger
	hooks     *HookRegistry[T]
}

var _ Hookable[struct{}] = (*Repository[struct{}])(nil)

// New creates a repository bound to T for its whole lifetime.
// External session discovery (WithSession, WithLocator) happens here, once.
func New[T any](opts ...Option) *Repository[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	t := entityType[T]()
	logger := o.logger
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Repository[T]{
		entity:   t,
		name:     EntityName(t),
		resolver: newResolver(t, o.session, o.locator),
		logger:   logger,
		hooks:    NewHookRegistry[T](),
	}
}

// EntityName returns the name of T used in logs
func (r *Repository[T]) EntityName() string {
	return r.name
}

// SetLogger sets the query logger for this repository
func (r *Repository[T]) SetLogger(logger QueryLogger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	r.logger = logger
}

// GetLogger returns the current query logger
func (r *Repository[T]) GetLogger() QueryLogger {
	return r.logger
}

// AddHook registers a hook with the repository
func (r *Repository[T]) AddHook(hook Hook[T]) {
	r.hooks.AddHook(hook)
}

// RemoveAllHooks clears all hooks
func (r *Repository[T]) RemoveAllHooks() {
	r.hooks.RemoveAllHooks()
}

// Include declares relationships to eager-load on every later query through this
// repository. Declarations accumulate and are never deduplicated here.
func (r *Repository[T]) Include(paths ...FetchPath) error {
	return r.fetch.declare(paths)
}

// Paths returns the eager-load paths declared so far
func (r *Repository[T]) Paths() []FetchPath {
	return r.fetch.snapshot()
}

// Cached asks the engine to reuse query results under name.
// Engines without a query cache ignore it.
func (r *Repository[T]) Cached(name string) {
	r.cacheName = name
}

// SetBatchSize hints how many rows the engine should materialize per round trip.
// Zero or a negative value clears the hint. Engines may ignore it.
func (r *Repository[T]) SetBatchSize(n int) {
	if n < 0 {
		n = 0
	}
	r.batchSize = n
}

func (r *Repository[T]) loadOptions() LoadOptions {
	return LoadOptions{
		Paths:     r.fetch.snapshot(),
		CacheName: r.cacheName,
		BatchSize: r.batchSize,
	}
}

// Query resolves the session, pushes the current load options to it and returns
// the query surface for T. Pushing the options mutates the session configuration.
func (r *Repository[T]) Query(ctx context.Context) (q *Query[T], err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			logOperation(r.logger, ctx, "query", r.name, start, err)
		}
	}()

	s, err := r.resolver.resolve(ctx)
	if err != nil {
		return nil, err
	}
	s.SetLoadOptions(r.loadOptions())
	table, err := TableOf[T](s)
	if err != nil {
		return nil, err
	}
	return &Query[T]{repo: r, table: table, filter: &Filter{}}, nil
}

// Find is a shortcut for Query(ctx) followed by Filter(filter).All(ctx)
func (r *Repository[T]) Find(ctx context.Context, filter *Filter) ([]*T, error) {
	q, err := r.Query(ctx)
	if err != nil {
		return nil, err
	}
	return q.Filter(filter).All(ctx)
}

// Count is a shortcut for Query(ctx) followed by Filter(filter).Count(ctx)
func (r *Repository[T]) Count(ctx context.Context, filter *Filter) (int64, error) {
	q, err := r.Query(ctx)
	if err != nil {
		return 0, err
	}
	return q.Filter(filter).Count(ctx)
}

// Add marks a transient entity for insertion when the unit of work commits.
// Nothing is written immediately.
func (r *Repository[T]) Add(ctx context.Context, item *T) (err error) {
	if item == nil {
		return fmt.Errorf("%w: item cannot be nil", ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { logOperation(r.logger, ctx, "add", r.name, start, err) }()

	if err = r.hooks.beforeAdd(ctx, item); err != nil {
		return err
	}
	s, err := r.resolver.resolve(ctx)
	if err != nil {
		return err
	}
	if err = s.Insert(ctx, item); err != nil {
		return err
	}
	return r.hooks.afterAdd(ctx, item)
}

// Save is Add. There is no separate update tracking: the engine tells an insert
// from an update at commit time through the reference identity of entities it
// already tracks, so saving a loaded entity only keeps it tracked.
func (r *Repository[T]) Save(ctx context.Context, item *T) error {
	return r.Add(ctx, item)
}

// Delete marks a tracked entity for removal when the unit of work commits
func (r *Repository[T]) Delete(ctx context.Context, item *T) (err error) {
	if item == nil {
		return fmt.Errorf("%w: item cannot be nil", ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { logOperation(r.logger, ctx, "delete", r.name, start, err) }()

	if err = r.hooks.beforeDelete(ctx, item); err != nil {
		return err
	}
	s, err := r.resolver.resolve(ctx)
	if err != nil {
		return err
	}
	if err = s.Delete(ctx, item); err != nil {
		return err
	}
	return r.hooks.afterDelete(ctx, item)
}

// Attach starts tracking a previously detached entity under the current session
func (r *Repository[T]) Attach(ctx context.Context, item *T) (err error) {
	if item == nil {
		return fmt.Errorf("%w: item cannot be nil", ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { logOperation(r.logger, ctx, "attach", r.name, start, err) }()

	s, err := r.resolver.resolve(ctx)
	if err != nil {
		return err
	}
	return s.Attach(ctx, item)
}

// Detach stops tracking item without persisting its pending changes.
// Sessions that cannot detach a single entity yield ErrUnsupportedOperation
// and are left untouched.
func (r *Repository[T]) Detach(ctx context.Context, item *T) (err error) {
	if item == nil {
		return fmt.Errorf("%w: item cannot be nil", ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { logOperation(r.logger, ctx, "detach", r.name, start, err) }()

	s, err := r.resolver.resolve(ctx)
	if err != nil {
		return err
	}
	detacher, ok := s.(Detacher)
	if !ok {
		return ErrUnsupportedOperation
	}
	return detacher.Detach(ctx, item)
}

// Refresh reloads item from the store, overwriting in-memory changes.
// Pending add or delete marks on item are left as they are.
func (r *Repository[T]) Refresh(ctx context.Context, item *T) (err error) {
	if item == nil {
		return fmt.Errorf("%w: item cannot be nil", ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { logOperation(r.logger, ctx, "refresh", r.name, start, err) }()

	s, err := r.resolver.resolve(ctx)
	if err != nil {
		return err
	}
	return s.Refresh(ctx, OverwriteCurrentValues, item)
}
