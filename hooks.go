package stillsuit

import "context"

// Hook defines lifecycle callbacks for repository operations
// Implementations can intercept and react to repository events
type Hook[T any] interface {
	// BeforeAdd is called before an entity is handed to the session for insertion
	// Return error to abort the operation
	BeforeAdd(ctx context.Context, item *T) error

	// AfterAdd is called after the session accepted the entity
	// Errors are reported but don't undo the tracking transition
	AfterAdd(ctx context.Context, item *T) error

	// BeforeDelete is called before an entity is marked for removal
	// Return error to abort the operation
	BeforeDelete(ctx context.Context, item *T) error

	// AfterDelete is called after the entity was marked for removal
	AfterDelete(ctx context.Context, item *T) error

	// BeforeQuery is called before executing a query
	// Can modify the filter before execution
	BeforeQuery(ctx context.Context, filter *Filter) error

	// AfterQuery is called after successfully executing a query
	AfterQuery(ctx context.Context, results []*T) error
}

// BaseHook provides a default implementation of Hook interface
// Embed this in custom hooks to only implement needed methods
type BaseHook[T any] struct{}

func (h *BaseHook[T]) BeforeAdd(ctx context.Context, item *T) error         { return nil }
func (h *BaseHook[T]) AfterAdd(ctx context.Context, item *T) error          { return nil }
func (h *BaseHook[T]) BeforeDelete(ctx context.Context, item *T) error      { return nil }
func (h *BaseHook[T]) AfterDelete(ctx context.Context, item *T) error       { return nil }
func (h *BaseHook[T]) BeforeQuery(ctx context.Context, filter *Filter) error { return nil }
func (h *BaseHook[T]) AfterQuery(ctx context.Context, results []*T) error   { return nil }

// HookRegistry manages a collection of hooks
type HookRegistry[T any] struct {
	hooks []Hook[T]
}

// NewHookRegistry creates a new hook registry
func NewHookRegistry[T any]() *HookRegistry[T] {
	return &HookRegistry[T]{}
}

// AddHook registers a new hook
func (r *HookRegistry[T]) AddHook(hook Hook[T]) {
	r.hooks = append(r.hooks, hook)
}

// RemoveAllHooks clears all registered hooks
func (r *HookRegistry[T]) RemoveAllHooks() {
	r.hooks = nil
}

// Len returns the number of registered hooks
func (r *HookRegistry[T]) Len() int {
	return len(r.hooks)
}

func (r *HookRegistry[T]) beforeAdd(ctx context.Context, item *T) error {
	for _, hook := range r.hooks {
		if err := hook.BeforeAdd(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// after hooks all run, the first error is returned
func (r *HookRegistry[T]) afterAdd(ctx context.Context, item *T) error {
	var firstErr error
	for _, hook := range r.hooks {
		if err := hook.AfterAdd(ctx, item); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *HookRegistry[T]) beforeDelete(ctx context.Context, item *T) error {
	for _, hook := range r.hooks {
		if err := hook.BeforeDelete(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *HookRegistry[T]) afterDelete(ctx context.Context, item *T) error {
	var firstErr error
	for _, hook := range r.hooks {
		if err := hook.AfterDelete(ctx, item); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *HookRegistry[T]) beforeQuery(ctx context.Context, filter *Filter) error {
	for _, hook := range r.hooks {
		if err := hook.BeforeQuery(ctx, filter); err != nil {
			return err
		}
	}
	return nil
}

func (r *HookRegistry[T]) afterQuery(ctx context.Context, results []*T) error {
	var firstErr error
	for _, hook := range r.hooks {
		if err := hook.AfterQuery(ctx, results); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Hookable is implemented by repositories accepting hooks
type Hookable[T any] interface {
	// AddHook registers a hook with the repository
	AddHook(hook Hook[T])

	// RemoveAllHooks clears all hooks
	RemoveAllHooks()
}
