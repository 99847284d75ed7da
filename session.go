package stillsuit

import (
	"context"
	"reflect"
)

// RefreshMode tells a session how to merge reloaded values into a tracked entity
type RefreshMode int

const (
	// OverwriteCurrentValues replaces every field with the persisted value
	OverwriteCurrentValues RefreshMode = iota

	// KeepCurrentValues reloads only the fields that were not modified in memory
	KeepCurrentValues
)

func (m RefreshMode) String() string {
	switch m {
	case OverwriteCurrentValues:
		return "overwrite_current_values"
	case KeepCurrentValues:
		return "keep_current_values"
	default:
		return "unknown"
	}
}

// LoadOptions is the per-query configuration a repository pushes to its session.
// Paths must be honored. CacheName and BatchSize are hints and may be ignored.
type LoadOptions struct {
	Paths     []FetchPath
	CacheName string
	BatchSize int
}

// Session is the change-tracking context of a persistence engine.
// Entities are passed as pointers to structs.
type Session interface {
	// Table returns the tracked collection holding entities of the given struct type
	Table(entityType reflect.Type) (Collection, error)

	// SetLoadOptions replaces the configuration used by collections obtained afterwards
	SetLoadOptions(opts LoadOptions)

	// Insert marks a transient entity for insertion on commit
	Insert(ctx context.Context, entity any) error

	// Delete marks a tracked entity for removal on commit
	Delete(ctx context.Context, entity any) error

	// Attach starts tracking an entity that was loaded or detached elsewhere
	Attach(ctx context.Context, entity any) error

	// Refresh reloads a tracked entity from the store
	Refresh(ctx context.Context, mode RefreshMode, entity any) error
}

// Collection is the queryable view over one entity type within a session.
// Returned elements are pointers tracked by the session.
type Collection interface {
	Find(ctx context.Context, filter *Filter) ([]any, error)
	Count(ctx context.Context, filter *Filter) (int64, error)
}

// Detacher is implemented by sessions able to stop tracking a single entity
type Detacher interface {
	Detach(ctx context.Context, entity any) error
}

// Committer is implemented by sessions that persist their pending changes as a unit
type Committer interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ChangeSet counts pending transitions per entity name
type ChangeSet struct {
	Inserted map[string]int `json:"inserted,omitempty"`
	Updated  map[string]int `json:"updated,omitempty"`
	Deleted  map[string]int `json:"deleted,omitempty"`
}

// Empty reports whether nothing is pending
func (c ChangeSet) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Merge adds the counts of other into c
func (c *ChangeSet) Merge(other ChangeSet) {
	c.Inserted = mergeCounts(c.Inserted, other.Inserted)
	c.Updated = mergeCounts(c.Updated, other.Updated)
	c.Deleted = mergeCounts(c.Deleted, other.Deleted)
}

func mergeCounts(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// ChangeReporter is implemented by sessions able to describe their pending work
type ChangeReporter interface {
	Pending() ChangeSet
}

// Engine opens sessions against a store
type Engine interface {
	Open(ctx context.Context) (Session, error)
}

// Locator discovers sessions registered by the application, if any
type Locator interface {
	Sessions() []Session
}

// LocatorFunc adapts a function to Locator
type LocatorFunc func() []Session

func (f LocatorFunc) Sessions() []Session {
	return f()
}

// EntityName returns the bare struct name used in logs and change sets
func EntityName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
