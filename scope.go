package stillsuit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/seb7887/gofw/stillsuit/idgen"
)

// CommitTopic is the topic commit events are published on
const CommitTopic = "stillsuit.commit"

// CommitEvent describes a successfully committed unit of work
type CommitEvent struct {
	UnitOfWork  string    `json:"unit_of_work"`
	Changes     ChangeSet `json:"changes"`
	CommittedAt time.Time `json:"committed_at"`
}

// Publisher receives commit events. eventbus.Bus satisfies it.
type Publisher interface {
	Publish(topic string, msg any) error
}

// Registry binds entity types to the engine that stores them.
// It is safe for concurrent use, the units of work it feeds are not.
type Registry struct {
	mu       sync.RWMutex
	engines  map[reflect.Type]Engine
	fallback Engine
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{engines: make(map[reflect.Type]Engine)}
}

// Register binds entity type T to engine e
func Register[T any](r *Registry, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[entityType[T]()] = e
}

// SetDefault sets the engine used for types without an explicit binding
func (r *Registry) SetDefault(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// EngineFor returns the engine bound to t
func (r *Registry) EngineFor(t reflect.Type) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.engines[t]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, EntityName(t))
}

type scopeKey struct{}

type openSession struct {
	engine  Engine
	session Session
}

// UnitOfWork is an ambient scope grouping the sessions opened while it is
// active. Sessions are opened lazily, one per engine, and committed together.
// Engines must be comparable values (pointers in practice).
type UnitOfWork struct {
	id        string
	registry  *Registry
	parent    *UnitOfWork
	sessions  []openSession
	done      bool
	publisher Publisher
	logger    QueryLogger
}

// ScopeOption configures a unit of work
type ScopeOption func(*UnitOfWork)

// WithPublisher publishes a CommitEvent after every successful commit
func WithPublisher(p Publisher) ScopeOption {
	return func(u *UnitOfWork) {
		u.publisher = p
	}
}

// WithScopeLogger reports commit and rollback through l
func WithScopeLogger(l QueryLogger) ScopeOption {
	return func(u *UnitOfWork) {
		u.logger = l
	}
}

// Begin pushes a new unit of work onto ctx. Dropping the returned context pops it.
// A unit of work begun inside another one gets its own sessions.
func Begin(ctx context.Context, reg *Registry, opts ...ScopeOption) (context.Context, *UnitOfWork) {
	u := &UnitOfWork{
		id:       idgen.NewULID(),
		registry: reg,
	}
	if parent, ok := Current(ctx); ok {
		u.parent = parent
		u.publisher = parent.publisher
		u.logger = parent.logger
	}
	for _, opt := range opts {
		opt(u)
	}
	return context.WithValue(ctx, scopeKey{}, u), u
}

// Current returns the innermost unit of work carried by ctx
func Current(ctx context.Context) (*UnitOfWork, bool) {
	if ctx == nil {
		return nil, false
	}
	u, ok := ctx.Value(scopeKey{}).(*UnitOfWork)
	return u, ok && u != nil
}

// ID identifies the unit of work in logs and events
func (u *UnitOfWork) ID() string {
	return u.id
}

// Parent returns the enclosing unit of work, nil at the top level
func (u *UnitOfWork) Parent() *UnitOfWork {
	return u.parent
}

// Done reports whether Commit or Rollback already ran
func (u *UnitOfWork) Done() bool {
	return u.done
}

// SessionFor returns the session holding entities of type t, opening it on first use
func (u *UnitOfWork) SessionFor(ctx context.Context, t reflect.Type) (Session, error) {
	if u.done {
		return nil, ErrScopeClosed
	}
	if u.registry == nil {
		return nil, fmt.Errorf("%w: unit of work %s has no registry", ErrNoActiveSession, u.id)
	}
	engine, err := u.registry.EngineFor(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoActiveSession, err)
	}
	for _, open := range u.sessions {
		if open.engine == engine {
			return open.session, nil
		}
	}

	session, err := engine.Open(ctx)
	if err != nil {
		return nil, err
	}
	u.sessions = append(u.sessions, openSession{engine: engine, session: session})
	return session, nil
}

// Pending aggregates the pending changes of every session that can report them
func (u *UnitOfWork) Pending() ChangeSet {
	var changes ChangeSet
	for _, open := range u.sessions {
		if reporter, ok := open.session.(ChangeReporter); ok {
			changes.Merge(reporter.Pending())
		}
	}
	return changes
}

// Commit persists every open session in the order they were opened.
// When one fails the remaining ones are rolled back and its error is returned.
func (u *UnitOfWork) Commit(ctx context.Context) (err error) {
	if u.done {
		return ErrScopeClosed
	}
	start := time.Now()
	defer func() { logOperation(u.logger, ctx, "commit", u.id, start, err) }()

	changes := u.Pending()
	u.done = true
	for i, open := range u.sessions {
		committer, ok := open.session.(Committer)
		if !ok {
			continue
		}
		if err = committer.Commit(ctx); err != nil {
			u.rollbackFrom(ctx, i+1)
			return err
		}
	}

	if u.publisher != nil && !changes.Empty() {
		event := CommitEvent{UnitOfWork: u.id, Changes: changes, CommittedAt: time.Now().UTC()}
		pubStart := time.Now()
		pubErr := u.publisher.Publish(CommitTopic, event)
		logOperation(u.logger, ctx, "publish", u.id, pubStart, pubErr)
	}
	return nil
}

// Rollback discards the pending changes of every open session
func (u *UnitOfWork) Rollback(ctx context.Context) (err error) {
	if u.done {
		return ErrScopeClosed
	}
	start := time.Now()
	defer func() { logOperation(u.logger, ctx, "rollback", u.id, start, err) }()

	u.done = true
	return u.rollbackFrom(ctx, 0)
}

func (u *UnitOfWork) rollbackFrom(ctx context.Context, from int) error {
	var errs []error
	for _, open := range u.sessions[from:] {
		if committer, ok := open.session.(Committer); ok {
			if err := committer.Rollback(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WithUnitOfWork executes fn within a new unit of work.
// If fn returns an error, the unit of work is rolled back.
// If fn returns nil, it is committed.
// If fn panics, the unit of work is rolled back and the panic is re-raised.
func WithUnitOfWork(ctx context.Context, reg *Registry, fn func(ctx context.Context) error, opts ...ScopeOption) error {
	scopeCtx, uow := Begin(ctx, reg, opts...)

	defer func() {
		if p := recover(); p != nil {
			if !uow.Done() {
				_ = uow.Rollback(ctx)
			}
			panic(p)
		}
	}()

	if err := fn(scopeCtx); err != nil {
		if rbErr := uow.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrScopeClosed) {
			return fmt.Errorf("unit of work error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	if uow.Done() {
		return nil
	}
	return uow.Commit(scopeCtx)
}
