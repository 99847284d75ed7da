package stillsuit

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type gadget struct {
	ID int `db:"id"`
}

var gadgetType = reflect.TypeOf(gadget{})

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []CommitEvent
	err    error
}

func (p *recordingPublisher) Publish(topic string, msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, msg.(CommitEvent))
	return p.err
}

func newCommitSession(pending ChangeSet) *mockCommitSession {
	s := &mockCommitSession{}
	s.On("Pending").Return(pending)
	return s
}

func TestBegin_Nesting(t *testing.T) {
	ctx := context.Background()
	_, ok := Current(ctx)
	assert.False(t, ok)

	reg := NewRegistry()
	outerCtx, outer := Begin(ctx, reg)
	innerCtx, inner := Begin(outerCtx, reg)

	got, ok := Current(innerCtx)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.Same(t, outer, inner.Parent())
	assert.NotEqual(t, outer.ID(), inner.ID())

	// popping is returning to the parent context
	got, _ = Current(outerCtx)
	assert.Same(t, outer, got)
	assert.Nil(t, outer.Parent())
}

func TestUnitOfWork_SessionFor(t *testing.T) {
	ctx := context.Background()
	s1 := newCommitSession(ChangeSet{})
	s2 := newCommitSession(ChangeSet{})
	shared := &sessionEngine{sessions: []Session{s1, s2}}

	reg := NewRegistry()
	Register[widget](reg, shared)
	Register[gadget](reg, shared)

	scopeCtx, uow := Begin(ctx, reg)
	a, err := uow.SessionFor(scopeCtx, widgetType)
	require.NoError(t, err)
	b, err := uow.SessionFor(scopeCtx, gadgetType)
	require.NoError(t, err)
	assert.Same(t, a, b, "one session per engine")
	assert.Equal(t, 1, shared.opened)

	// a nested unit of work opens its own session
	_, nested := Begin(scopeCtx, reg)
	c, err := nested.SessionFor(scopeCtx, widgetType)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	_, err = uow.SessionFor(scopeCtx, reflect.TypeOf(struct{ X int }{}))
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestUnitOfWork_Commit(t *testing.T) {
	ctx := context.Background()
	s1 := newCommitSession(ChangeSet{Inserted: map[string]int{"widget": 1}})
	s1.On("Commit", mock.Anything).Return(nil).Once()
	s2 := newCommitSession(ChangeSet{Deleted: map[string]int{"gadget": 2}})
	s2.On("Commit", mock.Anything).Return(nil).Once()

	reg := NewRegistry()
	Register[widget](reg, &sessionEngine{sessions: []Session{s1}})
	Register[gadget](reg, &sessionEngine{sessions: []Session{s2}})
	pub := &recordingPublisher{}

	scopeCtx, uow := Begin(ctx, reg, WithPublisher(pub))
	_, _ = uow.SessionFor(scopeCtx, widgetType)
	_, _ = uow.SessionFor(scopeCtx, gadgetType)

	pending := uow.Pending()
	assert.Equal(t, 1, pending.Inserted["widget"])
	assert.Equal(t, 2, pending.Deleted["gadget"])

	require.NoError(t, uow.Commit(scopeCtx))
	assert.True(t, uow.Done())
	s1.AssertExpectations(t)
	s2.AssertExpectations(t)

	require.Len(t, pub.events, 1)
	assert.Equal(t, CommitTopic, pub.topics[0])
	assert.Equal(t, uow.ID(), pub.events[0].UnitOfWork)
	assert.Equal(t, pending, pub.events[0].Changes)

	assert.ErrorIs(t, uow.Commit(scopeCtx), ErrScopeClosed)
	assert.ErrorIs(t, uow.Rollback(scopeCtx), ErrScopeClosed)
	_, err := uow.SessionFor(scopeCtx, widgetType)
	assert.ErrorIs(t, err, ErrScopeClosed)
}

func TestUnitOfWork_CommitFailureRollsBackTheRest(t *testing.T) {
	ctx := context.Background()
	commitErr := errors.New("serialization failure")
	s1 := newCommitSession(ChangeSet{})
	s1.On("Commit", mock.Anything).Return(commitErr).Once()
	s2 := newCommitSession(ChangeSet{})
	s2.On("Rollback", mock.Anything).Return(nil).Once()

	reg := NewRegistry()
	Register[widget](reg, &sessionEngine{sessions: []Session{s1}})
	Register[gadget](reg, &sessionEngine{sessions: []Session{s2}})
	pub := &recordingPublisher{}

	scopeCtx, uow := Begin(ctx, reg, WithPublisher(pub))
	_, _ = uow.SessionFor(scopeCtx, widgetType)
	_, _ = uow.SessionFor(scopeCtx, gadgetType)

	assert.Same(t, commitErr, uow.Commit(scopeCtx))
	s1.AssertExpectations(t)
	s2.AssertExpectations(t)
	s2.AssertNotCalled(t, "Commit", mock.Anything)
	assert.Empty(t, pub.events)
}

func TestUnitOfWork_NoEventWithoutChanges(t *testing.T) {
	ctx := context.Background()
	s := newCommitSession(ChangeSet{})
	s.On("Commit", mock.Anything).Return(nil)
	reg := NewRegistry()
	reg.SetDefault(&sessionEngine{sessions: []Session{s}})
	pub := &recordingPublisher{}

	scopeCtx, uow := Begin(ctx, reg, WithPublisher(pub))
	_, err := uow.SessionFor(scopeCtx, widgetType)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(scopeCtx))
	assert.Empty(t, pub.events)
}

func TestUnitOfWork_PublishErrorDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	s := newCommitSession(ChangeSet{Updated: map[string]int{"widget": 1}})
	s.On("Commit", mock.Anything).Return(nil)
	reg := NewRegistry()
	reg.SetDefault(&sessionEngine{sessions: []Session{s}})
	pub := &recordingPublisher{err: errors.New("broker down")}

	scopeCtx, uow := Begin(ctx, reg, WithPublisher(pub))
	_, _ = uow.SessionFor(scopeCtx, widgetType)
	assert.NoError(t, uow.Commit(scopeCtx))
	assert.Len(t, pub.events, 1)
}

func TestWithUnitOfWork(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		s := newCommitSession(ChangeSet{})
		s.On("Commit", mock.Anything).Return(nil).Once()
		reg := NewRegistry()
		reg.SetDefault(&sessionEngine{sessions: []Session{s}})

		err := WithUnitOfWork(ctx, reg, func(ctx context.Context) error {
			uow, ok := Current(ctx)
			require.True(t, ok)
			_, err := uow.SessionFor(ctx, widgetType)
			return err
		})
		require.NoError(t, err)
		s.AssertExpectations(t)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s := newCommitSession(ChangeSet{})
		s.On("Rollback", mock.Anything).Return(nil).Once()
		reg := NewRegistry()
		reg.SetDefault(&sessionEngine{sessions: []Session{s}})
		fnErr := errors.New("validation failed")

		err := WithUnitOfWork(ctx, reg, func(ctx context.Context) error {
			uow, _ := Current(ctx)
			_, _ = uow.SessionFor(ctx, widgetType)
			return fnErr
		})
		assert.Same(t, fnErr, err)
		s.AssertExpectations(t)
		s.AssertNotCalled(t, "Commit", mock.Anything)
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		s := newCommitSession(ChangeSet{})
		s.On("Rollback", mock.Anything).Return(nil).Once()
		reg := NewRegistry()
		reg.SetDefault(&sessionEngine{sessions: []Session{s}})

		assert.PanicsWithValue(t, "boom", func() {
			_ = WithUnitOfWork(ctx, reg, func(ctx context.Context) error {
				uow, _ := Current(ctx)
				_, _ = uow.SessionFor(ctx, widgetType)
				panic("boom")
			})
		})
		s.AssertExpectations(t)
	})

	t.Run("fn may finish the unit of work itself", func(t *testing.T) {
		reg := NewRegistry()
		err := WithUnitOfWork(ctx, reg, func(ctx context.Context) error {
			uow, _ := Current(ctx)
			return uow.Rollback(ctx)
		})
		assert.NoError(t, err)
	})
}

func TestRegistry_EngineFor(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.EngineFor(widgetType)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	bound := &sessionEngine{}
	fallback := &sessionEngine{}
	Register[widget](reg, bound)
	reg.SetDefault(fallback)

	e, err := reg.EngineFor(widgetType)
	require.NoError(t, err)
	assert.Same(t, bound, e)
	e, err = reg.EngineFor(gadgetType)
	require.NoError(t, err)
	assert.Same(t, fallback, e)
}
