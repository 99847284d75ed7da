package stillsuit

import (
	"context"
	"reflect"

	"github.com/stretchr/testify/mock"
)

type widget struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Table(t reflect.Type) (Collection, error) {
	args := m.Called(t)
	coll, _ := args.Get(0).(Collection)
	return coll, args.Error(1)
}

func (m *mockSession) SetLoadOptions(opts LoadOptions) {
	m.Called(opts)
}

func (m *mockSession) Insert(ctx context.Context, entity any) error {
	return m.Called(ctx, entity).Error(0)
}

func (m *mockSession) Delete(ctx context.Context, entity any) error {
	return m.Called(ctx, entity).Error(0)
}

func (m *mockSession) Attach(ctx context.Context, entity any) error {
	return m.Called(ctx, entity).Error(0)
}

func (m *mockSession) Refresh(ctx context.Context, mode RefreshMode, entity any) error {
	return m.Called(ctx, mode, entity).Error(0)
}

type mockDetachSession struct {
	mockSession
}

func (m *mockDetachSession) Detach(ctx context.Context, entity any) error {
	return m.Called(ctx, entity).Error(0)
}

type mockCommitSession struct {
	mockSession
}

func (m *mockCommitSession) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCommitSession) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCommitSession) Pending() ChangeSet {
	return m.Called().Get(0).(ChangeSet)
}

// sliceCollection filters nothing, it records the last filter it was given
type sliceCollection struct {
	items      []any
	lastFilter *Filter
	err        error
}

func (c *sliceCollection) Find(_ context.Context, f *Filter) ([]any, error) {
	c.lastFilter = f
	if c.err != nil {
		return nil, c.err
	}
	return c.items, nil
}

func (c *sliceCollection) Count(_ context.Context, f *Filter) (int64, error) {
	c.lastFilter = f
	return int64(len(c.items)), c.err
}

// sessionEngine opens sessions from a queue
type sessionEngine struct {
	sessions []Session
	opened   int
}

func (e *sessionEngine) Open(context.Context) (Session, error) {
	s := e.sessions[e.opened]
	e.opened++
	return s, nil
}

var widgetType = reflect.TypeOf(widget{})

// newWidgetSession returns a session whose widget collection holds items
func newWidgetSession(items ...*widget) (*mockSession, *sliceCollection) {
	coll := &sliceCollection{}
	for _, it := range items {
		coll.items = append(coll.items, it)
	}
	s := &mockSession{}
	s.On("SetLoadOptions", mock.Anything).Return()
	s.On("Table", widgetType).Return(coll, nil)
	return s, coll
}
