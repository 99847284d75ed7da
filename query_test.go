package stillsuit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_IsImmutable(t *testing.T) {
	s, _ := newWidgetSession()
	q, err := New[widget](WithSession(s)).Query(context.Background())
	require.NoError(t, err)

	open := q.Where("name", OpEqual, "gear")
	sorted := open.OrderBy("id", SortDesc).Limit(5)

	assert.Empty(t, q.Criteria().Conditions)
	assert.Len(t, open.Criteria().Conditions, 1)
	assert.Empty(t, open.Criteria().Sort)
	assert.Equal(t, 5, sorted.Criteria().Limit)
	assert.Equal(t, 0, open.Criteria().Limit)
}

func TestQuery_FilterMerge(t *testing.T) {
	s, _ := newWidgetSession()
	q, err := New[widget](WithSession(s)).Query(context.Background())
	require.NoError(t, err)

	merged := q.Where("id", OpGreaterThan, 1).Limit(10).
		Filter(NewFilter().Where("name", OpLike, "g%").OrderBy("id", SortAsc).Offset(3).Build())

	criteria := merged.Criteria()
	assert.Len(t, criteria.Conditions, 2)
	assert.Len(t, criteria.Sort, 1)
	assert.Equal(t, 10, criteria.Limit)
	assert.Equal(t, 3, criteria.Offset)
	assert.Same(t, merged, merged.Filter(nil))
}

func TestQuery_Terminals(t *testing.T) {
	ctx := context.Background()
	gear := &widget{ID: 1, Name: "gear"}
	cog := &widget{ID: 2, Name: "cog"}

	t.Run("all passes the built filter", func(t *testing.T) {
		s, coll := newWidgetSession(gear, cog)
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		items, err := q.Where("id", OpIn, []int{1, 2}).OrderBy("id", SortAsc).All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []*widget{gear, cog}, items)
		require.Len(t, coll.lastFilter.Conditions, 1)
		assert.Equal(t, OpIn, coll.lastFilter.Conditions[0].Operator)
	})

	t.Run("invalid filter never reaches the collection", func(t *testing.T) {
		s, coll := newWidgetSession(gear)
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		_, err = q.Where("id", OpBetween, 1).All(ctx)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Nil(t, coll.lastFilter)
	})

	t.Run("first", func(t *testing.T) {
		s, coll := newWidgetSession(gear, cog)
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		item, err := q.First(ctx)
		require.NoError(t, err)
		assert.Same(t, gear, item)
		assert.Equal(t, 1, coll.lastFilter.Limit)
	})

	t.Run("first on an empty result", func(t *testing.T) {
		s, _ := newWidgetSession()
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		_, err = q.First(ctx)
		assert.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("count ignores paging and sorting", func(t *testing.T) {
		s, coll := newWidgetSession(gear, cog)
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		n, err := q.Where("id", OpGreaterThan, 0).OrderBy("id", SortAsc).Limit(1).Offset(1).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Len(t, coll.lastFilter.Conditions, 1)
		assert.Empty(t, coll.lastFilter.Sort)
		assert.Zero(t, coll.lastFilter.Limit)
		assert.Zero(t, coll.lastFilter.Offset)
	})

	t.Run("seq", func(t *testing.T) {
		s, _ := newWidgetSession(gear, cog)
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		var names []string
		for item, err := range q.Seq(ctx) {
			require.NoError(t, err)
			names = append(names, item.Name)
			break
		}
		assert.Equal(t, []string{"gear"}, names)
	})

	t.Run("seq yields the evaluation error", func(t *testing.T) {
		s, coll := newWidgetSession()
		coll.err = errors.New("connection reset")
		q, err := New[widget](WithSession(s)).Query(ctx)
		require.NoError(t, err)

		var errs []error
		for item, err := range q.Seq(ctx) {
			assert.Nil(t, item)
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.Same(t, coll.err, errs[0])
	})
}

func TestTableOf(t *testing.T) {
	_, err := TableOf[widget](nil)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	s := &mockSession{}
	s.On("Table", widgetType).Return(&sliceCollection{items: []any{"not a widget"}}, nil)
	table, err := TableOf[widget](s)
	require.NoError(t, err)
	_, err = table.Find(context.Background(), nil)
	assert.Error(t, err)
}
