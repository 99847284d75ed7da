package idgen

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_IsSortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewULID()
		_, err := ulid.ParseStrict(ids[i])
		require.NoError(t, err)
	}
	assert.True(t, sort.StringsAreSorted(ids), "ulids minted in sequence must sort in sequence")
}

func TestNewUUID(t *testing.T) {
	id, err := uuid.Parse(NewUUID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
}

func TestUseGenerators(t *testing.T) {
	UseULID(Sequence("uow"))
	UseUUID(Sequence("order"))
	defer UseULID(nil)
	defer UseUUID(nil)

	assert.Equal(t, "uow-1", NewULID())
	assert.Equal(t, "uow-2", NewULID())
	assert.Equal(t, "order-1", NewUUID())

	UseULID(nil)
	_, err := ulid.ParseStrict(NewULID())
	assert.NoError(t, err)
}
