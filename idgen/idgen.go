// Package idgen produces the identifiers used for units of work and entity keys.
// Generators can be swapped in tests to get deterministic ids.
package idgen

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu            sync.RWMutex
	ulidGenerator = defaultULID
	uuidGenerator = defaultUUID
)

// ulid.Make draws from a process wide monotonic entropy source, so ids
// minted within the same millisecond still sort in creation order
func defaultULID() string {
	return ulid.Make().String()
}

func defaultUUID() string {
	return uuid.NewString()
}

// NewULID returns a lexically sortable id, used for units of work
func NewULID() string {
	mu.RLock()
	defer mu.RUnlock()
	return ulidGenerator()
}

// UseULID replaces the ULID generator, nil restores the default
func UseULID(fn func() string) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		fn = defaultULID
	}
	ulidGenerator = fn
}

// NewUUID returns a random v4 UUID, used for entity keys
func NewUUID() string {
	mu.RLock()
	defer mu.RUnlock()
	return uuidGenerator()
}

// UseUUID replaces the UUID generator, nil restores the default
func UseUUID(fn func() string) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		fn = defaultUUID
	}
	uuidGenerator = fn
}

// Sequence returns a generator yielding prefix-1, prefix-2, ...
func Sequence(prefix string) func() string {
	var (
		seqMu sync.Mutex
		n     int
	)
	return func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
