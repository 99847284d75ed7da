package sqlengine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/segmentio/fasthash/fnv1a"
)

// ResultCache stores the encoded rows of named queries. Entries are grouped
// by table so a commit touching a table can drop them all.
//
// Every Invalidate moves the table to a new generation. Readers take the
// generation before querying and Set stores nothing once it has moved, so
// rows read before a commit are never cached after it.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context, table string) (uint64, error)
	Set(ctx context.Context, table string, generation uint64, key string, value []byte) error
	Invalidate(ctx context.Context, tables ...string) error
}

// cacheKey identifies the rows of query under a cache name
func cacheKey(name, table, query string, args []any) string {
	h := fnv1a.HashString64(query)
	for _, a := range args {
		h = fnv1a.AddString64(h, fmt.Sprintf("%T:%v", a, a))
	}
	return fmt.Sprintf("%s:%s:%016x", name, table, h)
}

// encodeRows stores each row as the JSON of its mapped columns, in column
// order, so json tags on the entity have no effect
func (m *mapping) encodeRows(rows []reflect.Value) ([]byte, error) {
	out := make([][]json.RawMessage, len(rows))
	for i, r := range rows {
		v := r.Elem()
		cols := make([]json.RawMessage, len(m.fields))
		for j, f := range m.fields {
			data, err := json.Marshal(v.Field(f).Interface())
			if err != nil {
				return nil, fmt.Errorf("failed to encode column %s: %w", m.columns[j], err)
			}
			cols[j] = data
		}
		out[i] = cols
	}
	return json.Marshal(out)
}

func (m *mapping) decodeRows(data []byte) ([]reflect.Value, error) {
	var encoded [][]json.RawMessage
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, err
	}
	rows := make([]reflect.Value, len(encoded))
	for i, cols := range encoded {
		if len(cols) != len(m.fields) {
			return nil, fmt.Errorf("cached row has %d columns, %s has %d", len(cols), m.tableName, len(m.fields))
		}
		row := reflect.New(m.typ)
		for j, f := range m.fields {
			if err := json.Unmarshal(cols[j], row.Elem().Field(f).Addr().Interface()); err != nil {
				return nil, fmt.Errorf("failed to decode column %s: %w", m.columns[j], err)
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// MapCache is a process local ResultCache
type MapCache struct {
	mu          sync.RWMutex
	entries     map[string][]byte
	byTable     map[string]map[string]struct{}
	generations map[string]uint64
}

// NewMapCache creates an empty cache
func NewMapCache() *MapCache {
	return &MapCache{
		entries:     make(map[string][]byte),
		byTable:     make(map[string]map[string]struct{}),
		generations: make(map[string]uint64),
	}
}

// Get implements ResultCache
func (c *MapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

// Generation implements ResultCache
func (c *MapCache) Generation(_ context.Context, table string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[table], nil
}

// Set implements ResultCache
func (c *MapCache) Set(_ context.Context, table string, generation uint64, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[table] != generation {
		return nil
	}
	c.entries[key] = value
	keys, ok := c.byTable[table]
	if !ok {
		keys = make(map[string]struct{})
		c.byTable[table] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Invalidate implements ResultCache
func (c *MapCache) Invalidate(_ context.Context, tables ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tables {
		c.generations[t]++
		for k := range c.byTable[t] {
			delete(c.entries, k)
		}
		delete(c.byTable, t)
	}
	return nil
}

// Len returns the number of cached entries
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
