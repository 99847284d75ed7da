// Package redisengine is a stillsuit engine over Redis. Entities are stored as
// JSON under "<prefix><Entity>:<id>". Queries scan the entity prefix and are
// evaluated in process. Sessions keep no identity map, so they cannot detach.
package redisengine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seb7887/gofw/stillsuit"
)

const (
	DefaultKeyPrefix = "stillsuit:"
	scanCount        = 500
)

type table struct {
	typ    reflect.Type
	name   string
	prefix string
	id     func(any) string
}

func (t *table) key(entity any) string {
	return t.prefix + t.id(entity)
}

// Engine stores entities in a Redis database
type Engine struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	mu     sync.RWMutex
	tables map[reflect.Type]*table
	logger stillsuit.QueryLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithTTL expires written entities after d, zero keeps them forever
func WithTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.ttl = d
	}
}

// WithKeyPrefix namespaces every key
func WithKeyPrefix(prefix string) Option {
	return func(e *Engine) {
		e.prefix = prefix
	}
}

// WithLogger reports every command through l
func WithLogger(l stillsuit.QueryLogger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine over client
func New(client redis.UniversalClient, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		prefix: DefaultKeyPrefix,
		tables: make(map[reflect.Type]*table),
		logger: stillsuit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register declares entity type T. keyFunc renders the id part of the key,
// nil formats the id with fmt.
func Register[T any, ID comparable](e *Engine, getID func(*T) ID, keyFunc func(ID) string) {
	if keyFunc == nil {
		keyFunc = func(id ID) string { return fmt.Sprint(id) }
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	name := stillsuit.EntityName(typ)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables[typ] = &table{
		typ:    typ,
		name:   name,
		prefix: e.prefix + name + ":",
		id:     func(v any) string { return keyFunc(getID(v.(*T))) },
	}
}

// Open starts a new session
func (e *Engine) Open(_ context.Context) (stillsuit.Session, error) {
	return newSession(e), nil
}

func (e *Engine) table(typ reflect.Type) (*table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stillsuit.ErrUnknownEntity, stillsuit.EntityName(typ))
	}
	return t, nil
}

func (e *Engine) tableOf(entity any) (*table, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: expected a non-nil pointer to a struct, got %T", stillsuit.ErrInvalidArgument, entity)
	}
	return e.table(v.Elem().Type())
}

// scan returns every key under the table prefix
func (e *Engine) scan(ctx context.Context, t *table) (keys []string, err error) {
	start := time.Now()
	pattern := t.prefix + "*"
	defer func() { stillsuit.LogQuery(e.logger, ctx, "scan", pattern, nil, start, err) }()

	iter := e.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// load reads the JSON documents stored under keys, skipping the ones that
// expired between the scan and the read
func (e *Engine) load(ctx context.Context, keys []string) (docs [][]byte, err error) {
	if len(keys) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { stillsuit.LogQuery(e.logger, ctx, "mget", "MGET", nil, start, err) }()

	for from := 0; from < len(keys); from += scanCount {
		to := min(from+scanCount, len(keys))
		vals, err := e.client.MGet(ctx, keys[from:to]...).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if s, ok := v.(string); ok {
				docs = append(docs, []byte(s))
			}
		}
	}
	return docs, nil
}
