package stillsuit

import (
	"context"
	"fmt"
	"reflect"
)

// resolver finds the session a repository works against.
// An external session found at construction wins for the repository's lifetime,
// otherwise the ambient unit of work is asked again on every call.
type resolver struct {
	entity   reflect.Type
	external Session
}

func newResolver(entity reflect.Type, explicit Session, locator Locator) *resolver {
	r := &resolver{entity: entity, external: explicit}
	if r.external != nil || locator == nil {
		return r
	}
	for _, s := range locator.Sessions() {
		if s != nil {
			r.external = s
			break
		}
	}
	return r
}

func (r *resolver) resolve(ctx context.Context) (Session, error) {
	if r.external != nil {
		return r.external, nil
	}
	uow, ok := Current(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no unit of work in context for %s", ErrNoActiveSession, EntityName(r.entity))
	}
	return uow.SessionFor(ctx, r.entity)
}
