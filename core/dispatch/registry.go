package dispatch

import (
	"fmt"

	"melodex/core/records"
	"melodex/core/types"
)

// Handler is the validate/apply strategy for one (kind, action) pair.
// Validate is a pure check against the event context: it must not mutate the
// pool. Apply constructs the new record version, emitting side effects on
// real state changes; returning a nil record signals an idempotent no-op.
type Handler interface {
	Validate(ctx *Context) error
	Apply(ctx *Context) (records.Record, error)
}

type handlerKey struct {
	kind   types.EntityKind
	action types.Action
}

// Registry maps (entity kind, action) pairs to handlers. Built once at
// startup and read-only afterwards.
type Registry struct {
	handlers map[handlerKey]Handler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[handlerKey]Handler)}
}

// Register installs a handler. Registering the same pair twice is a wiring
// defect and panics at startup.
func (r *Registry) Register(kind types.EntityKind, action types.Action, h Handler) {
	if !kind.Valid() {
		panic(fmt.Sprintf("dispatch: register unknown kind %q", kind))
	}
	if !action.Valid() {
		panic(fmt.Sprintf("dispatch: register unknown action %q", action))
	}
	k := handlerKey{kind: kind, action: action}
	if _, dup := r.handlers[k]; dup {
		panic(fmt.Sprintf("dispatch: duplicate handler for %s/%s", kind, action))
	}
	r.handlers[k] = h
}

// Handler returns the strategy for a pair, if one is registered.
func (r *Registry) Handler(kind types.EntityKind, action types.Action) (Handler, bool) {
	h, ok := r.handlers[handlerKey{kind: kind, action: action}]
	return h, ok
}
