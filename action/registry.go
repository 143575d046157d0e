package action

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes one action type. Handlers must be retry-safe: the
// dispatcher may invoke them more than once for the same logical action.
type Handler func(ctx context.Context, inv *Invocation) (map[string]any, error)

type ErrInvalidHandler struct {
	msg string
}

func (e *ErrInvalidHandler) Error() string {
	return e.msg
}

type ErrHandlerAlreadyRegistered struct {
	msg string
}

func (e *ErrHandlerAlreadyRegistered) Error() string {
	return e.msg
}

// Registry maps action types to handlers. Templates are validated against it
// at publish time, so every action type a published template references is
// guaranteed to resolve at transition time.
type Registry struct {
	sync.Mutex

	handlerMap map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlerMap: make(map[string]Handler),
	}
}

func (r *Registry) RegisterHandler(actionType string, handler Handler) error {
	if actionType == "" {
		return &ErrInvalidHandler{"action type must not be empty"}
	}
	if handler == nil {
		return &ErrInvalidHandler{fmt.Sprintf("handler for %q is nil", actionType)}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.handlerMap[actionType]; ok {
		return &ErrHandlerAlreadyRegistered{fmt.Sprintf("handler for action type %q already registered", actionType)}
	}
	r.handlerMap[actionType] = handler

	return nil
}

func (r *Registry) GetHandler(actionType string) (Handler, error) {
	r.Lock()
	defer r.Unlock()

	if handler, ok := r.handlerMap[actionType]; ok {
		return handler, nil
	}

	return nil, fmt.Errorf("handler for action type %q not found", actionType)
}

// HasHandler reports whether a handler is registered for the given type.
func (r *Registry) HasHandler(actionType string) bool {
	r.Lock()
	defer r.Unlock()

	_, ok := r.handlerMap[actionType]
	return ok
}
