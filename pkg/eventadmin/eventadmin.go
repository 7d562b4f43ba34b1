package eventadmin

import (
	"context"
	"sync"

	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

// EventAdmin is the local event admin that remote events are delivered to.
type EventAdmin interface {
	// PostEvent delivers asynchronously.
	PostEvent(e *Event) error

	// SendEvent returns once every matching handler has processed the event.
	SendEvent(ctx context.Context, e *Event) error
}

// Handler processes events on topics matching its patterns.
type Handler interface {
	HandleEvent(ctx context.Context, e *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e *Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, e *Event) error {
	return f(ctx, e)
}

// LocalEventAdmin is an in-process EventAdmin that dispatches to handlers
// registered for Event Admin topic patterns ("a/b", "a/*", "*").
type LocalEventAdmin struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

type registration struct {
	filters []string
	handler Handler
}

func NewLocalEventAdmin() *LocalEventAdmin {
	return &LocalEventAdmin{handlers: make(map[string]registration)}
}

// Register adds or replaces the handler with the given id.
func (a *LocalEventAdmin) Register(id string, patterns []string, h Handler) error {
	filters := make([]string, 0, len(patterns))
	for _, p := range patterns {
		f, err := topic.FromEventAdmin(p)
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[id] = registration{filters: filters, handler: h}
	return nil
}

func (a *LocalEventAdmin) Unregister(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handlers, id)
}

func (a *LocalEventAdmin) PostEvent(e *Event) error {
	return a.SendEvent(context.Background(), e)
}

// SendEvent calls every matching handler in turn and returns the first error.
// Each handler receives its own copy of e.
func (a *LocalEventAdmin) SendEvent(ctx context.Context, e *Event) error {
	matched := a.match(e.Topic)
	if len(matched) == 0 {
		return ErrNoHandler
	}

	var firstErr error
	for _, h := range matched {
		if err := h.HandleEvent(ctx, e.Copy()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *LocalEventAdmin) match(t string) []Handler {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []Handler
	for _, reg := range a.handlers {
		for _, f := range reg.filters {
			if topic.Match(f, t) {
				out = append(out, reg.handler)
				break
			}
		}
	}
	return out
}
