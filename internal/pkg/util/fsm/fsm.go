package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a callback that returns an error into an fsm.Callback.
// A non-nil error is stored on the event and cancels the transition when used
// as a before_ callback.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Cancel(err)
		}
	}
}

// Fire triggers event and treats a no-op transition as success.
func Fire(ctx context.Context, f *fsm.FSM, event string, args ...any) error {
	err := f.Event(ctx, event, args...)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
