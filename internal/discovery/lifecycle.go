package discovery

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/earpm/internal/pkg/util/fsm"
)

const (
	StateCreated   = "created"
	StateRunning   = "running"
	StateDestroyed = "destroyed"
)

const (
	// EventStart schedules the one-shot profile load.
	EventStart = "event_start"
	// EventStop withdraws profile endpoints and detaches all listeners.
	EventStop = "event_stop"
)

func (d *Discovery) newLifecycle() *fsm.FSM {
	events := fsm.Events{
		{Name: EventStart, Src: []string{StateCreated, StateRunning}, Dst: StateRunning},
		{Name: EventStop, Src: []string{StateCreated, StateRunning, StateDestroyed}, Dst: StateDestroyed},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateRunning:   fsmutil.WrapEvent(d.actionEnterRunning),
		"enter_" + StateDestroyed: fsmutil.WrapEvent(d.actionEnterDestroyed),
	}

	return fsm.NewFSM(StateCreated, events, callbacks)
}

// actionEnterRunning expects the run context as the first event argument;
// the context handed to callbacks ends with the transition.
func (d *Discovery) actionEnterRunning(_ context.Context, e *fsm.Event) error {
	ctx := e.Args[0].(context.Context)
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	if !d.opts.LoadProfile {
		return nil
	}
	d.wg.Go(func() { d.loadProfile(ctx) })
	return nil
}

func (d *Discovery) actionEnterDestroyed(_ context.Context, _ *fsm.Event) error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	for id := range d.profileEndpoints {
		d.removeEndpointLocked(id)
	}
	clear(d.listeners)
	d.stopped = true

	d.logger.Info("Broker discovery stopped", "endpoints", len(d.endpoints))
	return nil
}
