// Package discovery tracks reachable MQTT broker endpoints and fans them out
// to interested listeners. On broker-hosting nodes it also publishes the
// listeners declared in the local mosquitto profile.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/earpm/internal/pkg/util/fsm"
	"github.com/autopeer-io/earpm/pkg/log"
)

// Options configures a Discovery.
type Options struct {
	// LoadProfile enables publishing the listeners of the broker profile.
	LoadProfile bool
	// ProfilePath defaults to DefaultProfilePath.
	ProfilePath string
	// WaitForProfile keeps watching for a profile that does not exist yet.
	WaitForProfile bool

	Logger log.Logger
}

// Discovery is the broker endpoint registry.
type Discovery struct {
	opts   Options
	logger log.Logger

	lifecycle *fsm.FSM
	wg        sync.WaitGroup

	mu               sync.Mutex
	cancel           context.CancelFunc
	stopped          bool
	endpoints        map[string]Endpoint
	profileEndpoints map[string]struct{}
	listeners        map[int64]*listenerEntry
	nextListenerID   int64
}

// New creates a Discovery in the created state.
func New(opts Options) *Discovery {
	if opts.ProfilePath == "" {
		opts.ProfilePath = DefaultProfilePath
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Std()
	}

	d := &Discovery{
		opts:             opts,
		logger:           logger.WithName("discovery"),
		endpoints:        make(map[string]Endpoint),
		profileEndpoints: make(map[string]struct{}),
		listeners:        make(map[int64]*listenerEntry),
	}
	d.lifecycle = d.newLifecycle()
	return d
}

// Start moves discovery to running and schedules the profile load.
// Starting a running discovery is a no-op.
func (d *Discovery) Start(ctx context.Context) error {
	if d.lifecycle.Is(StateDestroyed) {
		return ErrStopped
	}
	return fsmutil.Fire(ctx, d.lifecycle, EventStart, ctx)
}

// Stop withdraws the profile endpoints, detaches every listener and waits for
// the profile loader to return. Later calls fail with ErrStopped.
func (d *Discovery) Stop() error {
	return fsmutil.Fire(context.Background(), d.lifecycle, EventStop)
}

// State reports the lifecycle state.
func (d *Discovery) State() string {
	return d.lifecycle.Current()
}

func (d *Discovery) loadProfile(ctx context.Context) {
	path := d.opts.ProfilePath
	listeners, err := parseProfileFile(path, d.logger)
	if errors.Is(err, ErrProfileNotFound) && d.opts.WaitForProfile {
		d.logger.Info("Waiting for broker profile", "path", path)
		if err = waitForFile(ctx, path); err == nil {
			listeners, err = parseProfileFile(path, d.logger)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		d.logger.Error(err, "Failed to load broker profile", "path", path)
		return
	}

	for _, l := range listeners {
		if ctx.Err() != nil {
			return
		}
		ep := l.Endpoint(uuid.NewString())
		if err := d.addEndpoint(ep, true); err != nil {
			d.logger.Error(err, "Failed to create broker listener", "port", l.Port, "address", l.Address)
		}
	}
	d.logger.Info("Broker profile loaded", "path", path, "listeners", len(listeners))
}

// waitForFile blocks until path is created or ctx ends.
func waitForFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	// The file may have appeared before the watch was set up.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrProfileNotFound)
			}
			if filepath.Clean(ev.Name) == path && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrProfileNotFound)
			}
			return err
		}
	}
}
