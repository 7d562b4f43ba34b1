package eventadmin

import (
	"context"
	"fmt"
	"sync"

	"github.com/autopeer-io/earpm/internal/pkg/metrics"
	"github.com/autopeer-io/earpm/pkg/log"
)

// DefaultQueueSize is the deliverer queue capacity used when none is configured.
const DefaultQueueSize = 256

// DelivererOptions configures a Deliverer.
type DelivererOptions struct {
	// QueueSize bounds the number of events waiting for delivery.
	QueueSize int

	Logger log.Logger
}

type delivery struct {
	ctx   context.Context
	event *Event
	sync  bool
	done  chan error
}

// Deliverer hands events to the local EventAdmin from a single worker
// goroutine, strictly in the order they were queued. Producers never wait
// for the EventAdmin: a full queue fails the producer with ErrQueueFull.
type Deliverer struct {
	target EventAdmin
	logger log.Logger

	queue chan *delivery

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDeliverer creates a deliverer for target. Call Start before posting.
func NewDeliverer(target EventAdmin, opts DelivererOptions) *Deliverer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = log.WithName("deliverer")
	}
	return &Deliverer{
		target: target,
		logger: opts.Logger,
		queue:  make(chan *delivery, opts.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutine. It is a no-op when already started.
func (d *Deliverer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
}

// Stop shuts the worker down and waits for it. Queued events are discarded
// without reaching the EventAdmin; pending Send calls fail with ErrDelivererStopped.
func (d *Deliverer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stopCh)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
		return
	}
	d.drain()
}

// Post queues e for asynchronous delivery through EventAdmin.PostEvent.
func (d *Deliverer) Post(e *Event) error {
	return d.push(&delivery{ctx: context.Background(), event: e})
}

// Send queues e for delivery through EventAdmin.SendEvent and waits for the
// result. Events queued before e are delivered first.
func (d *Deliverer) Send(ctx context.Context, e *Event) error {
	item := &delivery{ctx: ctx, event: e, sync: true, done: make(chan error, 1)}
	if err := d.push(item); err != nil {
		return err
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Deliverer) push(item *delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDelivererStopped
	}

	select {
	case d.queue <- item:
		metrics.DelivererQueueLength.Set(float64(len(d.queue)))
		return nil
	default:
		d.logger.Warn("Event delivery queue full, rejecting event", "topic", item.event.Topic, "size", cap(d.queue))
		return fmt.Errorf("%w: %d events queued", ErrQueueFull, cap(d.queue))
	}
}

func (d *Deliverer) run() {
	defer d.wg.Done()
	d.logger.Info("Event deliverer started", "queueSize", cap(d.queue))

	for {
		select {
		case <-d.stopCh:
			d.drain()
			d.logger.Info("Event deliverer stopped")
			return
		case item := <-d.queue:
			// Stop wins over a ready item.
			select {
			case <-d.stopCh:
				d.discard(item)
				d.drain()
				d.logger.Info("Event deliverer stopped")
				return
			default:
			}
			metrics.DelivererQueueLength.Set(float64(len(d.queue)))
			d.deliver(item)
		}
	}
}

func (d *Deliverer) deliver(item *delivery) {
	var err error
	if item.sync {
		err = d.target.SendEvent(item.ctx, item.event)
		metrics.EventsDelivered.WithLabelValues("send").Inc()
		item.done <- err
	} else {
		err = d.target.PostEvent(item.event)
		metrics.EventsDelivered.WithLabelValues("post").Inc()
	}
	if err != nil {
		d.logger.Debug("Event admin returned error", "topic", item.event.Topic, "sync", item.sync, "error", err)
	}
}

// drain empties the queue without calling the EventAdmin. Push is refused
// once stopped is set, so the queue cannot refill.
func (d *Deliverer) drain() {
	for {
		select {
		case item := <-d.queue:
			d.discard(item)
		default:
			metrics.DelivererQueueLength.Set(0)
			return
		}
	}
}

func (d *Deliverer) discard(item *delivery) {
	if item.sync {
		item.done <- ErrDelivererStopped
	}
	d.logger.Debug("Discarding undelivered event", "topic", item.event.Topic)
}
