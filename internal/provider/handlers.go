package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/autopeer-io/earpm/pkg/mqtt"
	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

// AddHandler records the topic interest of a local event handler and
// subscribes every topic no other handler asked for yet. Event Admin
// patterns such as "org/example/*" are accepted. Adding an existing id
// replaces its topics.
func (p *Provider) AddHandler(ctx context.Context, id string, patterns []string) error {
	if id == "" || len(patterns) == 0 {
		return fmt.Errorf("%w: id %q with %d topics", ErrInvalidHandler, id, len(patterns))
	}

	filters := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		filter, err := topic.FromEventAdmin(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidHandler, pattern, err)
		}
		if err := topic.ValidateFilter(filter); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidHandler, pattern, err)
		}
		if !slices.Contains(filters, filter) {
			filters = append(filters, filter)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	previous := p.handlers[id]
	p.handlers[id] = filters
	var subscribe, unsubscribe []string
	for _, f := range filters {
		p.interest[f]++
		if p.interest[f] == 1 {
			subscribe = append(subscribe, f)
		}
	}
	for _, f := range previous {
		if p.release(f) {
			unsubscribe = append(unsubscribe, f)
		}
	}
	p.mu.Unlock()

	p.logger.Debug("Event handler added", "handlerID", id, "topics", filters)
	return errors.Join(p.subscribe(ctx, subscribe), p.unsubscribe(ctx, unsubscribe))
}

// RemoveHandler drops the interest of a handler and unsubscribes the topics
// no remaining handler needs.
func (p *Provider) RemoveHandler(ctx context.Context, id string) error {
	p.mu.Lock()
	filters, ok := p.handlers[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.handlers, id)
	var unsubscribe []string
	for _, f := range filters {
		if p.release(f) {
			unsubscribe = append(unsubscribe, f)
		}
	}
	p.mu.Unlock()

	p.logger.Debug("Event handler removed", "handlerID", id)
	return p.unsubscribe(ctx, unsubscribe)
}

// release reports whether filter lost its last interested handler.
func (p *Provider) release(filter string) bool {
	p.interest[filter]--
	if p.interest[filter] > 0 {
		return false
	}
	delete(p.interest, filter)
	return true
}

func (p *Provider) subscribe(ctx context.Context, filters []string) error {
	var errs []error
	for _, f := range filters {
		err := p.transport.Subscribe(ctx, f, p.opts.SubscribeQoS)
		switch {
		case err == nil:
		case errors.Is(err, mqtt.ErrProtocol):
			// The client keeps the subscription and retries after reconnecting.
			p.logger.Warn("Subscription not confirmed by broker", "topic", f, "reason", err.Error())
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) unsubscribe(ctx context.Context, filters []string) error {
	var errs []error
	for _, f := range filters {
		if err := p.transport.Unsubscribe(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
