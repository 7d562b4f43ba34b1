package discovery

import (
	"cmp"
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/autopeer-io/earpm/internal/pkg/metrics"
)

// EndpointListener is notified about broker endpoints matching its scope.
// Callbacks run with the discovery lock held and must not call back into
// the Discovery that invokes them.
type EndpointListener interface {
	EndpointAdded(ep Endpoint)
	EndpointRemoved(ep Endpoint)
}

// ListenerFuncs adapts plain functions to an EndpointListener.
type ListenerFuncs struct {
	Added   func(ep Endpoint)
	Removed func(ep Endpoint)
}

func (f ListenerFuncs) EndpointAdded(ep Endpoint) {
	if f.Added != nil {
		f.Added(ep)
	}
}

func (f ListenerFuncs) EndpointRemoved(ep Endpoint) {
	if f.Removed != nil {
		f.Removed(ep)
	}
}

type listenerEntry struct {
	listener EndpointListener
	selector labels.Selector
}

func (e *listenerEntry) matches(ep Endpoint) bool {
	return e.selector.Matches(labels.Set(ep.Properties))
}

func parseFilter(filter string) (labels.Selector, error) {
	if filter == "" {
		return labels.Everything(), nil
	}
	selector, err := labels.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidFilter, filter, err)
	}
	return selector, nil
}

// AddListener registers l for endpoints matching filter, a label selector over
// endpoint properties such as "pubsub.admin.type=mqtt". Every endpoint already
// known and matching is announced to l before AddListener returns.
func (d *Discovery) AddListener(filter string, l EndpointListener) (int64, error) {
	selector, err := parseFilter(filter)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return 0, ErrStopped
	}

	d.nextListenerID++
	id := d.nextListenerID
	entry := &listenerEntry{listener: l, selector: selector}
	d.listeners[id] = entry

	for _, ep := range d.sortedEndpointsLocked() {
		if entry.matches(ep) {
			l.EndpointAdded(ep.copy())
		}
	}

	d.logger.Debug("Endpoint listener added", "listenerID", id, "filter", filter)
	return id, nil
}

// RemoveListener unregisters a listener. Endpoints are not withdrawn from it.
func (d *Discovery) RemoveListener(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.listeners, id)
}

// AddEndpoint announces a dynamic broker endpoint. An endpoint with the same
// id is replaced: listeners see it removed and then added.
func (d *Discovery) AddEndpoint(ep Endpoint) error {
	return d.addEndpoint(ep.copy(), false)
}

func (d *Discovery) addEndpoint(ep Endpoint, fromProfile bool) error {
	if err := ep.validate(); err != nil {
		return err
	}
	if ep.Properties[PropEndpointID] == "" {
		ep.Properties[PropEndpointID] = ep.ID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}

	if old, ok := d.endpoints[ep.ID]; ok {
		d.notifyLocked(old, false)
	}
	d.endpoints[ep.ID] = ep
	if fromProfile {
		d.profileEndpoints[ep.ID] = struct{}{}
	}
	d.notifyLocked(ep, true)
	metrics.DiscoveredEndpoints.Set(float64(len(d.endpoints)))

	d.logger.Info("Broker endpoint added", "endpointID", ep.ID, "address", ep.Address(),
		"port", ep.Properties[PropBrokerPort], "static", ep.Static())
	return nil
}

// RemoveEndpoint withdraws the endpoint with the given id.
func (d *Discovery) RemoveEndpoint(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if !d.removeEndpointLocked(id) {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	return nil
}

func (d *Discovery) removeEndpointLocked(id string) bool {
	ep, ok := d.endpoints[id]
	if !ok {
		return false
	}
	delete(d.endpoints, id)
	delete(d.profileEndpoints, id)
	d.notifyLocked(ep, false)
	metrics.DiscoveredEndpoints.Set(float64(len(d.endpoints)))

	d.logger.Info("Broker endpoint removed", "endpointID", id)
	return true
}

// Endpoints returns a snapshot of the known endpoints ordered by id.
func (d *Discovery) Endpoints() []Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	eps := d.sortedEndpointsLocked()
	for i := range eps {
		eps[i] = eps[i].copy()
	}
	return eps
}

func (d *Discovery) sortedEndpointsLocked() []Endpoint {
	eps := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		eps = append(eps, ep)
	}
	slices.SortFunc(eps, func(a, b Endpoint) int { return cmp.Compare(a.ID, b.ID) })
	return eps
}

func (d *Discovery) notifyLocked(ep Endpoint, added bool) {
	ids := make([]int64, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		entry := d.listeners[id]
		if !entry.matches(ep) {
			continue
		}
		if added {
			entry.listener.EndpointAdded(ep.copy())
		} else {
			entry.listener.EndpointRemoved(ep.copy())
		}
	}
}
