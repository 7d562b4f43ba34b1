package mqtt

type subscriptionState int

const (
	subscriptionRequested subscriptionState = iota
	subscriptionActive
	subscriptionPendingUnsubscribe
)

func (s subscriptionState) String() string {
	switch s {
	case subscriptionRequested:
		return "requested"
	case subscriptionActive:
		return "active"
	case subscriptionPendingUnsubscribe:
		return "pending-unsubscribe"
	default:
		return "unknown"
	}
}

type subscription struct {
	topic string
	qos   QoS
	mid   uint64
	state subscriptionState
}

// subscriptionTable keeps at most one entry per topic and remembers insertion
// order, which is the order subscriptions are reissued after a reconnect.
// It is guarded by Client.mu.
type subscriptionTable struct {
	entries map[string]*subscription
	order   []string
	nextMID uint64
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{entries: make(map[string]*subscription)}
}

// upsert records the requested QoS for topic. It reports whether a wire
// SUBSCRIBE is required, which is the case for a new topic or a QoS upgrade.
func (t *subscriptionTable) upsert(topic string, qos QoS) (subscription, bool) {
	if sub, ok := t.entries[topic]; ok {
		if sub.state != subscriptionPendingUnsubscribe && qos <= sub.qos {
			return *sub, false
		}
		t.nextMID++
		sub.qos = max(sub.qos, qos)
		sub.mid = t.nextMID
		sub.state = subscriptionRequested
		return *sub, true
	}

	t.nextMID++
	sub := &subscription{topic: topic, qos: qos, mid: t.nextMID, state: subscriptionRequested}
	t.entries[topic] = sub
	t.order = append(t.order, topic)
	return *sub, true
}

// markActive is a no-op when the entry was removed or re-requested since mid was issued.
func (t *subscriptionTable) markActive(topic string, mid uint64) {
	if sub, ok := t.entries[topic]; ok && sub.mid == mid && sub.state == subscriptionRequested {
		sub.state = subscriptionActive
	}
}

func (t *subscriptionTable) markPendingUnsubscribe(topic string) bool {
	sub, ok := t.entries[topic]
	if !ok {
		return false
	}
	sub.state = subscriptionPendingUnsubscribe
	return true
}

func (t *subscriptionTable) remove(topic string) {
	if _, ok := t.entries[topic]; !ok {
		return
	}
	delete(t.entries, topic)
	for i, s := range t.order {
		if s == topic {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// requeue marks every live entry as Requested with a fresh mid and returns
// copies in insertion order.
func (t *subscriptionTable) requeue() []subscription {
	out := make([]subscription, 0, len(t.order))
	for _, topic := range t.order {
		sub := t.entries[topic]
		if sub.state == subscriptionPendingUnsubscribe {
			continue
		}
		t.nextMID++
		sub.mid = t.nextMID
		sub.state = subscriptionRequested
		out = append(out, *sub)
	}
	return out
}

func (t *subscriptionTable) len() int {
	return len(t.entries)
}

func (t *subscriptionTable) clear() {
	clear(t.entries)
	t.order = nil
}

// removePending drops topic unless it was subscribed again while the
// unsubscribe was in flight.
func (t *subscriptionTable) removePending(topic string) {
	if sub, ok := t.entries[topic]; ok && sub.state == subscriptionPendingUnsubscribe {
		t.remove(topic)
	}
}
