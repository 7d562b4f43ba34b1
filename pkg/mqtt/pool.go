package mqtt

import (
	"time"
)

type messageKind int

const (
	kindAsync messageKind = iota
	kindSync
	kindSyncWaitingForSlot
	kindReply
)

func (k messageKind) String() string {
	switch k {
	case kindAsync:
		return "async"
	case kindSync:
		return "sync"
	case kindSyncWaitingForSlot:
		return "sync-waiting"
	case kindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// messageDescriptor is one in-flight message. The payload and property
// slices are owned copies so callers may reuse their buffers.
type messageDescriptor struct {
	mid             uint64
	topic           string
	payload         []byte
	qos             QoS
	priority        Priority
	expiry          time.Duration
	correlationData []byte
	responseTopic   string
	userProperties  map[string]string
	kind            messageKind
	createdAt       time.Time
}

func newDescriptor(req *Request, kind messageKind) *messageDescriptor {
	d := &messageDescriptor{
		topic:     req.Topic,
		payload:   append([]byte(nil), req.Payload...),
		qos:       req.QoS,
		priority:  req.Priority,
		expiry:    req.ExpiryInterval,
		kind:      kind,
		createdAt: time.Now(),
	}
	if len(req.UserProperties) > 0 {
		d.userProperties = make(map[string]string, len(req.UserProperties))
		for k, v := range req.UserProperties {
			d.userProperties[k] = v
		}
	}
	return d
}

// messagePool bounds the number of in-flight messages. It is guarded by Client.mu.
type messagePool struct {
	capacity int
	nextMID  uint64
	inflight map[uint64]*messageDescriptor
}

func newMessagePool(capacity int) *messagePool {
	return &messagePool{
		capacity: capacity,
		inflight: make(map[uint64]*messageDescriptor, capacity),
	}
}

// limit is the number of slots a request of the given priority may use.
// Lower priorities leave headroom for more important traffic.
func (p *messagePool) limit(pr Priority) int {
	var n int
	switch pr {
	case PriorityHigh:
		n = p.capacity
	case PriorityMiddle:
		n = p.capacity * 70 / 100
	default:
		n = p.capacity * 50 / 100
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (p *messagePool) admit(pr Priority) bool {
	return len(p.inflight) < p.limit(pr)
}

func (p *messagePool) acquire(d *messageDescriptor) uint64 {
	p.nextMID++
	d.mid = p.nextMID
	p.inflight[d.mid] = d
	return d.mid
}

func (p *messagePool) release(mid uint64) bool {
	if _, ok := p.inflight[mid]; !ok {
		return false
	}
	delete(p.inflight, mid)
	return true
}

func (p *messagePool) len() int {
	return len(p.inflight)
}

func (p *messagePool) clear() {
	clear(p.inflight)
}
