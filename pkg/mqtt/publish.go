package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/google/uuid"

	"github.com/autopeer-io/earpm/internal/pkg/metrics"
	"github.com/autopeer-io/earpm/pkg/mqtt/topic"
)

// PublishAsync hands the request to the engine and returns without waiting
// for the broker. It fails with ErrPoolExhausted when the request's priority
// share of the message pool is in use. Delivery failures are logged.
func (c *Client) PublishAsync(ctx context.Context, req *Request) error {
	if err := checkRequest(req); err != nil {
		return err
	}
	if err := c.delayFirstSend(ctx); err != nil {
		return err
	}
	return c.enqueue(newDescriptor(req, kindAsync))
}

// PublishSync publishes the request with a response topic and correlation
// data, then blocks until the matching reply arrives. When the pool is full
// it first waits for a free slot. The whole call is bounded by the request's
// expiry interval, or by the configured sync timeout when none is set.
func (c *Client) PublishSync(ctx context.Context, req *Request) error {
	if err := checkRequest(req); err != nil {
		return err
	}
	if err := c.delayFirstSend(ctx); err != nil {
		return err
	}

	timeout := c.cfg.SyncTimeout
	if req.ExpiryInterval > 0 {
		timeout = req.ExpiryInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := newDescriptor(req, kindSyncWaitingForSlot)
	corr := uuid.New()
	d.correlationData = corr[:]
	d.responseTopic = c.responseTopic
	key := string(d.correlationData)

	eng, reply, err := c.acquireSyncSlot(ctx, d, key)
	if err != nil {
		metrics.MessagesPublished.WithLabelValues("sync", resultLabel(err)).Inc()
		return err
	}
	defer c.releaseSync(d.mid, key)

	start := time.Now()
	if err := c.publish(ctx, eng, d); err != nil {
		c.logger.Error(err, "Failed to publish sync message", "topic", d.topic, "mid", d.mid)
		metrics.MessagesPublished.WithLabelValues("sync", resultLabel(err)).Inc()
		return err
	}

	select {
	case res := <-reply:
		metrics.SyncLatency.Observe(time.Since(start).Seconds())
		metrics.MessagesPublished.WithLabelValues("sync", resultLabel(res.err)).Inc()
		return res.err
	case <-ctx.Done():
		c.logger.Warn("Timed out waiting for sync reply", "topic", d.topic, "mid", d.mid, "timeout", timeout)
		err := waitError(ctx, "waiting for reply to "+d.topic)
		metrics.MessagesPublished.WithLabelValues("sync", resultLabel(err)).Inc()
		return err
	case <-c.closing:
		return fmt.Errorf("%w: while waiting for reply to %q", ErrClientClosed, d.topic)
	}
}

// Reply answers a synchronous event. handlerErr, when not nil, is reported
// to the requester, whose PublishSync then fails with ErrRemoteHandler.
func (c *Client) Reply(ctx context.Context, msg *Message, handlerErr error) error {
	if msg == nil || !msg.IsSync() {
		return fmt.Errorf("%w: message has no response topic", ErrInvalidTopic)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d := &messageDescriptor{
		topic:           msg.ResponseTopic,
		qos:             AtLeastOnce,
		priority:        PriorityHigh,
		correlationData: append([]byte(nil), msg.CorrelationData...),
		kind:            kindReply,
		createdAt:       time.Now(),
	}
	if handlerErr != nil {
		d.userProperties = map[string]string{PropHandlerError: handlerErr.Error()}
	}
	return c.enqueue(d)
}

func checkRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidTopic)
	}
	if err := topic.ValidateName(req.Topic); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidTopic, req.Topic, err)
	}
	if !req.QoS.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, req.QoS)
	}
	return nil
}

// delayFirstSend blocks the first publish of this client for FirstSendDelay.
func (c *Client) delayFirstSend(ctx context.Context) error {
	if c.cfg.FirstSendDelay <= 0 {
		return nil
	}

	var err error
	c.firstSend.Do(func() {
		c.logger.Debug("Delaying first message for late joiners", "delay", c.cfg.FirstSendDelay)
		t := time.NewTimer(c.cfg.FirstSendDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			err = ctx.Err()
		case <-c.closing:
			err = ErrClientClosed
		}
	})
	return err
}

// engineForLocked returns the engine a new message should be sent through.
// Nothing is accepted while disconnected: the engine does not queue
// publishes across reconnects, so the message would be lost.
func (c *Client) engineForLocked() (Engine, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.engine == nil {
		return nil, fmt.Errorf("%w: no broker available", ErrNotConnected)
	}
	if !c.connected {
		return nil, fmt.Errorf("%w: connection to broker is down", ErrNotConnected)
	}
	return c.engine, nil
}

// enqueue takes a pool slot for d without waiting and publishes it in the background.
func (c *Client) enqueue(d *messageDescriptor) error {
	mode := d.kind.String()

	c.mu.Lock()
	eng, err := c.engineForLocked()
	if err != nil {
		c.mu.Unlock()
		metrics.MessagesPublished.WithLabelValues(mode, resultLabel(err)).Inc()
		return err
	}
	if !c.pool.admit(d.priority) {
		inflight, limit := c.pool.len(), c.pool.limit(d.priority)
		c.mu.Unlock()
		metrics.MessagesPublished.WithLabelValues(mode, "exhausted").Inc()
		return fmt.Errorf("%w: %d messages in flight, %s priority limit is %d",
			ErrPoolExhausted, inflight, d.priority, limit)
	}
	c.acquireLocked(d)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.deliver(eng, d)
	return nil
}

// deliver runs one background publish. The slot is released when the engine
// reports the outcome: immediately for QoS 0, on PUBACK/PUBCOMP otherwise.
func (c *Client) deliver(eng Engine, d *messageDescriptor) {
	defer c.wg.Done()
	defer c.releaseMessage(d.mid)

	timeout := c.cfg.SyncTimeout
	if d.expiry > 0 {
		timeout = d.expiry
	}
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	mode := d.kind.String()
	if err := c.publish(ctx, eng, d); err != nil {
		c.logger.Error(err, "Failed to publish message", "topic", d.topic, "mid", d.mid, "kind", mode)
		metrics.MessagesPublished.WithLabelValues(mode, resultLabel(err)).Inc()
		return
	}
	metrics.MessagesPublished.WithLabelValues(mode, "success").Inc()
}

func (c *Client) publish(ctx context.Context, eng Engine, d *messageDescriptor) error {
	resp, err := eng.Publish(ctx, c.publishPacket(d))
	if err != nil {
		if errors.Is(err, autopaho.ConnectionDownError) {
			return fmt.Errorf("%w: publish %q: %w", ErrNotConnected, d.topic, err)
		}
		if ctx.Err() != nil && !errors.Is(err, ErrProtocol) {
			return waitError(ctx, "publishing "+d.topic)
		}
		return fmt.Errorf("%w: publish %q: %w", ErrProtocol, d.topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("%w: publish %q rejected with reason code 0x%02x", ErrProtocol, d.topic, resp.ReasonCode)
	}
	return nil
}

// acquireSyncSlot waits until the pool admits d, then registers the pending
// reply. Waiting is woken by every released slot and rechecks admission.
func (c *Client) acquireSyncSlot(ctx context.Context, d *messageDescriptor, key string) (Engine, <-chan replyResult, error) {
	c.mu.Lock()
	for {
		eng, err := c.engineForLocked()
		if err != nil {
			c.mu.Unlock()
			return nil, nil, err
		}
		if c.pool.admit(d.priority) {
			d.kind = kindSync
			c.acquireLocked(d)
			reply := make(chan replyResult, 1)
			c.pending[key] = reply
			c.mu.Unlock()
			return eng, reply, nil
		}

		changed := c.poolChanged
		c.mu.Unlock()

		c.logger.Debug("Message pool full, waiting for a free slot", "topic", d.topic)
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, nil, waitError(ctx, "waiting for a message slot")
		case <-c.closing:
			return nil, nil, fmt.Errorf("%w: while waiting for a message slot", ErrClientClosed)
		}

		c.mu.Lock()
	}
}

func (c *Client) acquireLocked(d *messageDescriptor) {
	c.pool.acquire(d)
	metrics.MessagesInflight.Set(float64(c.pool.len()))
}

func (c *Client) releaseMessage(mid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(mid)
}

func (c *Client) releaseSync(mid uint64, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
	c.releaseLocked(mid)
}

func (c *Client) releaseLocked(mid uint64) {
	if !c.pool.release(mid) {
		return
	}
	metrics.MessagesInflight.Set(float64(c.pool.len()))
	close(c.poolChanged)
	c.poolChanged = make(chan struct{})
}

func waitError(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, what)
	}
	return fmt.Errorf("%s: %w", what, ctx.Err())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPoolExhausted):
		return "exhausted"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrRemoteHandler):
		return "remote_error"
	default:
		return "failed"
	}
}
