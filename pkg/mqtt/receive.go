package mqtt

import (
	"fmt"

	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/earpm/internal/pkg/metrics"
)

// onPublishReceived is the receive path. It runs on the engine's network
// goroutine, so it only decodes, matches replies and hands events to
// cfg.OnMessage.
func (c *Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	p := pr.Packet
	if p == nil {
		return true, nil
	}

	if p.Topic == c.responseTopic {
		c.handleReply(p)
		return true, nil
	}

	c.handleEvent(p)
	return true, nil
}

func (c *Client) handleReply(p *paho.Publish) {
	var corr []byte
	if p.Properties != nil {
		corr = p.Properties.CorrelationData
	}
	if len(corr) == 0 {
		c.drop(p.Topic, "Failed to get correlation data from sync response", "no_correlation_data")
		return
	}

	var res replyResult
	if reason, ok := userProperty(p.Properties, PropHandlerError); ok {
		res.err = fmt.Errorf("%w: %s", ErrRemoteHandler, reason)
	}

	c.mu.Lock()
	reply, ok := c.pending[string(corr)]
	c.mu.Unlock()

	if !ok {
		// The requester already gave up or the reply was meant for a previous session.
		c.logger.Debug("Dropping sync response without a waiting request", "topic", p.Topic)
		metrics.MessagesDropped.WithLabelValues("late_reply").Inc()
		return
	}

	select {
	case reply <- res:
	default:
		c.logger.Debug("Dropping duplicate sync response", "topic", p.Topic)
	}
}

func (c *Client) handleEvent(p *paho.Publish) {
	props := p.Properties

	sender, ok := userProperty(props, PropSenderUUID)
	if !ok {
		c.drop(p.Topic, "Failed to get sender uuid from event", "no_sender_uuid")
		return
	}
	version, ok := userProperty(props, PropMsgVersion)
	if !ok {
		c.drop(p.Topic, "Failed to get message version from event", "no_version")
		return
	}
	if !compatibleVersion(version) {
		c.drop(p.Topic, "Incompatible message version", "incompatible_version", "version", version)
		return
	}
	if sender == c.cfg.SenderUUID {
		c.logger.Debug("Ignoring message published by this client", "topic", p.Topic)
		return
	}

	msg := &Message{
		Topic:          p.Topic,
		Payload:        p.Payload,
		QoS:            QoS(p.QoS),
		SenderUUID:     sender,
		Version:        version,
		UserProperties: userPropertyMap(props.User),
	}

	if props.ResponseTopic != "" || len(props.CorrelationData) > 0 {
		if len(props.CorrelationData) == 0 {
			c.drop(p.Topic, "Failed to get correlation data from sync event", "no_correlation_data")
			return
		}
		if props.ResponseTopic == "" {
			c.drop(p.Topic, "Failed to get response topic from sync event", "no_response_topic")
			return
		}
		msg.ResponseTopic = props.ResponseTopic
		msg.CorrelationData = append([]byte(nil), props.CorrelationData...)
	}

	if c.cfg.OnMessage == nil {
		c.logger.Debug("No message handler configured, dropping message", "topic", p.Topic)
		return
	}
	c.cfg.OnMessage(msg)
}

func (c *Client) drop(topic, diagnostic, reason string, keysAndValues ...any) {
	kv := append([]any{"topic", topic, "reason", reason}, keysAndValues...)
	c.logger.Warn(diagnostic, kv...)
	metrics.MessagesDropped.WithLabelValues(reason).Inc()
}
