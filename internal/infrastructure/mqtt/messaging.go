package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// maxPayloadSize bounds a single message. Device state and acks are a few
// hundred bytes; anything near this is a bug.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic. State topics are published retained so a
// new subscriber sees the current value; commands and acks are not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, c.QoS(), retained)
}

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The subscription is tracked and restored after a reconnect.
// paho delivers messages without ordering, so handlers may run
// concurrently.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subs.add(subscription{topic: topic, qos: qos, handler: handler})
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe drops the subscription for the exact topic filter given to
// Subscribe. Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subs.remove(topic)
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: unsubscribe: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: unsubscribe: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	return c.subs.len()
}

// HasSubscription reports whether topic was subscribed verbatim. Wildcards
// are not expanded.
func (c *Client) HasSubscription(topic string) bool {
	return c.subs.has(topic)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// subscriptionSet is keyed by topic filter; subscribing to the same filter
// again replaces its handler, as the broker does.
type subscriptionSet struct {
	mu    sync.RWMutex
	byKey map[string]subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{byKey: make(map[string]subscription)}
}

func (s *subscriptionSet) add(sub subscription) {
	s.mu.Lock()
	s.byKey[sub.topic] = sub
	s.mu.Unlock()
}

func (s *subscriptionSet) remove(topic string) {
	s.mu.Lock()
	delete(s.byKey, topic)
	s.mu.Unlock()
}

func (s *subscriptionSet) has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[topic]
	return ok
}

func (s *subscriptionSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// list returns the subscriptions sorted by topic.
func (s *subscriptionSet) list() []subscription {
	s.mu.RLock()
	out := make([]subscription, 0, len(s.byKey))
	for _, sub := range s.byKey {
		out = append(out, sub)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].topic < out[j].topic })
	return out
}
