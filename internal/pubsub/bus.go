// Package pubsub is the in-process fan-out used to notify the UI and
// sibling subsystems of state changes. Delivery is at-least-once per
// subscriber while the buffer has room and best-effort beyond that; no
// ordering is guaranteed across subscribers. Consumers that cannot
// tolerate a dropped message must re-read authoritative state, which is
// exactly what the blocking lock retry loop does via its timeout.
package pubsub

import (
	"strings"
	"sync"

	"github.com/corral-io/corral/internal/logging"
)

const subscriberBuffer = 64

// Message is one published event: the topic it was published on plus an
// arbitrary payload.
type Message struct {
	Topic   string
	Payload any
}

// Bus is a topic-keyed publish/subscribe fan-out.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Message
	next int
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[int]chan Message),
	}
}

// Topic builds a topic key from its ordered parts.
func Topic(parts ...string) string {
	return strings.Join(parts, "/")
}

// Per-project topics.
func InstanceLockTopic(projectID string) string  { return Topic("instance-lock", projectID) }
func InstanceStateTopic(projectID string) string { return Topic("instance-state", projectID) }
func ProjectModelTopic(projectID string) string  { return Topic("project-model", projectID) }
func ProjectUnlockTopic(projectID string) string { return Topic("project-unlock-state", projectID) }
func OperationTopic(projectID string) string     { return Topic("operation", projectID) }

// Subscribe registers a subscriber for one topic. The returned cancel
// func must be called when the subscriber is done; it closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan Message, subscriberBuffer)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Message)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[topic][id]; ok {
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the payload to every current subscriber of the topic.
// It never blocks: a subscriber whose buffer is full misses the message.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- Message{Topic: topic, Payload: payload}:
		default:
			logging.Warn("dropping pubsub message for slow subscriber", "topic", topic)
		}
	}
}
