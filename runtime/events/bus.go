package events

import (
	"sync"
	"time"
)

// DefaultBuffer is the per-subscriber event buffer size.
const DefaultBuffer = 256

type (
	// Bus is an in-process topic bus. Events published to one topic are
	// delivered to that topic's subscribers in publish order. When a
	// subscriber's buffer fills, the oldest buffered event is dropped so the
	// publisher never blocks.
	Bus struct {
		mu     sync.RWMutex
		topics map[string]*topic
		buffer int
	}

	topic struct {
		mu   sync.Mutex
		subs map[int]*subscriber
		next int
	}

	subscriber struct {
		ch      chan Event
		dropped int
	}

	// Subscription is a handle on one topic subscription.
	Subscription struct {
		bus   *Bus
		topic string
		id    int
		ch    chan Event
	}
)

// NewBus constructs a Bus with the given per-subscriber buffer size. A
// non-positive size uses DefaultBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{topics: make(map[string]*topic), buffer: buffer}
}

// Publish delivers the event to every subscriber of the topic. The event's
// timestamp is stamped here when unset. Publish never blocks: a full
// subscriber buffer sheds its oldest event to make room.
func (b *Bus) Publish(topicName string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	t := b.topics[topicName]
	b.mu.RUnlock()
	if t == nil {
		return
	}
	// The topic lock keeps delivery order identical across subscribers.
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		for {
			select {
			case s.ch <- ev:
			default:
				select {
				case <-s.ch:
					s.dropped++
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a new subscriber on the topic and returns its
// subscription. The caller must Close the subscription when done.
func (b *Bus) Subscribe(topicName string) *Subscription {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	if !ok {
		t = &topic{subs: make(map[int]*subscriber)}
		b.topics[topicName] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	id := t.next
	t.next++
	s := &subscriber{ch: make(chan Event, b.buffer)}
	t.subs[id] = s
	t.mu.Unlock()

	return &Subscription{bus: b, topic: topicName, id: id, ch: s.ch}
}

// Events returns the subscription's receive channel. The channel is closed
// by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close removes the subscription from its topic and closes the channel.
// Close is safe to call once; events buffered before Close remain readable.
func (s *Subscription) Close() {
	s.bus.mu.RLock()
	t := s.bus.topics[s.topic]
	s.bus.mu.RUnlock()
	if t == nil {
		return
	}
	t.mu.Lock()
	sub, ok := t.subs[s.id]
	if ok {
		delete(t.subs, s.id)
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if ok {
		close(sub.ch)
	}
	if empty {
		s.bus.mu.Lock()
		// Re-check under the write lock; a new subscriber may have raced in.
		if cur := s.bus.topics[s.topic]; cur == t {
			cur.mu.Lock()
			if len(cur.subs) == 0 {
				delete(s.bus.topics, s.topic)
			}
			cur.mu.Unlock()
		}
		s.bus.mu.Unlock()
	}
}
