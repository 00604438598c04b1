package pubsub

import (
	"context"
	"sync"
)

// MemoryPubSub is a process-local bus, used when a single instance serves
// every connection.
type MemoryPubSub struct {
	mu     sync.RWMutex
	subs   map[string][]chan *Event
	closed bool
}

func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string][]chan *Event)}
}

func (m *MemoryPubSub) Publish(_ context.Context, topic string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[topic] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	ch := make(chan *Event, subscriberBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, nil
	}
	m.subs[topic] = append(m.subs[topic], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(topic, ch)
	}()
	return ch, nil
}

func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}

func (m *MemoryPubSub) remove(topic string, target chan *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans := m.subs[topic]
	for i, ch := range chans {
		if ch == target {
			m.subs[topic] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}
