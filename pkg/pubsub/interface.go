package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one message on the bus.
type Event struct {
	Type      string          `json:"type"`
	Origin    string          `json:"origin"`
	Room      string          `json:"room,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Exclude   string          `json:"exclude,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into a new event stamped with the current time.
func NewEvent(eventType, origin string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Origin:    origin,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// Publisher publishes events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
}

// Subscriber delivers events published on a topic until ctx is cancelled or
// the subscription is closed. Events are dropped when the consumer falls behind.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *Event, error)
}

// PubSub combines Publisher and Subscriber.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}

const subscriberBuffer = 256
