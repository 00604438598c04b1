package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// RedisPubSub implements PubSub on redis PUBLISH/SUBSCRIBE.
type RedisPubSub struct {
	client      *redis.Client
	ownsClient  bool
	subscribers []*redis.PubSub
	mu          sync.Mutex
}

// NewRedisPubSub wraps client. When ownsClient is set Close also closes client.
func NewRedisPubSub(client *redis.Client, ownsClient bool) (*RedisPubSub, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisPubSub{client: client, ownsClient: ownsClient}, nil
}

// Publish publishes event on topic.
func (r *RedisPubSub) Publish(ctx context.Context, topic string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, topic, data).Err()
}

// Subscribe subscribes to topic.
func (r *RedisPubSub) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	sub := r.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	r.mu.Lock()
	r.subscribers = append(r.subscribers, sub)
	r.mu.Unlock()

	eventCh := make(chan *Event, subscriberBuffer)
	go r.processMessages(ctx, sub, eventCh)
	return eventCh, nil
}

// Close closes all subscriptions, and the client when owned.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subscribers {
		sub.Close()
	}
	r.subscribers = nil

	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}

func (r *RedisPubSub) processMessages(ctx context.Context, sub *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)
	l := log.L()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l.Warn().Err(err).Str("topic", msg.Channel).Msg("dropping malformed pubsub event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str("topic", msg.Channel).Msg("pubsub subscriber full, event dropped")
			}
		}
	}
}
