package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/wes-chat/pkg/log"
)

var topicNameRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// kafkaTopic maps a bus topic such as "chat:relay" to a legal Kafka topic name.
func kafkaTopic(topic string) string {
	return topicNameRegexp.ReplaceAllString(strings.ReplaceAll(topic, ":", "-"), "-")
}

// partitionKey keeps every event of one room (or user) on one partition so
// per-room order is preserved.
func partitionKey(event *Event) []byte {
	if event.Room != "" {
		return []byte(event.Room)
	}
	return []byte(event.UserID)
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

// KafkaPubSub implements PubSub on Kafka topics. Each process consumes with
// its own group so every instance receives every event.
type KafkaPubSub struct {
	producer   *kafka.Producer
	config     KafkaConfig
	instanceID string

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	ensured       map[string]bool
	doneCh        chan struct{}
}

// NewKafkaPubSub creates the producer and starts its delivery report loop.
func NewKafkaPubSub(cfg KafkaConfig, instanceID string) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer:   p,
		config:     cfg,
		instanceID: instanceID,
		ensured:    make(map[string]bool),
		doneCh:     make(chan struct{}),
	}
	go k.deliveryReportHandler()
	return k, nil
}

func (k *KafkaPubSub) ensureTopic(topic string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ensured[topic] {
		return
	}

	l := log.L()
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		l.Warn().Err(err).Msg("kafka admin client unavailable")
		return
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		l.Warn().Err(err).Str("topic", topic).Msg("failed to create kafka topic")
		return
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create kafka topic")
			return
		}
	}
	k.ensured[topic] = true
}

func (k *KafkaPubSub) deliveryReportHandler() {
	l := log.L()
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Warn().Err(m.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish produces event to the Kafka topic derived from topic.
func (k *KafkaPubSub) Publish(ctx context.Context, topic string, event *Event) error {
	name := kafkaTopic(topic)
	k.ensureTopic(name)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &name, Partition: kafka.PartitionAny},
		Key:            partitionKey(event),
		Value:          data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Subscribe consumes the Kafka topic derived from topic from the latest offset.
func (k *KafkaPubSub) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	name := kafkaTopic(topic)
	k.ensureTopic(name)

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "wes-chat"
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                topicNameRegexp.ReplaceAllString(groupID+"-"+k.instanceID, "-"),
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(name, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", name, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.subscriptions = append(k.subscriptions, &kafkaSubscription{consumer: c, cancel: cancel})
	k.mu.Unlock()

	eventCh := make(chan *Event, subscriberBuffer)
	go k.consumeMessages(subCtx, c, eventCh)
	return eventCh, nil
}

func (k *KafkaPubSub) consumeMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event) {
	defer close(eventCh)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("dropping malformed kafka event")
				continue
			}
			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Msg("pubsub subscriber full, event dropped")
			}
		case kafka.Error:
			l.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Close stops all consumers, flushes and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	subs := k.subscriptions
	k.subscriptions = nil
	k.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.consumer.Close()
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}
