package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Ruskei/BetterHud/internal/telemetry"
)

// DefaultChannel is the pub/sub channel the game engine publishes to.
const DefaultChannel = "hud:events"

const (
	receivedMetricKey = "ingest_messages_total"
	rejectedMetricKey = "ingest_rejected_total"
)

// RedisSource reads messages from a Redis pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	channel string
	sink    Sink
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

func NewRedisSource(client *redis.Client, channel string, sink Sink, logger telemetry.Logger, metrics telemetry.Metrics) *RedisSource {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &RedisSource{
		client:  client,
		channel: channel,
		sink:    sink,
		logger:  logger,
		metrics: telemetry.OrNop(metrics),
	}
}

func (s *RedisSource) Channel() string { return s.channel }

// Subscription is an open channel subscription.
type Subscription struct {
	source *RedisSource
	pubsub *redis.PubSub
}

// Open subscribes and waits for the server to confirm.
func (s *RedisSource) Open(ctx context.Context) (*Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("ingest: subscribe %s: %w", s.channel, err)
	}
	return &Subscription{source: s, pubsub: pubsub}, nil
}

// Run subscribes and delivers messages until ctx is done.
func (s *RedisSource) Run(ctx context.Context) error {
	sub, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	return sub.Run(ctx)
}

// Run delivers messages until ctx is done. The client reconnects and
// resubscribes on its own after network errors. Run returns redis.ErrClosed
// when the subscription is closed underneath it.
func (sub *Subscription) Run(ctx context.Context) error {
	s := sub.source
	messages := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return redis.ErrClosed
			}
			s.metrics.Add(receivedMetricKey, 1)
			if err := s.handle([]byte(msg.Payload)); err != nil {
				s.metrics.Add(rejectedMetricKey, 1)
				s.logger.Printf("ingest discarding message on %s: %v", s.channel, err)
			}
		}
	}
}

func (sub *Subscription) Close() error {
	return sub.pubsub.Close()
}

func (s *RedisSource) handle(payload []byte) error {
	msg, err := Decode(payload)
	if err != nil {
		return err
	}
	return Deliver(s.sink, msg)
}

// Publish sends msg on channel. It is the producer side used by game engine
// adapters and tests.
func Publish(ctx context.Context, client *redis.Client, channel string, msg Message) error {
	if channel == "" {
		channel = DefaultChannel
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, data).Err()
}
