package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus publishes envelopes over Redis pub/sub so every service instance
// and UI bridge sees the same account topics.
type RedisBus struct {
	client *redis.Client
	buffer int
	log    logrus.FieldLogger
}

// NewRedisBus creates a bus on an existing client
func NewRedisBus(client *redis.Client, buffer int, log logrus.FieldLogger) *RedisBus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &RedisBus{client: client, buffer: buffer, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topics...)
	// Wait for the subscription confirmation so no message published
	// after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSubscription{
		ps: ps,
		ch: make(chan Message, b.buffer),
	}
	go sub.forward(b.log)
	context.AfterFunc(ctx, func() { sub.Close() })
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan Message
	once sync.Once
	err  error
}

func (s *redisSubscription) forward(log logrus.FieldLogger) {
	defer close(s.ch)
	for m := range s.ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			log.WithError(err).WithField("topic", m.Channel).Warn("discarding malformed event")
			continue
		}
		select {
		case s.ch <- msg:
		default:
			log.WithField("topic", m.Channel).Warn("subscriber buffer full, message dropped")
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() { s.err = s.ps.Close() })
	return s.err
}
