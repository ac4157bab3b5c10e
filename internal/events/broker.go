package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultSubscriberBuffer = 64

// Broker is an in-process fan-out bus. A subscriber whose buffer is full
// misses the message instead of blocking the publisher.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*brokerSubscription]struct{}
	buffer int
	log    logrus.FieldLogger
}

// NewBroker creates a broker whose subscriptions buffer up to buffer messages
func NewBroker(buffer int, log logrus.FieldLogger) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{
		topics: make(map[string]map[*brokerSubscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			b.log.WithField("topic", topic).Warn("subscriber buffer full, message dropped")
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &brokerSubscription{
		broker: b,
		topics: topics,
		ch:     make(chan Message, b.buffer),
	}

	b.mu.Lock()
	for _, t := range topics {
		if b.topics[t] == nil {
			b.topics[t] = make(map[*brokerSubscription]struct{})
		}
		b.topics[t][sub] = struct{}{}
	}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { sub.Close() })
	return sub, nil
}

func (b *Broker) remove(sub *brokerSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range sub.topics {
		delete(b.topics[t], sub)
		if len(b.topics[t]) == 0 {
			delete(b.topics, t)
		}
	}
	close(sub.ch)
}

type brokerSubscription struct {
	broker *Broker
	topics []string
	ch     chan Message
	once   sync.Once
}

func (s *brokerSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *brokerSubscription) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}
