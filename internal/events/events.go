package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/traderx-trade-processor/internal/models"
)

const (
	TypeTrade    = "trade"
	TypePosition = "position"
	TypeOther    = "event"
)

// Message is the envelope carried on every topic
type Message struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Published time.Time       `json:"published"`
}

// Publisher delivers a payload to every subscriber of topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Subscription streams messages until closed or its context ends
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Subscriber opens subscriptions on one or more topics
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}

// Bus is a transport that supports both directions
type Bus interface {
	Publisher
	Subscriber
}

// TradesTopic is where settled trades of an account are published
func TradesTopic(accountID int) string {
	return fmt.Sprintf("/accounts/%d/trades", accountID)
}

// PositionsTopic is where position updates of an account are published
func PositionsTopic(accountID int) string {
	return fmt.Sprintf("/accounts/%d/positions", accountID)
}

// NewMessage encodes payload into an envelope for topic
func NewMessage(topic string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Message{
		Topic:     topic,
		Type:      payloadType(payload),
		Payload:   data,
		Published: time.Now().UTC(),
	}, nil
}

func payloadType(payload any) string {
	switch payload.(type) {
	case models.Trade, *models.Trade:
		return TypeTrade
	case models.Position, *models.Position:
		return TypePosition
	default:
		return TypeOther
	}
}

// Noop discards everything published to it
type Noop struct{}

func (Noop) Publish(ctx context.Context, topic string, payload any) error {
	return nil
}
