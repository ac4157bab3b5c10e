package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderx-trade-processor/internal/models"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "/accounts/22214/trades", TradesTopic(22214))
	assert.Equal(t, "/accounts/22214/positions", PositionsTopic(22214))
}

func TestNewMessage_Type(t *testing.T) {
	msg, err := NewMessage("t", &models.Trade{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, TypeTrade, msg.Type)

	msg, err = NewMessage("t", models.Position{AccountID: 1})
	require.NoError(t, err)
	assert.Equal(t, TypePosition, msg.Type)

	msg, err = NewMessage("t", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, TypeOther, msg.Type)

	_, err = NewMessage("t", make(chan int))
	assert.Error(t, err)
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(8, testLogger())
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, TradesTopic(1))
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, TradesTopic(1), PositionsTopic(1))
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TradesTopic(2))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TradesTopic(1), &models.Trade{ID: "t-1", AccountID: 1}))
	require.NoError(t, b.Publish(ctx, PositionsTopic(1), &models.Position{AccountID: 1, Security: "AAPL", Quantity: 5}))

	msg := receive(t, s1)
	assert.Equal(t, TypeTrade, msg.Type)
	var trade models.Trade
	require.NoError(t, json.Unmarshal(msg.Payload, &trade))
	assert.Equal(t, "t-1", trade.ID)

	assert.Equal(t, TypeTrade, receive(t, s2).Type)
	assert.Equal(t, TypePosition, receive(t, s2).Type)

	select {
	case <-other.Messages():
		t.Fatal("account 2 must not see account 1 events")
	default:
	}
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewBroker(1, testLogger())
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "topic", i))
	}
	assert.Len(t, sub.Messages(), 1)
}

func TestBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroker(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)
	b.mu.RLock()
	assert.Len(t, b.topics["topic"], 1)
	b.mu.RUnlock()

	cancel()
	assert.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.topics) == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.NoError(t, sub.Close())
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
	block  chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &recordingPublisher{}
	d := NewDispatcher(rec, 16, time.Second, testLogger())
	go d.Start()

	for _, topic := range []string{"a", "b", "c"} {
		require.NoError(t, d.Publish(context.Background(), topic, topic))
	}
	d.Stop()

	assert.Equal(t, []string{"a", "b", "c"}, rec.published())
	delivered, failed := d.Stats()
	assert.Equal(t, int64(3), delivered)
	assert.Zero(t, failed)

	assert.ErrorIs(t, d.Publish(context.Background(), "d", "d"), ErrDispatcherStopped)
}

func TestDispatcher_QueueFull(t *testing.T) {
	rec := &recordingPublisher{block: make(chan struct{})}
	d := NewDispatcher(rec, 1, time.Second, testLogger())
	go d.Start()

	// first job is picked up by the worker and blocks, second fills the queue
	require.NoError(t, d.Publish(context.Background(), "first", nil))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Publish(context.Background(), "second", nil))

	assert.ErrorIs(t, d.Publish(context.Background(), "third", nil), ErrQueueFull)

	close(rec.block)
	d.Stop()
	assert.Equal(t, []string{"first", "second"}, rec.published())
}

func TestDispatcher_TransportErrorsAreCounted(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("connection refused")}
	d := NewDispatcher(rec, 4, time.Second, testLogger())
	go d.Start()

	require.NoError(t, d.Publish(context.Background(), "a", nil))
	d.Stop()

	delivered, failed := d.Stats()
	assert.Zero(t, delivered)
	assert.Equal(t, int64(1), failed)
}

func TestRedisBus_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	bus := NewRedisBus(client, 8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, PositionsTopic(22214))
	require.NoError(t, err)
	defer sub.Close()

	pos := &models.Position{AccountID: 22214, Security: "AAPL", Quantity: 100}
	require.NoError(t, bus.Publish(ctx, PositionsTopic(22214), pos))

	msg := receive(t, sub)
	assert.Equal(t, PositionsTopic(22214), msg.Topic)
	assert.Equal(t, TypePosition, msg.Type)
	var got models.Position
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, 100, got.Quantity)
}

func TestDispatcher_StopDeliversEveryAcceptedMessage(t *testing.T) {
	for round := 0; round < 20; round++ {
		rec := &recordingPublisher{}
		d := NewDispatcher(rec, 1024, time.Second, testLogger())
		go d.Start()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if err := d.Publish(context.Background(), "topic", j); err == nil {
						mu.Lock()
						accepted++
						mu.Unlock()
					} else {
						assert.ErrorIs(t, err, ErrDispatcherStopped)
					}
				}
			}()
		}
		time.Sleep(time.Millisecond)
		d.Stop()
		wg.Wait()

		delivered, failed := d.Stats()
		assert.Zero(t, failed)
		assert.Equal(t, int64(accepted), delivered)
		assert.Len(t, rec.published(), accepted)
	}
}
