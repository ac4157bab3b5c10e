package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull         = errors.New("publish queue full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type publishJob struct {
	topic   string
	payload any
}

// Dispatcher decouples callers from the transport. Publish only enqueues;
// a single worker delivers in FIFO order with a per-message timeout.
type Dispatcher struct {
	next     Publisher
	queue    chan publishJob
	timeout  time.Duration
	log      logrus.FieldLogger
	stopChan chan struct{}
	done     chan struct{}

	// mu orders enqueues before the stop flag so drain sees every accepted job
	mu      sync.RWMutex
	stopped bool

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher in front of next
func NewDispatcher(next Publisher, queueSize int, timeout time.Duration, log logrus.FieldLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		next:     next,
		queue:    make(chan publishJob, queueSize),
		timeout:  timeout,
		log:      log,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Publish enqueues without blocking
func (d *Dispatcher) Publish(ctx context.Context, topic string, payload any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- publishJob{topic: topic, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the delivery loop until Stop is called
func (d *Dispatcher) Start() {
	defer close(d.done)
	d.log.WithField("queue_size", cap(d.queue)).Info("event dispatcher started")

	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		case <-d.stopChan:
			d.drain()
			d.log.Info("event dispatcher stopped")
			return
		}
	}
}

// Stop rejects new messages, flushes the queue and waits for the worker
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.stopChan)
	}
	d.mu.Unlock()
	<-d.done
}

// Stats returns the number of delivered and failed messages
func (d *Dispatcher) Stats() (delivered, failed int64) {
	return d.delivered.Load(), d.failed.Load()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(job publishJob) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.next.Publish(ctx, job.topic, job.payload); err != nil {
		d.failed.Add(1)
		d.log.WithError(err).WithField("topic", job.topic).Error("failed to publish event")
		return
	}
	d.delivered.Add(1)
}
