// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// ChannelBus implements EventBus using Go channels.
// Used by the standalone profile.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish sends a message to a topic.
func (b *ChannelBus) Publish(ctx context.Context, dataset string, topic string, payload []byte) error {
	return b.publish(dataset, topic, payload, nil)
}

func (b *ChannelBus) publish(dataset, topic string, payload []byte, meta map[string]string) error {
	if dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	if meta == nil {
		meta = make(map[string]string)
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Dataset:   dataset,
		Topic:     topic,
		Payload:   payload,
		Metadata:  meta,
		Timestamp: time.Now().UnixNano(),
	}

	// Hold the read lock while sending so Close cannot race a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	label := metricTopic(topic)
	metrics.RecordBusMessage("channel", label, metrics.BusPublished)

	// Send to all matching subscribers (non-blocking)
	for _, sub := range b.subscriptions[makeKey(dataset, topic)] {
		select {
		case sub.msgCh <- msg:
		default:
			// Channel full, skip this message for this subscriber
			metrics.RecordBusMessage("channel", label, metrics.BusDropped)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, dataset string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	key := makeKey(dataset, topic)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		key:     key,
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	go sub.run()

	b.subscriptions[key] = append(b.subscriptions[key], sub)

	return sub, nil
}

// run processes messages for a subscription until it is cancelled.
func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			outcome := metrics.BusDelivered
			if err := s.handler(s.ctx, msg); err != nil {
				outcome = metrics.BusFailed
			}
			metrics.RecordBusMessage("channel", metricTopic(s.topic), outcome)
		}
	}
}

// Request publishes payload with a private reply topic and waits for the
// first reply sent through Reply.
func (b *ChannelBus) Request(ctx context.Context, dataset string, topic string, payload []byte) ([]byte, error) {
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, dataset, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.publish(dataset, topic, payload, map[string]string{MetaReplyTo: replyTopic}); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Further operations fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}

	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func makeKey(dataset, topic string) string {
	return dataset + ":" + topic
}

// Unsubscribe stops receiving messages and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscriptions[s.key]
	for i, other := range subs {
		if other.id == s.id {
			b.subscriptions[s.key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[s.key]) == 0 {
		delete(b.subscriptions, s.key)
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
