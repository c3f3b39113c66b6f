package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
// All methods are scoped to a dataset.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, dataset string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, dataset string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, dataset string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Dataset   string            `json:"dataset"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type" validate:"oneof=channel nats"`

	// Channel settings
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds
}

// Standard topic names.
const (
	TopicAnalysisRequested = "kestrel.analysis.requested"
	TopicAnalysisCompleted = "kestrel.analysis.completed"
	TopicLedgerRefreshed   = "kestrel.ledger.refreshed"
)
