package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetaReplyTo carries the topic a Request expects its reply on.
const MetaReplyTo = "reply_to"

// New creates a new event bus based on configuration.
// "channel" returns an in-process ChannelBus, "nats" a NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a message published by Request. Messages without a reply
// topic are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	to := msg.Metadata[MetaReplyTo]
	if to == "" {
		return nil
	}
	return b.Publish(ctx, msg.Dataset, to, payload)
}

// metricTopic collapses per-request reply topics into one label.
func metricTopic(topic string) string {
	if strings.HasPrefix(topic, natsReplyPrefix) || strings.Contains(topic, ".reply.") {
		return "reply"
	}
	return topic
}
