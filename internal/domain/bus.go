package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Backed by Go channels in a single process or NATS across nodes.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// MetaReplyTo carries the reply address of a request message.
const MetaReplyTo = "reply_to"

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
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
	Type string `mapstructure:"type"`

	// Channel settings
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names.
const (
	TopicDetection   = "harrier.detection"
	TopicFraudReport = "harrier.report"
	TopicRuleChanged = "harrier.rule.changed"
	TopicModelScore  = "harrier.model.score"
)

// DetectionEvent is published for every emitted verdict.
type DetectionEvent struct {
	Transaction *Transaction     `json:"transaction"`
	Result      *DetectionResult `json:"result"`
}

// RuleChangeEvent is published after every rule store mutation.
type RuleChangeEvent struct {
	Version uint64 `json:"version"`
	Action  string `json:"action"`
	RuleID  string `json:"rule_id,omitempty"`
}
