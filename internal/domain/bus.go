package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (community) or NATS (pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

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
	Type string `json:"type" yaml:"type"`

	// Channel settings (community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds
}

// Topic names used between the API, the corpus generator and the worker.
const (
	TopicTimelineIngested = "kestrel.timeline.ingested"
	TopicCorpusGenerated  = "kestrel.corpus.generated"
	TopicAssessment       = "kestrel.assessment"
	TopicAlert            = "kestrel.alert"
)

// TimelineIngested is the payload of TopicTimelineIngested.
type TimelineIngested struct {
	UserID  string `json:"userId"`
	Events  int    `json:"events"`
	TraceID string `json:"traceId,omitempty"`
	// AsOf is the reference time for extraction; zero means the time of processing.
	AsOf time.Time `json:"asOf,omitzero"`
}

// CorpusGenerated is the payload of TopicCorpusGenerated.
type CorpusGenerated struct {
	Seed          int64          `json:"seed"`
	Users         int            `json:"users"`
	Interactions  int            `json:"interactions"`
	FraudAccounts int            `json:"fraudAccounts"`
	PatternCounts map[string]int `json:"patternCounts"`
}
