package messaging

import (
	"context"
	"fmt"
	"time"
)

// Message is one delivery handed to a Handler.
type Message struct {
	Topic string
	Key   string
	Data  []byte
}

// Handler processes a delivery. A nil return acknowledges it; an error leaves
// it unacknowledged so the broker delivers it again.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte) error
}

type Subscriber interface {
	// Subscribe joins the consumer group for topic. Every group gets each
	// message once; members of a group share the load.
	Subscribe(topic, group string, handler Handler) error
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

type Config struct {
	// nats | kafka | local
	Driver string

	NATSURL   string
	ClusterID string
	ClientID  string
	AckWait   time.Duration

	KafkaBrokers []string
	GroupPrefix  string

	// RedeliveryGap is the pause before a failed delivery is retried by
	// brokers that redeliver in-process (kafka, local).
	RedeliveryGap time.Duration
}

// New connects to the broker selected by cfg.Driver.
func New(cfg Config) (Broker, error) {
	switch cfg.Driver {
	case "nats", "":
		return NewNATSBroker(cfg)
	case "kafka":
		return NewKafkaBroker(cfg)
	case "local":
		b := NewLocalBroker(cfg.RedeliveryGap)
		b.Start(context.Background())
		return b, nil
	}
	return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
}
