package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
)

// NATSBroker delivers through NATS Streaming durable queue subscriptions
// with manual acknowledgement.
type NATSBroker struct {
	conn    stan.Conn
	ackWait time.Duration
	subs    []stan.Subscription
}

func NewNATSBroker(cfg Config) (*NATSBroker, error) {
	// Client ids must be unique per connection in the cluster.
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8])

	conn, err := stan.Connect(cfg.ClusterID, clientID,
		stan.NatsURL(cfg.NATSURL),
		stan.SetConnectionLostHandler(func(_ stan.Conn, reason error) {
			slog.Error("NATS Streaming connection lost", "error", reason)
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	slog.Info("Connected to NATS Streaming", "url", cfg.NATSURL, "cluster", cfg.ClusterID, "client", clientID)

	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	return &NATSBroker{conn: conn, ackWait: ackWait}, nil
}

// Publish blocks until the streaming server acknowledged the message. The key
// is not used: NATS Streaming keeps per-channel order.
func (b *NATSBroker) Publish(_ context.Context, topic, _ string, data []byte) error {
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(topic, group string, handler Handler) error {
	sub, err := b.conn.QueueSubscribe(topic, group, func(m *stan.Msg) {
		msg := Message{Topic: m.Subject, Data: m.Data}
		if err := handler(context.Background(), msg); err != nil {
			slog.Error("Message handling failed, leaving unacknowledged",
				"subject", m.Subject, "sequence", m.Sequence, "redelivered", m.Redelivered, "error", err)
			return
		}
		if err := m.Ack(); err != nil {
			slog.Error("Failed to acknowledge message", "subject", m.Subject, "sequence", m.Sequence, "error", err)
		}
	},
		stan.DurableName(topic+"-"+group+"-durable"),
		stan.SetManualAckMode(),
		stan.AckWait(b.ackWait),
		stan.MaxInflight(1))
	if err != nil {
		return fmt.Errorf("failed to queue subscribe to subject %s: %w", topic, err)
	}

	b.subs = append(b.subs, sub)
	slog.Info("Subscribed to subject", "subject", topic, "queue", group)
	return nil
}

func (b *NATSBroker) Close() error {
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil {
			slog.Warn("Failed to close subscription", "error", err)
		}
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
