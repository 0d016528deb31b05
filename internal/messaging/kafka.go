package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBroker publishes keyed messages and consumes with consumer groups.
// Offsets are committed only after the handler succeeded, so a crash replays
// the uncommitted tail.
type KafkaBroker struct {
	brokers       []string
	groupPrefix   string
	redeliveryGap time.Duration
	writer        *kafka.Writer

	mu      sync.Mutex
	readers []*kafka.Reader
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
}

func NewKafkaBroker(cfg Config) (*KafkaBroker, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka broker requires at least one broker address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	gap := cfg.RedeliveryGap
	if gap <= 0 {
		gap = time.Second
	}

	slog.Info("Using Kafka broker", "brokers", cfg.KafkaBrokers, "group_prefix", cfg.GroupPrefix)

	return &KafkaBroker{
		brokers:       cfg.KafkaBrokers,
		groupPrefix:   cfg.GroupPrefix,
		redeliveryGap: gap,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Publish writes the message keyed by key, so one saga stays on one partition.
func (b *KafkaBroker) Publish(ctx context.Context, topic, key string, data []byte) error {
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(topic, group string, handler Handler) error {
	groupID := group
	if b.groupPrefix != "" {
		groupID = b.groupPrefix + "-" + group
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(reader, topic, handler)

	slog.Info("Subscribed to topic", "topic", topic, "group", groupID)
	return nil
}

func (b *KafkaBroker) consume(reader *kafka.Reader, topic string, handler Handler) {
	defer b.wg.Done()

	for {
		m, err := reader.FetchMessage(b.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			slog.Error("Failed to fetch message", "topic", topic, "error", err)
			if !b.sleep(b.redeliveryGap) {
				return
			}
			continue
		}

		msg := Message{Topic: m.Topic, Key: string(m.Key), Data: m.Value}
		for attempt := 1; ; attempt++ {
			err := handler(b.ctx, msg)
			if err == nil {
				break
			}
			slog.Error("Message handling failed, redelivering",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "attempt", attempt, "error", err)
			if !b.sleep(b.redeliveryGap) {
				return
			}
		}

		if err := reader.CommitMessages(b.ctx, m); err != nil {
			slog.Error("Failed to commit offset", "topic", m.Topic, "offset", m.Offset, "error", err)
		}
	}
}

func (b *KafkaBroker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-b.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *KafkaBroker) Close() error {
	b.cancel()

	b.mu.Lock()
	readers := b.readers
	b.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()

	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
