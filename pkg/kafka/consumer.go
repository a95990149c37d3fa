package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// MessageHandler processes one fetched message. Returning an error stops the
// consume loop without committing the message.
type MessageHandler func(ctx context.Context, msg kafkago.Message) error

// Consumer reads a topic as part of a consumer group and commits each
// message after its handler returns.
type Consumer struct {
	reader *kafkago.Reader
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// NewConsumer constructs a Consumer from the given configuration.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = 500 * time.Millisecond
	}
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        maxWait,
			StartOffset:    kafkago.LastOffset,
			CommitInterval: 0,
		}),
	}
}

// Run fetches messages until ctx is cancelled. A cancelled context ends the
// loop with a nil error.
func (c *Consumer) Run(ctx context.Context, handle MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := handle(ctx, msg); err != nil {
			return fmt.Errorf("handle message at offset %d: %w", msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
