// Package kafka wraps kafka-go for the notification consumer and the job
// event producer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// HeaderEventType carries the event type so consumers can filter without
// decoding the payload.
const HeaderEventType = "event_type"

// Producer publishes keyed messages to one topic. Messages sharing a key
// land on the same partition.
type Producer struct {
	writer *kafkago.Writer
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
}

// NewProducer constructs a Producer from the given configuration.
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{writer: &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           cfg.RequiredAcks,
		Compression:            cfg.Compression,
		MaxAttempts:            cfg.MaxAttempts,
		AllowAutoTopicCreation: false,
	}}
}

// Topic returns the topic this producer writes to.
func (p *Producer) Topic() string {
	return p.writer.Topic
}

// Publish writes one message. Headers are attached in key order.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	if err := p.writer.WriteMessages(ctx, newMessage(key, value, headers)); err != nil {
		return fmt.Errorf("write to %s: %w", p.writer.Topic, err)
	}
	return nil
}

// PublishJSON marshals value and publishes it under key with eventType in
// the event_type header.
func (p *Producer) PublishJSON(ctx context.Context, key, eventType string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return p.Publish(ctx, []byte(key), payload, map[string]string{HeaderEventType: eventType})
}

// Close flushes pending batches and closes the writer.
func (p *Producer) Close(context.Context) error {
	return p.writer.Close()
}

func newMessage(key, value []byte, headers map[string]string) kafkago.Message {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	msg := kafkago.Message{Key: key, Value: value, Time: time.Now().UTC()}
	for _, k := range names {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}
	return msg
}

// CompressionFromString maps a codec name to its kafka-go value. Unknown
// names fall back to snappy; "none" disables compression.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none":
		return 0
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
