package kafka

import (
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionFromString(t *testing.T) {
	tests := map[string]kafkago.Compression{
		"gzip":    kafkago.Gzip,
		"SNAPPY":  kafkago.Snappy,
		" lz4 ":   kafkago.Lz4,
		"zstd":    kafkago.Zstd,
		"none":    0,
		"unknown": kafkago.Snappy,
	}
	for name, want := range tests {
		assert.Equal(t, want, CompressionFromString(name), name)
	}
}

func TestNewMessageHeadersSorted(t *testing.T) {
	msg := newMessage([]byte("k"), []byte("v"), map[string]string{
		HeaderEventType: "ingestion.job.status",
		"attempt":       "1",
	})

	assert.Equal(t, []byte("k"), msg.Key)
	assert.Equal(t, []byte("v"), msg.Value)
	assert.False(t, msg.Time.IsZero())
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "attempt", msg.Headers[0].Key)
	assert.Equal(t, HeaderEventType, msg.Headers[1].Key)
	assert.Equal(t, []byte("ingestion.job.status"), msg.Headers[1].Value)
}

func TestProducerTopic(t *testing.T) {
	p := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "scormflow.jobs"})
	assert.Equal(t, "scormflow.jobs", p.Topic())
}
