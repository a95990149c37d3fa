package ingestion

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/your-org/scormflow/pkg/kafka"
)

// Trigger feeds bucket notifications into the dispatcher until ctx ends.
type Trigger interface {
	Name() string
	Run(ctx context.Context) error
}

// RawDispatcher is satisfied by *events.Dispatcher.
type RawDispatcher interface {
	DispatchRaw(ctx context.Context, raw []byte) error
}

// KafkaTrigger consumes MinIO/S3 bucket notifications from a Kafka topic.
// Failed runs are logged and the message is still committed; failures are
// already on the job record and are not retried.
type KafkaTrigger struct {
	consumer   *kafka.Consumer
	dispatcher RawDispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewKafkaTrigger(consumer *kafka.Consumer, dispatcher RawDispatcher, logger *zap.Logger) *KafkaTrigger {
	return &KafkaTrigger{
		consumer:   consumer,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
}

func (t *KafkaTrigger) Name() string { return "kafka" }

func (t *KafkaTrigger) Run(ctx context.Context) error {
	defer t.consumer.Close() //nolint:errcheck
	return t.consumer.Run(ctx, t.handle)
}

func (t *KafkaTrigger) handle(ctx context.Context, msg kafkago.Message) error {
	ctx, span := t.tracer.Start(ctx, "kafka.notification", trace.WithAttributes(
		attribute.String("messaging.kafka.topic", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()

	if err := t.dispatcher.DispatchRaw(ctx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warn("notification handling failed",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
	return nil
}

// GCSFinalize is the Pub/Sub eventType attribute of a finished GCS upload.
const GCSFinalize = "OBJECT_FINALIZE"

// PubSubTrigger receives GCS object notifications from a Pub/Sub
// subscription. Every message is acked once handled.
type PubSubTrigger struct {
	client     *pubsub.Client
	sub        *pubsub.Subscription
	dispatcher RawDispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

type PubSubConfig struct {
	ProjectID       string
	SubscriptionID  string
	CredentialsFile string
}

func NewPubSubTrigger(ctx context.Context, cfg PubSubConfig, dispatcher RawDispatcher, logger *zap.Logger) (*PubSubTrigger, error) {
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, errors.New("GCP_PROJECT_ID and GCP_SUBSCRIPTION_ID are required for the gcp trigger")
	}

	// ADC covers GCE and Cloud Run when no key file is given
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &PubSubTrigger{
		client:     client,
		sub:        client.Subscription(cfg.SubscriptionID),
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

func (t *PubSubTrigger) Name() string { return "gcp" }

func (t *PubSubTrigger) Run(ctx context.Context) error {
	defer func() {
		if err := t.client.Close(); err != nil {
			t.logger.Error("close pubsub client", zap.Error(err))
		}
	}()

	err := t.sub.Receive(ctx, t.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func (t *PubSubTrigger) handle(ctx context.Context, msg *pubsub.Message) {
	defer msg.Ack()

	if et := msg.Attributes["eventType"]; et != "" && et != GCSFinalize {
		return
	}

	ctx, span := t.tracer.Start(ctx, "pubsub.notification", trace.WithAttributes(
		attribute.String("message_id", msg.ID),
	))
	defer span.End()

	if err := t.dispatcher.DispatchRaw(ctx, msg.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warn("notification handling failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}
