package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/scormflow/internal/courseio"
	"github.com/your-org/scormflow/internal/events"
	"github.com/your-org/scormflow/internal/ingestion"
	"github.com/your-org/scormflow/internal/jobs"
	"github.com/your-org/scormflow/internal/scorm/publish"
	"github.com/your-org/scormflow/pkg/config"
	"github.com/your-org/scormflow/pkg/kafka"
	"github.com/your-org/scormflow/pkg/logger"
	"github.com/your-org/scormflow/pkg/postgres"
	"github.com/your-org/scormflow/pkg/storage/objectstore"
	"github.com/your-org/scormflow/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.Name, cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	store, err := objectstore.New(objectstore.Config{
		Provider:      cfg.Storage.Provider,
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.Bucket,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	jobStore, courseStore, pool, err := openStores(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("init stores", zap.Error(err))
	}
	if pool != nil {
		defer pool.Close()
	}
	cachedJobs := jobs.NewCachedStore(jobStore, cfg.Database.CacheTTL)
	go cachedJobs.Start()
	defer cachedJobs.Stop()

	var notifier jobs.Notifier
	if cfg.Kafka.JobsTopic != "" {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.JobsTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
		defer producer.Close(context.Background()) //nolint:errcheck
		notifier = jobs.NewKafkaNotifier(producer)
	}

	recorder := jobs.NewRecorder(jobs.RecorderParams{
		Store:    cachedJobs,
		Notifier: notifier,
		Logger:   logr,
	})

	service := ingestion.NewService(ingestion.Params{
		Store:    store,
		Recorder: recorder,
		Publisher: publish.NewPublisher(publish.Params{
			Uploader:     store,
			Concurrency:  cfg.Pipeline.UploadConcurrency,
			CacheControl: cfg.Pipeline.CacheControl,
		}),
		Logger:        logr,
		PackagePrefix: cfg.Pipeline.PackagePrefix,
		ExtractPrefix: cfg.Pipeline.ExtractPrefix,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		ScratchDir:    cfg.Pipeline.ScratchDir,
	})

	importer := courseio.NewImporter(courseio.ImporterParams{
		Store:      store,
		Courses:    courseStore,
		Recorder:   recorder,
		Prefix:     cfg.Pipeline.ImportPrefix,
		ScratchDir: cfg.Pipeline.ScratchDir,
		Logger:     logr,
	})
	exporter := courseio.NewExporter(courseio.ExporterParams{
		Store:      store,
		Prefix:     cfg.Pipeline.ExportPrefix,
		Expiry:     cfg.Pipeline.ExportURLExpiry,
		ScratchDir: cfg.Pipeline.ScratchDir,
		Logger:     logr,
	})

	dispatcher := events.NewDispatcher(logr, service, importer)

	trigger, err := newTrigger(ctx, cfg, dispatcher, logr)
	if err != nil {
		logr.Fatal("init trigger", zap.Error(err))
	}

	handler := ingestion.NewHTTPHandler(ingestion.HTTPParams{
		Service:      service,
		Jobs:         recorder,
		Dispatcher:   dispatcher,
		Exporter:     exporter,
		Logger:       logr,
		MaxSizeBytes: cfg.Upload.MaxSizeBytes,
		FormMemBytes: cfg.Upload.MultipartMemBytes,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("ingestion service starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("trigger", cfg.Trigger.Source),
			zap.String("jobs_store", cfg.Database.JobsStore),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if trigger != nil {
		g.Go(func() error {
			return trigger.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		handler.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logr.Error("ingestion service stopped", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (jobs.Store, courseio.Store, *pgxpool.Pool, error) {
	switch cfg.Database.JobsStore {
	case "memory":
		logr.Warn("using in-memory job and course stores")
		return jobs.NewMemoryStore(), courseio.NewMemoryStore(), nil, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := postgres.MigrateUp(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
		}
		return jobs.NewPostgresStore(pool), courseio.NewPostgresStore(pool), pool, nil
	default:
		return nil, nil, nil, errors.New("unsupported JOBS_STORE: " + cfg.Database.JobsStore)
	}
}

func newTrigger(ctx context.Context, cfg *config.Config, dispatcher *events.Dispatcher, logr *zap.Logger) (ingestion.Trigger, error) {
	switch cfg.Trigger.Source {
	case "kafka":
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.NotificationTopic,
			GroupID: cfg.Kafka.ConsumerGroup,
			MaxWait: cfg.Kafka.MaxWait,
		})
		return ingestion.NewKafkaTrigger(consumer, dispatcher, logr), nil
	case "gcp":
		trigger, err := ingestion.NewPubSubTrigger(ctx, ingestion.PubSubConfig{
			ProjectID:       cfg.Trigger.GCPProjectID,
			SubscriptionID:  cfg.Trigger.GCPSubscription,
			CredentialsFile: cfg.Trigger.GCPCredentials,
		}, dispatcher, logr)
		if err != nil {
			return nil, err
		}
		return trigger, nil
	case "webhook":
		return nil, nil
	default:
		return nil, errors.New("unsupported TRIGGER_SOURCE: " + cfg.Trigger.Source)
	}
}
