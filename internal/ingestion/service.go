package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/scormflow/internal/events"
	"github.com/your-org/scormflow/internal/jobs"
	"github.com/your-org/scormflow/internal/scorm/archive"
	"github.com/your-org/scormflow/internal/scorm/course"
	"github.com/your-org/scormflow/internal/scorm/manifest"
	"github.com/your-org/scormflow/internal/scorm/publish"
	"github.com/your-org/scormflow/internal/scorm/structure"
	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

const tracerName = "github.com/your-org/scormflow/internal/ingestion"

// ErrUnexpectedFailure covers panics and failures outside the known taxonomy.
var ErrUnexpectedFailure = errors.New("unexpected failure")

// Stage is a step of one ingestion run.
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageDownloading  Stage = "DOWNLOADING"
	StageExtracting   Stage = "EXTRACTING"
	StageParsing      Stage = "PARSING"
	StageSynthesizing Stage = "SYNTHESIZING"
	StagePublishing   Stage = "PUBLISHING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// Service runs the SCORM ingestion pipeline for uploaded packages and
// accepts new packages over HTTP.
type Service struct {
	store     objectstore.Client
	recorder  *jobs.Recorder
	publisher *publish.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer

	packagePrefix string
	extractPrefix string
	publicBaseURL string
	scratchDir    string
	now           func() time.Time
}

type Params struct {
	Store     objectstore.Client
	Recorder  *jobs.Recorder
	Publisher *publish.Publisher
	Logger    *zap.Logger

	PackagePrefix string
	ExtractPrefix string
	PublicBaseURL string
	ScratchDir    string
}

// NewService constructs an ingestion Service.
func NewService(p Params) *Service {
	return &Service{
		store:         p.Store,
		recorder:      p.Recorder,
		publisher:     p.Publisher,
		logger:        p.Logger,
		tracer:        otel.Tracer(tracerName),
		packagePrefix: p.PackagePrefix,
		extractPrefix: strings.TrimRight(p.ExtractPrefix, "/"),
		publicBaseURL: p.PublicBaseURL,
		scratchDir:    p.ScratchDir,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PackageRef is what the pipeline derives from an upload path of the form
// {prefix}{courseId}/{file}.zip.
type PackageRef struct {
	StoragePath string
	CourseID    string
	PackageID   string
	JobKey      string
}

// ParsePackagePath validates an upload path of the form
// {prefix}{courseId}/.../{file} and derives its identifiers. The course is
// the first segment after the prefix; the package id is the file name
// without its .zip suffix. Whether the object is a zip is decided by
// Accepts from the event, not from the path.
func (s *Service) ParsePackagePath(objectPath string) (PackageRef, bool) {
	rest, ok := strings.CutPrefix(objectPath, s.packagePrefix)
	if !ok {
		return PackageRef{}, false
	}
	parts := strings.Split(strings.TrimPrefix(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		return PackageRef{}, false
	}
	file := parts[len(parts)-1]
	packageID := file
	if strings.HasSuffix(strings.ToLower(file), ".zip") {
		packageID = file[:len(file)-len(".zip")]
	}
	if packageID == "" {
		return PackageRef{}, false
	}
	return PackageRef{
		StoragePath: objectPath,
		CourseID:    parts[0],
		PackageID:   packageID,
		JobKey:      jobs.Key(objectPath),
	}, true
}

func (s *Service) Name() string { return "scorm" }

// Accepts reports whether ev is a zip, by content type or extension, under
// the package prefix. Everything else in the bucket is ignored.
func (s *Service) Accepts(ev events.UploadEvent) bool {
	if !ev.IsZip() {
		return false
	}
	_, ok := s.ParsePackagePath(ev.ObjectPath)
	return ok
}

// Handle runs one ingestion end to end. Failures are recorded on the job
// exactly once and returned; the run is never retried here.
func (s *Service) Handle(ctx context.Context, ev events.UploadEvent) error {
	ref, ok := s.ParsePackagePath(ev.ObjectPath)
	if !ok {
		return nil
	}
	// a run always reaches DONE or FAILED once started
	ctx = context.WithoutCancel(ctx)

	ctx, span := s.tracer.Start(ctx, "scorm.ingest", trace.WithAttributes(
		attribute.String("scorm.storage_path", ref.StoragePath),
		attribute.String("scorm.course_id", ref.CourseID),
		attribute.String("scorm.package_id", ref.PackageID),
	))
	defer span.End()

	logger := s.logger.With(
		zap.String("job_key", ref.JobKey),
		zap.String("storage_path", ref.StoragePath),
		zap.String("package_id", ref.PackageID),
	)
	logger.Debug("stage", zap.String("stage", string(StageReceived)))

	if err := s.recorder.Create(ctx, ref.JobKey, jobs.KindSCORM, ref.StoragePath); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create job: %w", err)
	}

	started := s.now()
	result, stage, err := s.run(ctx, ref, logger)
	if err != nil {
		logger.Error("ingestion failed",
			zap.String("stage", string(stage)),
			zap.String("failure", Classify(err)),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, Classify(err))
		if ferr := s.recorder.Fail(ctx, ref.JobKey, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	if err := s.recorder.Complete(ctx, ref.JobKey, result.structure, ref.PackageID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("complete job: %w", err)
	}

	modules, lessons, blocks := result.structure.Counts()
	logger.Info("ingestion complete",
		zap.String("stage", string(StageDone)),
		zap.String("strategy", result.strategy),
		zap.Int("modules", modules),
		zap.Int("lessons", lessons),
		zap.Int("blocks", blocks),
		zap.Int("assets", result.assets),
		zap.Duration("duration", s.now().Sub(started)),
	)
	return nil
}

type runResult struct {
	structure course.Structure
	strategy  string
	assets    int
}

// run executes every stage inside a working directory that is removed on
// return, panics included.
func (s *Service) run(ctx context.Context, ref PackageRef, logger *zap.Logger) (res runResult, stage Stage, err error) {
	stage = StageReceived
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnexpectedFailure, r)
		}
	}()

	wd, err := archive.NewWorkDir(s.scratchDir, ref.PackageID)
	if err != nil {
		return res, stage, fmt.Errorf("%w: %v", ErrUnexpectedFailure, err)
	}
	defer func() {
		if rerr := wd.Release(); rerr != nil {
			logger.Warn("release working directory", zap.String("dir", wd.Root), zap.Error(rerr))
		}
	}()

	zipPath := wd.Path("package.zip")
	stage = StageDownloading
	err = s.stage(ctx, logger, stage, func(ctx context.Context) error {
		if err := s.store.Download(ctx, ref.StoragePath, zipPath); err != nil {
			return fmt.Errorf("download package: %w", err)
		}
		return nil
	})
	if err != nil {
		return res, stage, err
	}

	extracted := wd.Path("extracted")
	stage = StageExtracting
	err = s.stage(ctx, logger, stage, func(context.Context) error {
		n, err := archive.ExtractFile(zipPath, extracted)
		logger.Debug("extracted package", zap.Int("files", n))
		return err
	})
	if err != nil {
		return res, stage, err
	}

	var m *manifest.Manifest
	stage = StageParsing
	err = s.stage(ctx, logger, stage, func(context.Context) error {
		loaded, err := manifest.Load(extracted)
		m = loaded
		return err
	})
	if err != nil {
		return res, stage, err
	}

	prefix := s.extractPrefix + "/" + ref.CourseID + "/" + ref.PackageID
	strategy := structure.Select(m, extracted, structure.Target{
		PackageID:     ref.PackageID,
		StoragePath:   ref.StoragePath,
		Prefix:        prefix,
		PublicBaseURL: s.publicBaseURL,
	})
	res.strategy = strategy.Name()

	// Synthesis reads the extracted tree while the publisher uploads it. The
	// group waits for both so uploads are never abandoned mid-flight.
	var (
		g        errgroup.Group
		synthErr error
		pubErr   error
	)
	g.Go(func() error {
		synthErr = guard(func() error {
			return s.stage(ctx, logger, StageSynthesizing, func(context.Context) error {
				var err error
				res.structure, err = strategy.Synthesize()
				return err
			})
		})
		return nil
	})
	g.Go(func() error {
		pubErr = guard(func() error {
			return s.stage(ctx, logger, StagePublishing, func(ctx context.Context) error {
				out, err := s.publisher.Publish(ctx, extracted, prefix)
				res.assets = out.Files
				return err
			})
		})
		return nil
	})
	_ = g.Wait()

	if synthErr != nil {
		return res, StageSynthesizing, synthErr
	}
	if pubErr != nil {
		return res, StagePublishing, pubErr
	}
	return res, StageDone, nil
}

func (s *Service) stage(ctx context.Context, logger *zap.Logger, stage Stage, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "scorm."+strings.ToLower(string(stage)))
	defer span.End()

	logger.Debug("stage", zap.String("stage", string(stage)))
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// guard turns a panic in fn into ErrUnexpectedFailure.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnexpectedFailure, r)
		}
	}()
	return fn()
}

// Classify names the failure class of err for logs and span status.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, archive.ErrCorruptArchive):
		return "CorruptArchive"
	case errors.Is(err, archive.ErrExtraction):
		return "ExtractionFailure"
	case errors.Is(err, manifest.ErrNotFound):
		return "ManifestNotFound"
	case errors.Is(err, manifest.ErrMalformed):
		return "ManifestMalformed"
	case errors.Is(err, manifest.ErrNoOrganization):
		return "NoOrganization"
	case errors.Is(err, publish.ErrPublishFailure):
		return "PublishFailure"
	default:
		return "UnexpectedFailure"
	}
}

// Close releases underlying resources.
func (s *Service) Close() error {
	return s.store.Close()
}
