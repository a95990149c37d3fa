package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/scormflow/internal/scorm/course"
)

// Recorder writes job transitions. Each write replaces the record, so the
// last writer wins; concurrent runs on one key are not coordinated.
type Recorder struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type RecorderParams struct {
	Store Store
	// Notifier is optional.
	Notifier Notifier
	Logger   *zap.Logger
}

func NewRecorder(p RecorderParams) *Recorder {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:    p.Store,
		notifier: p.Notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the current record for key.
func (r *Recorder) Get(ctx context.Context, key string) (Job, error) {
	return r.store.Get(ctx, key)
}

// Queue records an accepted upload before its object is stored.
func (r *Recorder) Queue(ctx context.Context, key string, kind Kind, storagePath string) error {
	return r.write(ctx, Job{Key: key, Kind: kind, Status: StatusQueued, StoragePath: storagePath})
}

// Create marks the start of a run.
func (r *Recorder) Create(ctx context.Context, key string, kind Kind, storagePath string) error {
	return r.write(ctx, Job{Key: key, Kind: kind, Status: StatusProcessing, StoragePath: storagePath})
}

// Complete stores the synthesized structure. A nil structure is stored as
// an empty one so READY records always carry courseStructure.
func (r *Recorder) Complete(ctx context.Context, key string, structure course.Structure, packageID string) error {
	if structure == nil {
		structure = course.Structure{}
	}
	job, err := r.current(ctx, key, KindSCORM)
	if err != nil {
		return err
	}
	job.Status = StatusReady
	job.PackageID = packageID
	job.CourseStructure = structure
	job.Error = ""
	return r.write(ctx, job)
}

// CompleteImport marks an import run ready with the id of the created course.
func (r *Recorder) CompleteImport(ctx context.Context, key, courseID string) error {
	job, err := r.current(ctx, key, KindCourseImport)
	if err != nil {
		return err
	}
	job.Status = StatusReady
	job.CourseID = courseID
	job.CourseStructure = nil
	job.Error = ""
	return r.write(ctx, job)
}

// Fail records message verbatim and drops any structure.
func (r *Recorder) Fail(ctx context.Context, key, message string) error {
	job, err := r.current(ctx, key, "")
	if err != nil {
		return err
	}
	job.Status = StatusError
	job.CourseStructure = nil
	job.Error = message
	return r.write(ctx, job)
}

func (r *Recorder) current(ctx context.Context, key string, kind Kind) (Job, error) {
	job, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Job{Key: key, Kind: kind}, nil
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", key, err)
	}
	return job, nil
}

func (r *Recorder) write(ctx context.Context, job Job) error {
	job.Timestamp = r.now()
	if err := r.store.Save(ctx, job); err != nil {
		return fmt.Errorf("record %s for %s: %w", job.Status, job.Key, err)
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, job); err != nil {
			r.logger.Warn("job notification failed",
				zap.String("job_key", job.Key),
				zap.String("status", string(job.Status)),
				zap.Error(err),
			)
		}
	}
	return nil
}
