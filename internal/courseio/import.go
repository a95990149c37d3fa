package courseio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/scormflow/internal/events"
	"github.com/your-org/scormflow/internal/jobs"
	"github.com/your-org/scormflow/internal/scorm/archive"
	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

// Importer turns bundles uploaded under the import prefix into draft
// courses. Its job records are keyed by the import id, the path segment
// right after the prefix.
type Importer struct {
	store      objectstore.Client
	courses    Store
	recorder   *jobs.Recorder
	prefix     string
	scratchDir string
	logger     *zap.Logger
	now        func() time.Time
}

type ImporterParams struct {
	Store      objectstore.Client
	Courses    Store
	Recorder   *jobs.Recorder
	Prefix     string
	ScratchDir string
	Logger     *zap.Logger
}

func NewImporter(p ImporterParams) *Importer {
	return &Importer{
		store:      p.Store,
		courses:    p.Courses,
		recorder:   p.Recorder,
		prefix:     p.Prefix,
		scratchDir: p.ScratchDir,
		logger:     p.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (i *Importer) Name() string { return "course-import" }

// ImportID returns the import id of objectPath, or false when the path is
// not an import bundle.
func (i *Importer) ImportID(objectPath string) (string, bool) {
	rest, ok := strings.CutPrefix(objectPath, i.prefix)
	if !ok {
		return "", false
	}
	id, file, ok := strings.Cut(rest, "/")
	if !ok || id == "" || file == "" {
		return "", false
	}
	return id, true
}

// Accepts takes every object under the import prefix. A bundle that is not
// a zip fails its import job instead of being skipped.
func (i *Importer) Accepts(ev events.UploadEvent) bool {
	_, ok := i.ImportID(ev.ObjectPath)
	return ok
}

// Handle imports one bundle. The outcome lands on the import job; the error
// is also returned for the trigger to log.
func (i *Importer) Handle(ctx context.Context, ev events.UploadEvent) error {
	importID, ok := i.ImportID(ev.ObjectPath)
	if !ok {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	logger := i.logger.With(zap.String("job_key", importID), zap.String("storage_path", ev.ObjectPath))

	if err := i.recorder.Create(ctx, importID, jobs.KindCourseImport, ev.ObjectPath); err != nil {
		return fmt.Errorf("create import job: %w", err)
	}

	courseID, err := i.importBundle(ctx, ev.ObjectPath)
	if err != nil {
		logger.Error("course import failed", zap.Error(err))
		if ferr := i.recorder.Fail(ctx, importID, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	if err := i.recorder.CompleteImport(ctx, importID, courseID); err != nil {
		return fmt.Errorf("complete import job: %w", err)
	}
	logger.Info("course imported", zap.String("course_id", courseID))
	return nil
}

func (i *Importer) importBundle(ctx context.Context, objectPath string) (courseID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("import panic: %v", r)
		}
	}()

	wd, err := archive.NewWorkDir(i.scratchDir, "import")
	if err != nil {
		return "", err
	}
	defer wd.Release() //nolint:errcheck

	zipPath := wd.Path("bundle.zip")
	if err := i.store.Download(ctx, objectPath, zipPath); err != nil {
		return "", fmt.Errorf("download bundle: %w", err)
	}
	extracted := wd.Path("extracted")
	if _, err := archive.ExtractFile(zipPath, extracted); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(wd.Path("extracted", CourseFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrCourseJSONMissing
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", CourseFile, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode %s: %w", CourseFile, err)
	}

	c := Course{
		ID:        NewCourseID(),
		Metadata:  doc.Metadata,
		Modules:   doc.Modules,
		Status:    StatusDraft,
		CreatedBy: CreatedByImported,
		CreatedAt: i.now(),
	}
	if err := i.courses.Create(ctx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}
