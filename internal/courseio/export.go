package courseio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/your-org/scormflow/internal/scorm/archive"
	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

// Exporter packages course documents and hands out short-lived download links.
type Exporter struct {
	store      objectstore.Client
	prefix     string
	expiry     time.Duration
	scratchDir string
	logger     *zap.Logger
	now        func() time.Time
}

type ExporterParams struct {
	Store      objectstore.Client
	Prefix     string
	Expiry     time.Duration
	ScratchDir string
	Logger     *zap.Logger
}

type ExportResult struct {
	ObjectKey   string    `json:"objectKey"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func NewExporter(p ExporterParams) *Exporter {
	return &Exporter{
		store:      p.Store,
		prefix:     strings.TrimRight(p.Prefix, "/"),
		expiry:     p.Expiry,
		scratchDir: p.ScratchDir,
		logger:     p.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Export writes courseData as course.json next to an empty assets/ folder,
// uploads the bundle and returns a presigned GET URL.
func (e *Exporter) Export(ctx context.Context, courseID string, courseData json.RawMessage) (ExportResult, error) {
	if courseID == "" || strings.Contains(courseID, "/") || len(bytes.TrimSpace(courseData)) == 0 {
		return ExportResult{}, fmt.Errorf("%w: courseId and courseData are required", ErrInvalidCourse)
	}
	var doc Document
	if err := json.Unmarshal(courseData, &doc); err != nil {
		return ExportResult{}, fmt.Errorf("%w: %v", ErrInvalidCourse, err)
	}
	title := doc.Title()
	if title == "" {
		return ExportResult{}, fmt.Errorf("%w: metadata.title is required", ErrInvalidCourse)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, courseData, "", "  "); err != nil {
		return ExportResult{}, fmt.Errorf("%w: %v", ErrInvalidCourse, err)
	}

	wd, err := archive.NewWorkDir(e.scratchDir, "export-"+courseID)
	if err != nil {
		return ExportResult{}, err
	}
	defer wd.Release() //nolint:errcheck

	zipPath := wd.Path(courseID + ".zip")
	if err := writeBundle(zipPath, indented.Bytes()); err != nil {
		return ExportResult{}, err
	}

	now := e.now()
	key := fmt.Sprintf("%s/%s/%s-%s.zip", e.prefix, courseID, strconv.FormatInt(now.UnixMilli(), 10), dashed(title))
	if err := e.store.PutFile(ctx, key, zipPath, objectstore.PutOptions{ContentType: "application/zip"}); err != nil {
		return ExportResult{}, fmt.Errorf("upload export: %w", err)
	}

	url, err := e.store.PresignGet(ctx, key, e.expiry)
	if err != nil {
		return ExportResult{}, fmt.Errorf("presign export: %w", err)
	}

	e.logger.Info("course exported", zap.String("course_id", courseID), zap.String("object_key", key))
	return ExportResult{ObjectKey: key, DownloadURL: url, ExpiresAt: now.Add(e.expiry)}, nil
}

func writeBundle(path string, courseJSON []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(CourseFile)
	if err != nil {
		return fmt.Errorf("add %s: %w", CourseFile, err)
	}
	if _, err := w.Write(courseJSON); err != nil {
		return fmt.Errorf("write %s: %w", CourseFile, err)
	}
	if _, err := zw.Create("assets/"); err != nil {
		return fmt.Errorf("add assets dir: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}
	return f.Close()
}

// dashed replaces whitespace and path separators with '-'.
func dashed(title string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '-'
		}
		return r
	}, title)
}
