package ingestion

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/scormflow/internal/jobs"
	"github.com/your-org/scormflow/internal/scorm/archive"
	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

// ErrInvalidUpload is returned for uploads rejected before anything is stored.
var ErrInvalidUpload = errors.New("invalid upload")

const zipContentType = "application/zip"

// UploadOptions captures metadata about the upload.
type UploadOptions struct {
	CourseID    string
	Filename    string
	ContentType string
	Metadata    map[string]string
}

type UploadResult struct {
	JobKey     string
	ObjectKey  string
	Checksum   string
	Size       int64
	UploadedAt time.Time
}

// ProcessUpload spools a package to scratch space while hashing it, records
// the job as QUEUED and stores the archive under the package prefix. The
// bucket notification for the stored object starts the actual ingestion.
func (s *Service) ProcessUpload(ctx context.Context, reader io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid file size: %d", ErrInvalidUpload, size)
	}
	courseID := strings.TrimSpace(opts.CourseID)
	if courseID == "" || strings.Contains(courseID, "/") {
		return nil, fmt.Errorf("%w: course_id is required and must not contain '/'", ErrInvalidUpload)
	}
	filename := path.Base(strings.ReplaceAll(opts.Filename, "\\", "/"))
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") || len(filename) == len(".zip") {
		return nil, fmt.Errorf("%w: a .zip file is required", ErrInvalidUpload)
	}

	wd, err := archive.NewWorkDir(s.scratchDir, "upload")
	if err != nil {
		return nil, err
	}
	defer wd.Release() //nolint:errcheck

	spooled := wd.Path(filename)
	checksum, err := spool(reader, size, spooled)
	if err != nil {
		return nil, err
	}

	uploadedAt := s.now()
	objectKey := fmt.Sprintf("%s%s/%s-%s", s.packagePrefix, courseID, strconv.FormatInt(uploadedAt.UnixMilli(), 10), filename)
	jobKey := jobs.Key(objectKey)

	if err := s.recorder.Queue(ctx, jobKey, jobs.KindSCORM, objectKey); err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}

	metadata := map[string]string{
		"original_filename": opts.Filename,
		"course_id":         courseID,
		"sha256":            checksum,
	}
	for k, v := range opts.Metadata {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	err = s.store.PutFile(ctx, objectKey, spooled, objectstore.PutOptions{
		ContentType: zipContentType,
		Metadata:    metadata,
	})
	if err != nil {
		if ferr := s.recorder.Fail(ctx, jobKey, err.Error()); ferr != nil {
			s.logger.Error("record upload failure", zap.String("job_key", jobKey), zap.Error(ferr))
		}
		return nil, fmt.Errorf("put object: %w", err)
	}

	s.logger.Info("package accepted",
		zap.String("job_key", jobKey),
		zap.String("storage_path", objectKey),
		zap.Int64("size_bytes", size),
	)

	return &UploadResult{
		JobKey:     jobKey,
		ObjectKey:  objectKey,
		Checksum:   checksum,
		Size:       size,
		UploadedAt: uploadedAt,
	}, nil
}

func spool(reader io.Reader, size int64, dst string) (string, error) {
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	buffered := bufio.NewReaderSize(io.TeeReader(reader, hasher), 64*1024)
	n, err := io.Copy(f, buffered)
	if err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}
	if n != size {
		return "", fmt.Errorf("%w: read %d bytes, expected %d", ErrInvalidUpload, n, size)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
