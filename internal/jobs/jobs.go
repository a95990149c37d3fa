// Package jobs records ingestion status so polling clients can follow an
// upload from QUEUED to READY or ERROR.
package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/your-org/scormflow/internal/scorm/course"
)

// ErrNotFound is returned by stores for unknown job keys.
var ErrNotFound = errors.New("job not found")

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Kind tells which pipeline owns a job.
type Kind string

const (
	KindSCORM        Kind = "scorm"
	KindCourseImport Kind = "course_import"
)

// Job is the status record read by polling clients.
type Job struct {
	Key             string           `json:"jobKey"`
	Kind            Kind             `json:"kind"`
	Status          Status           `json:"status"`
	StoragePath     string           `json:"storagePath"`
	PackageID       string           `json:"packageId,omitempty"`
	CourseID        string           `json:"courseId,omitempty"`
	CourseStructure course.Structure `json:"courseStructure,omitzero"`
	Error           string           `json:"error,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Key derives the job key from an upload path. Clients that know the path
// compute the same key.
func Key(storagePath string) string {
	return strings.ReplaceAll(storagePath, "/", "_")
}

// Store persists job records. Save replaces the whole record.
type Store interface {
	Save(ctx context.Context, job Job) error
	Get(ctx context.Context, key string) (Job, error)
}
