// Package courseio moves authored courses in and out of the platform as ZIP
// bundles holding a course.json document.
package courseio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CourseFile is the document at the root of every course bundle.
const CourseFile = "course.json"

const (
	StatusDraft       = "draft"
	CreatedByImported = "imported"
)

var (
	ErrInvalidCourse  = errors.New("invalid course")
	ErrCourseNotFound = errors.New("course not found")
	// ErrCourseJSONMissing is recorded on import jobs whose bundle lacks course.json.
	ErrCourseJSONMissing = errors.New(CourseFile + " not found in ZIP")
)

// Document is the subset of course.json the platform interprets. Both parts
// are kept as raw JSON so authoring fields survive a round trip untouched.
type Document struct {
	Metadata json.RawMessage `json:"metadata"`
	Modules  json.RawMessage `json:"modules"`
}

// Title returns metadata.title, or "" when absent.
func (d Document) Title() string {
	var meta struct {
		Title string `json:"title"`
	}
	if len(d.Metadata) == 0 || json.Unmarshal(d.Metadata, &meta) != nil {
		return ""
	}
	return meta.Title
}

// Course is a stored course record.
type Course struct {
	ID        string          `json:"id"`
	Metadata  json.RawMessage `json:"metadata"`
	Modules   json.RawMessage `json:"modules"`
	Status    string          `json:"status"`
	CreatedBy string          `json:"createdBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewCourseID() string { return "course_" + uuid.NewString() }

// Store persists courses.
type Store interface {
	Create(ctx context.Context, c Course) error
	Get(ctx context.Context, id string) (Course, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	courses map[string]Course
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{courses: make(map[string]Course)}
}

func (m *MemoryStore) Create(_ context.Context, c Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

// Len returns the number of stored courses.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.courses)
}
