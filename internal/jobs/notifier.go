package jobs

import (
	"context"
	"time"
)

// EventType is the kafka event_type header for job transitions.
const EventType = "ingestion.job.status"

// Event announces a status transition. The full course structure stays in
// the job record; consumers poll for it.
type Event struct {
	JobKey      string    `json:"job_key"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	StoragePath string    `json:"storage_path"`
	PackageID   string    `json:"package_id,omitempty"`
	CourseID    string    `json:"course_id,omitempty"`
	Modules     int       `json:"modules"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func newEvent(job Job) Event {
	return Event{
		JobKey:      job.Key,
		Kind:        job.Kind,
		Status:      job.Status,
		StoragePath: job.StoragePath,
		PackageID:   job.PackageID,
		CourseID:    job.CourseID,
		Modules:     len(job.CourseStructure),
		Error:       job.Error,
		Timestamp:   job.Timestamp,
	}
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, key, eventType string, value any) error
}

// Notifier publishes job transitions.
type Notifier interface {
	Notify(ctx context.Context, job Job) error
}

// KafkaNotifier publishes one Event per transition keyed by job key, so all
// transitions of a job land on the same partition.
type KafkaNotifier struct {
	publisher Publisher
}

func NewKafkaNotifier(p Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: p}
}

func (n *KafkaNotifier) Notify(ctx context.Context, job Job) error {
	return n.publisher.PublishJSON(ctx, job.Key, EventType, newEvent(job))
}
