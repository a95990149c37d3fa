package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const upsertJobSQL = `
INSERT INTO ingestion_jobs (job_key, kind, status, storage_path, package_id, course_id, course_structure, error, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''), $9)
ON CONFLICT (job_key) DO UPDATE SET
    kind = EXCLUDED.kind,
    status = EXCLUDED.status,
    storage_path = EXCLUDED.storage_path,
    package_id = EXCLUDED.package_id,
    course_id = EXCLUDED.course_id,
    course_structure = EXCLUDED.course_structure,
    error = EXCLUDED.error,
    updated_at = EXCLUDED.updated_at`

const getJobSQL = `
SELECT job_key, kind, status, storage_path, COALESCE(package_id, ''), COALESCE(course_id, ''),
       course_structure, COALESCE(error, ''), updated_at
FROM ingestion_jobs
WHERE job_key = $1`

// PostgresStore keeps job records in the ingestion_jobs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, job Job) error {
	var structure []byte
	if job.CourseStructure != nil {
		var err error
		if structure, err = json.Marshal(job.CourseStructure); err != nil {
			return fmt.Errorf("marshal course structure: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, upsertJobSQL,
		job.Key, string(job.Kind), string(job.Status), job.StoragePath,
		job.PackageID, job.CourseID, structure, job.Error, job.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.Key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Job, error) {
	var (
		job       Job
		kind      string
		status    string
		structure []byte
	)
	err := s.pool.QueryRow(ctx, getJobSQL, key).Scan(
		&job.Key, &kind, &status, &job.StoragePath, &job.PackageID, &job.CourseID,
		&structure, &job.Error, &job.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", key, err)
	}

	job.Kind = Kind(kind)
	job.Status = Status(status)
	if structure != nil {
		if err := json.Unmarshal(structure, &job.CourseStructure); err != nil {
			return Job{}, fmt.Errorf("decode course structure: %w", err)
		}
	}
	return job, nil
}
