package courseio

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps courses in the courses table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, c Course) error {
	metadata := []byte(c.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	modules := []byte(c.Modules)
	if len(modules) == 0 {
		modules = []byte("[]")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO courses (id, metadata, modules, status, created_by, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, metadata, modules, c.Status, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert course %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Course, error) {
	var (
		c                 Course
		metadata, modules []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, metadata, modules, status, created_by, created_at FROM courses WHERE id = $1`, id,
	).Scan(&c.ID, &metadata, &modules, &c.Status, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Course{}, ErrCourseNotFound
	}
	if err != nil {
		return Course{}, fmt.Errorf("get course %s: %w", id, err)
	}
	c.Metadata = metadata
	c.Modules = modules
	return c, nil
}
