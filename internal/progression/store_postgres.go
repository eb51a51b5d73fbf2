package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

const progressionColumns = `user_id, course_id, last_viewed_subchapter, completed_subchapters,
	is_completed, is_archived, assigned_by, version, created_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progression store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, p Progression) (Progression, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if p.UserID == "" || p.CourseID == "" {
		return Progression{}, fmt.Errorf("user_id and course_id are required")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO course_progressions
		   (user_id, course_id, last_viewed_subchapter, completed_subchapters, is_completed, is_archived, assigned_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, course_id) DO NOTHING
		 RETURNING `+progressionColumns,
		p.UserID,
		p.CourseID,
		p.LastViewedSubchapter,
		toInt32s(p.CompletedSubchapters),
		p.IsCompleted,
		p.IsArchived,
		nullIfEmpty(p.AssignedBy),
	)
	created, err := scanProgression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Progression{}, fmt.Errorf("%w: user %s course %s", ErrAlreadyExists, p.UserID, p.CourseID)
	}
	if err != nil {
		return Progression{}, fmt.Errorf("create progression: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, courseID string) (Progression, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+progressionColumns+`
		 FROM course_progressions
		 WHERE user_id = $1 AND course_id = $2`,
		userID,
		courseID,
	)
	p, err := scanProgression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Progression{}, fmt.Errorf("%w: user %s course %s", ErrNotFound, userID, courseID)
	}
	if err != nil {
		return Progression{}, fmt.Errorf("get progression: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Progression, error) {
	return s.list(ctx,
		`SELECT `+progressionColumns+`
		 FROM course_progressions
		 WHERE user_id = $1
		 ORDER BY course_id ASC`,
		userID,
	)
}

func (s *PostgresStore) ListByCourse(ctx context.Context, courseID string) ([]Progression, error) {
	return s.list(ctx,
		`SELECT `+progressionColumns+`
		 FROM course_progressions
		 WHERE course_id = $1
		 ORDER BY user_id ASC`,
		courseID,
	)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Progression, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query progressions: %w", err)
	}
	defer rows.Close()

	out := []Progression{}
	for rows.Next() {
		p, err := scanProgression(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progression: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progressions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, p Progression) (Progression, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`UPDATE course_progressions
		 SET last_viewed_subchapter = $4,
		     completed_subchapters = $5,
		     is_completed = $6,
		     is_archived = $7,
		     assigned_by = $8,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE user_id = $1 AND course_id = $2 AND version = $3
		 RETURNING `+progressionColumns,
		p.UserID,
		p.CourseID,
		p.Version,
		p.LastViewedSubchapter,
		toInt32s(p.CompletedSubchapters),
		p.IsCompleted,
		p.IsArchived,
		nullIfEmpty(p.AssignedBy),
	)
	updated, err := scanProgression(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Progression{}, fmt.Errorf("update progression: %w", err)
	}

	// No row matched: either the record is gone or its version moved on.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM course_progressions WHERE user_id = $1 AND course_id = $2)`,
		p.UserID,
		p.CourseID,
	).Scan(&exists); err != nil {
		return Progression{}, fmt.Errorf("check progression: %w", err)
	}
	if !exists {
		return Progression{}, fmt.Errorf("%w: user %s course %s", ErrNotFound, p.UserID, p.CourseID)
	}
	return Progression{}, fmt.Errorf("%w: user %s course %s version %d", ErrVersionConflict, p.UserID, p.CourseID, p.Version)
}

func scanProgression(row pgx.Row) (Progression, error) {
	var p Progression
	var completed []int32
	var assignedBy *string
	if err := row.Scan(
		&p.UserID,
		&p.CourseID,
		&p.LastViewedSubchapter,
		&completed,
		&p.IsCompleted,
		&p.IsArchived,
		&assignedBy,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return Progression{}, err
	}
	p.CompletedSubchapters = make([]int, len(completed))
	for i, v := range completed {
		p.CompletedSubchapters[i] = int(v)
	}
	if assignedBy != nil {
		p.AssignedBy = *assignedBy
	}
	return p, nil
}

func toInt32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
