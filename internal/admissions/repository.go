package admissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admissions-portal/portal/internal/platform/db"
	"github.com/admissions-portal/portal/internal/shared"
)

// Repository persists applications.
type Repository interface {
	Create(ctx context.Context, s *Student) error
	FindByID(ctx context.Context, id uuid.UUID) (*Student, error)
	FindByUserID(ctx context.Context, userID int64) (*Student, error)
	List(ctx context.Context, filter ListFilter) ([]Student, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const studentColumns = `id, user_id, name, email, father_name, date_of_birth, gender, address, contact_number, status, created_at, updated_at`

// Create inserts a pending application.
func (r *PGRepository) Create(ctx context.Context, s *Student) error {
	const query = `INSERT INTO students (id, user_id, name, email, father_name, date_of_birth, gender, address, contact_number, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
RETURNING created_at, updated_at`
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query,
		s.ID, s.UserID, s.Name, s.Email, s.FatherName, s.DateOfBirth, s.Gender, s.Address, s.ContactNumber, string(s.Status),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyApplied
		}
		return fmt.Errorf("%w: create student: %w", shared.ErrStorage, err)
	}
	return nil
}

// FindByID fetches an application by id.
func (r *PGRepository) FindByID(ctx context.Context, id uuid.UUID) (*Student, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	return scanStudent(row)
}

// FindByUserID fetches the application owned by a user account.
func (r *PGRepository) FindByUserID(ctx context.Context, userID int64) (*Student, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE user_id = $1`, userID)
	return scanStudent(row)
}

// List returns applications newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Student, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var status any
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+studentColumns+` FROM students
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, status, limit, max(filter.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: list students: %w", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list students: %w", shared.ErrStorage, err)
	}
	return out, nil
}

// CountByStatus counts applications in a status.
func (r *PGRepository) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE status = $1`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count students: %w", shared.ErrStorage, err)
	}
	return n, nil
}

// UpdateStatus moves an application from one status to another. It fails with
// ErrInvalidTransition when the stored status is no longer from.
func (r *PGRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE students SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("%w: update student status: %w", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, id, from)
	}
	return nil
}

func scanStudent(row pgx.Row) (*Student, error) {
	var (
		s      Student
		status string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Email, &s.FatherName, &s.DateOfBirth, &s.Gender, &s.Address, &s.ContactNumber, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("%w: scan student: %w", shared.ErrStorage, err)
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	s.Status = parsed
	return &s, nil
}

var _ Repository = (*PGRepository)(nil)
