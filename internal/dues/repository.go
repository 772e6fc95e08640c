package dues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admissions-portal/portal/internal/platform/db"
	"github.com/admissions-portal/portal/internal/shared"
)

// Repository loads and stores whole ledgers keyed by owner email.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Ledger, error)
	Create(ctx context.Context, ledger *Ledger) error
	Save(ctx context.Context, ledger *Ledger) error
	List(ctx context.Context) ([]*Ledger, error)
}

// PGRepository stores one row per ledger with the schedule embedded as JSONB.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type storedMonth struct {
	ID      string `json:"id"`
	EndDate string `json:"endDate"`
	Amount  int64  `json:"amount"`
	Paid    bool   `json:"paid"`
}

const ledgerColumns = `id, student_id, email, monthly_data, dues_from, created_at, updated_at`

// FindByEmail fetches the ledger owned by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Ledger, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+ledgerColumns+` FROM dues_ledgers WHERE email = $1`, email)
	return scanLedger(row)
}

// List returns every ledger ordered by email.
func (r *PGRepository) List(ctx context.Context) ([]*Ledger, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+ledgerColumns+` FROM dues_ledgers ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("%w: list ledgers: %w", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []*Ledger
	for rows.Next() {
		ledger, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list ledgers: %w", shared.ErrStorage, err)
	}
	return out, nil
}

func scanLedger(row pgx.Row) (*Ledger, error) {
	var (
		id, studentID, owner string
		raw                  []byte
		duesFrom             time.Time
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &studentID, &owner, &raw, &duesFrom, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLedgerNotFound
		}
		return nil, fmt.Errorf("%w: load ledger: %w", shared.ErrStorage, err)
	}
	months, err := decodeMonths(raw)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(id, Owner{StudentID: studentID, Email: owner}, months, duesFrom)
	if err != nil {
		return nil, err
	}
	ledger.SetTimestamps(createdAt, updatedAt)
	return ledger, nil
}

// Create inserts a new ledger. A second ledger for the same email or student is a conflict.
func (r *PGRepository) Create(ctx context.Context, ledger *Ledger) error {
	raw, err := encodeMonths(ledger.months)
	if err != nil {
		return err
	}
	const query = `INSERT INTO dues_ledgers (id, student_id, email, monthly_data, dues_from, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING created_at, updated_at`
	var createdAt, updatedAt time.Time
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, ledger.id, ledger.owner.StudentID, ledger.owner.Email, string(raw), ledger.duesFrom).
		Scan(&createdAt, &updatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("dues: ledger for %s already exists: %w", ledger.owner.Email, shared.ErrConflict)
		}
		return fmt.Errorf("%w: create ledger: %w", shared.ErrStorage, err)
	}
	ledger.SetTimestamps(createdAt, updatedAt)
	return nil
}

// Save overwrites the stored schedule and frontier. Concurrent saves race; the last write wins.
func (r *PGRepository) Save(ctx context.Context, ledger *Ledger) error {
	raw, err := encodeMonths(ledger.months)
	if err != nil {
		return err
	}
	const query = `UPDATE dues_ledgers SET monthly_data = $2, dues_from = $3, updated_at = NOW()
WHERE email = $1 RETURNING updated_at`
	var updatedAt time.Time
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, ledger.owner.Email, string(raw), ledger.duesFrom).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLedgerNotFound
		}
		return fmt.Errorf("%w: save ledger: %w", shared.ErrStorage, err)
	}
	ledger.updatedAt = updatedAt
	return nil
}

func encodeMonths(months []MonthRecord) ([]byte, error) {
	docs := make([]storedMonth, len(months))
	for i, m := range months {
		docs[i] = storedMonth{ID: m.ID, EndDate: m.EndDate.Format(time.DateOnly), Amount: m.Amount, Paid: m.Paid}
	}
	return json.Marshal(docs)
}

func decodeMonths(raw []byte) ([]MonthRecord, error) {
	var docs []storedMonth
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode monthly data: %w", ErrInvalidLedger, err)
	}
	months := make([]MonthRecord, len(docs))
	for i, d := range docs {
		end, err := time.Parse(time.DateOnly, d.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: month %s end date: %w", ErrInvalidLedger, d.ID, err)
		}
		months[i] = MonthRecord{ID: d.ID, EndDate: end, Amount: d.Amount, Paid: d.Paid}
	}
	return months, nil
}

var _ Repository = (*PGRepository)(nil)
