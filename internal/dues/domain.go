// Package dues keeps each approved student's monthly tuition schedule and the rules
// for settling it.
package dues

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/admissions-portal/portal/internal/shared"
)

var (
	// ErrLedgerNotFound is returned when no ledger exists for an email.
	ErrLedgerNotFound = fmt.Errorf("dues: ledger %w", shared.ErrNotFound)
	// ErrMonthNotFound is returned when a record identifier is not in the schedule.
	ErrMonthNotFound = fmt.Errorf("dues: month record %w", shared.ErrNotFound)
	// ErrInvalidLedger is returned when a ledger fails construction checks.
	ErrInvalidLedger = errors.New("dues: invalid ledger")
)

// MonthRecord is one month's obligation within a ledger.
type MonthRecord struct {
	ID      string    `json:"id"`
	EndDate time.Time `json:"end_date"`
	Amount  int64     `json:"amount"`
	Paid    bool      `json:"paid"`
}

// Owner identifies the student a ledger belongs to.
type Owner struct {
	StudentID string
	Email     string
}

// Ledger is the ordered monthly schedule of one student.
//
// The schedule is fixed at construction: records are never reordered, added or removed,
// and a paid record never becomes unpaid.
type Ledger struct {
	id        string
	owner     Owner
	months    []MonthRecord
	duesFrom  time.Time
	createdAt time.Time
	updatedAt time.Time
}

// NewLedger validates the schedule and returns a Ledger. It is used both for new
// ledgers and for rows restored from storage.
func NewLedger(id string, owner Owner, months []MonthRecord, duesFrom time.Time) (*Ledger, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id required", ErrInvalidLedger)
	}
	if strings.TrimSpace(owner.Email) == "" {
		return nil, fmt.Errorf("%w: owner email required", ErrInvalidLedger)
	}
	if len(months) == 0 {
		return nil, fmt.Errorf("%w: empty schedule", ErrInvalidLedger)
	}
	seen := make(map[string]struct{}, len(months))
	records := make([]MonthRecord, len(months))
	for i, m := range months {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: month %d has no id", ErrInvalidLedger, i)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate month id %s", ErrInvalidLedger, m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Amount <= 0 {
			return nil, fmt.Errorf("%w: month %s amount must be positive", ErrInvalidLedger, m.ID)
		}
		end := dateOf(m.EndDate)
		if !end.Equal(monthEnd(end)) {
			return nil, fmt.Errorf("%w: month %s end date %s is not a month end", ErrInvalidLedger, m.ID, end.Format(time.DateOnly))
		}
		if i > 0 && !end.After(records[i-1].EndDate) {
			return nil, fmt.Errorf("%w: month %s out of chronological order", ErrInvalidLedger, m.ID)
		}
		m.EndDate = end
		records[i] = m
	}
	return &Ledger{
		id:       id,
		owner:    owner,
		months:   records,
		duesFrom: dateOf(duesFrom),
	}, nil
}

// ID returns the ledger identifier.
func (l *Ledger) ID() string { return l.id }

// Owner returns the student the ledger belongs to.
func (l *Ledger) Owner() Owner { return l.owner }

// DuesFrom returns the settlement frontier.
func (l *Ledger) DuesFrom() time.Time { return l.duesFrom }

// CreatedAt returns when the ledger was first stored.
func (l *Ledger) CreatedAt() time.Time { return l.createdAt }

// UpdatedAt returns when the ledger was last stored.
func (l *Ledger) UpdatedAt() time.Time { return l.updatedAt }

// Months returns a copy of the schedule in chronological order.
func (l *Ledger) Months() []MonthRecord {
	out := make([]MonthRecord, len(l.months))
	copy(out, l.months)
	return out
}

// Outstanding sums the amounts of unpaid records.
func (l *Ledger) Outstanding() int64 {
	var total int64
	for _, m := range l.months {
		if !m.Paid {
			total += m.Amount
		}
	}
	return total
}

// Overdue returns unpaid records ending on or before the end of now's month.
func (l *Ledger) Overdue(now time.Time) []MonthRecord {
	boundary := monthEnd(now)
	var out []MonthRecord
	for _, m := range l.months {
		if !m.Paid && !m.EndDate.After(boundary) {
			out = append(out, m)
		}
	}
	return out
}

// PaidCount counts paid records.
func (l *Ledger) PaidCount() int {
	n := 0
	for _, m := range l.months {
		if m.Paid {
			n++
		}
	}
	return n
}

// SetTimestamps is used by repositories when restoring rows.
func (l *Ledger) SetTimestamps(created, updated time.Time) {
	l.createdAt = created
	l.updatedAt = updated
}

// dateOf truncates t to a UTC calendar date, keeping t's own year, month and day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// monthEnd returns the last calendar day of t's month.
func monthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// nextMonthStart returns the first day of the month following t's month.
func nextMonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// monthStart returns the first day of t's month.
func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
