package dues

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultScheduleMonths is the length of a schedule created at approval.
	DefaultScheduleMonths = 12
	// DefaultMonthlyAmount is the amount due for each month.
	DefaultMonthlyAmount int64 = 1000
)

// ScheduleConfig describes the schedule generated for newly approved students.
type ScheduleConfig struct {
	Months int
	Amount int64
	// Anchor fixes the first obligation month. Zero means the approval month.
	Anchor time.Time
}

func (c ScheduleConfig) withDefaults() ScheduleConfig {
	if c.Months <= 0 {
		c.Months = DefaultScheduleMonths
	}
	if c.Amount <= 0 {
		c.Amount = DefaultMonthlyAmount
	}
	return c
}

// NewSchedule builds months unpaid records starting at anchor's month. Record i ends on
// the last day of the i-th month after the anchor.
func NewSchedule(anchor time.Time, months int, amount int64) ([]MonthRecord, error) {
	if months <= 0 {
		return nil, fmt.Errorf("%w: schedule length must be positive", ErrInvalidLedger)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidLedger)
	}
	y, m, _ := anchor.Date()
	records := make([]MonthRecord, months)
	for i := range records {
		records[i] = MonthRecord{
			ID:      uuid.NewString(),
			EndDate: time.Date(y, m+time.Month(i)+1, 0, 0, 0, 0, 0, time.UTC),
			Amount:  amount,
		}
	}
	return records, nil
}

// OpenLedger creates a fresh ledger for owner with the configured schedule.
func OpenLedger(owner Owner, cfg ScheduleConfig, now time.Time) (*Ledger, error) {
	cfg = cfg.withDefaults()
	anchor := cfg.Anchor
	if anchor.IsZero() {
		anchor = now
	}
	records, err := NewSchedule(anchor, cfg.Months, cfg.Amount)
	if err != nil {
		return nil, err
	}
	return NewLedger(uuid.NewString(), owner, records, monthStart(anchor))
}
