package dues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/admissions-portal/portal/internal/shared"
)

// SettlementObserver receives the outcome of every persisted settlement.
type SettlementObserver interface {
	ObserveSettlement(operation string, applied bool, settled int)
}

// AuditRecorder keeps a trail of applied payments.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditEntity tags dues ledger rows in the audit trail.
const AuditEntity = "dues_ledger"

// Service applies settlement operations on behalf of an authenticated student.
// Each call loads the ledger, mutates it and writes it back as a whole. There is no
// locking between concurrent calls.
type Service struct {
	repo     Repository
	schedule ScheduleConfig
	logger   *slog.Logger
	observer SettlementObserver
	audit    AuditRecorder
	now      func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithObserver registers a settlement observer.
func WithObserver(o SettlementObserver) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithAudit records every settlement that marks months paid.
func WithAudit(a AuditRecorder) ServiceOption {
	return func(s *Service) { s.audit = a }
}

// NewService constructs a Service.
func NewService(repo Repository, schedule ScheduleConfig, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		schedule: schedule.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule returns the schedule configuration applied to new ledgers.
func (s *Service) Schedule() ScheduleConfig {
	return s.schedule
}

// OpenLedger creates the ledger for a newly approved student.
func (s *Service) OpenLedger(ctx context.Context, owner Owner) (*Ledger, error) {
	ledger, err := OpenLedger(owner, s.schedule, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, ledger); err != nil {
		return nil, err
	}
	s.logger.Info("dues ledger opened",
		slog.String("email", owner.Email),
		slog.Int("months", len(ledger.months)),
		slog.String("dues_from", ledger.duesFrom.Format(time.DateOnly)))
	return ledger, nil
}

// Ledger returns the caller's ledger.
func (s *Service) Ledger(ctx context.Context, p shared.Principal) (*Ledger, error) {
	email, err := principalEmail(p)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByEmail(ctx, email)
}

// SettleAllOutstanding pays every unpaid month of the caller's ledger.
func (s *Service) SettleAllOutstanding(ctx context.Context, p shared.Principal) (Settlement, error) {
	return s.apply(ctx, p, func(l *Ledger) (Settlement, error) {
		return l.SettleAllOutstanding(), nil
	})
}

// SettleThroughCurrentMonth pays every month ending on or before the end of the current month.
func (s *Service) SettleThroughCurrentMonth(ctx context.Context, p shared.Principal) (Settlement, error) {
	now := s.now()
	return s.apply(ctx, p, func(l *Ledger) (Settlement, error) {
		return l.SettleThroughCurrentMonth(now), nil
	})
}

// SettleThroughMonth pays every month ending on or before the end of target's month.
func (s *Service) SettleThroughMonth(ctx context.Context, p shared.Principal, target time.Time) (Settlement, error) {
	if target.IsZero() {
		return Settlement{}, fmt.Errorf("dues: target month required: %w", shared.ErrValidation)
	}
	return s.apply(ctx, p, func(l *Ledger) (Settlement, error) {
		return l.SettleThroughMonth(target), nil
	})
}

// SettleMonth pays a single month by identifier, enforcing chronological order.
// An unknown identifier fails before anything is written.
func (s *Service) SettleMonth(ctx context.Context, p shared.Principal, recordID string) (Settlement, error) {
	recordID = strings.TrimSpace(recordID)
	return s.apply(ctx, p, func(l *Ledger) (Settlement, error) {
		return l.SettleMonth(recordID)
	})
}

func (s *Service) apply(ctx context.Context, p shared.Principal, op func(*Ledger) (Settlement, error)) (Settlement, error) {
	ledger, err := s.Ledger(ctx, p)
	if err != nil {
		return Settlement{}, err
	}
	res, err := op(ledger)
	if err != nil {
		return Settlement{}, err
	}
	if err := s.repo.Save(ctx, ledger); err != nil {
		s.logger.Error("save dues ledger", slog.String("email", p.Email), slog.Any("error", err))
		return Settlement{}, err
	}
	if s.observer != nil {
		s.observer.ObserveSettlement(string(res.Operation), res.Applied, len(res.Settled))
	}
	if s.audit != nil && len(res.Settled) > 0 {
		entry := shared.AuditLog{
			ActorID:  p.UserID,
			Action:   "dues." + string(res.Operation),
			Entity:   AuditEntity,
			EntityID: ledger.ID(),
			Meta: map[string]any{
				"settled":   res.Settled,
				"dues_from": res.DuesFrom.Format(time.DateOnly),
			},
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("record dues audit", slog.String("ledger_id", ledger.ID()), slog.Any("error", err))
		}
	}
	s.logger.Info("dues settled",
		slog.String("email", p.Email),
		slog.String("operation", string(res.Operation)),
		slog.Bool("applied", res.Applied),
		slog.Int("settled", len(res.Settled)))
	return res, nil
}

// Reminder summarises what one student owes up to the current month.
type Reminder struct {
	Email     string
	MonthsDue int
	AmountDue int64
	Oldest    time.Time
}

// DueReminders lists students with unpaid months ending on or before the current month.
func (s *Service) DueReminders(ctx context.Context) ([]Reminder, error) {
	ledgers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []Reminder
	for _, l := range ledgers {
		overdue := l.Overdue(now)
		if len(overdue) == 0 {
			continue
		}
		r := Reminder{Email: l.owner.Email, MonthsDue: len(overdue), Oldest: overdue[0].EndDate}
		for _, m := range overdue {
			r.AmountDue += m.Amount
		}
		out = append(out, r)
	}
	return out, nil
}

func principalEmail(p shared.Principal) (string, error) {
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.Join(shared.ErrForbidden, errors.New("dues: principal has no email"))
	}
	return p.Email, nil
}
