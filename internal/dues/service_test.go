package dues

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admissions-portal/portal/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	ledgers map[string]*Ledger
	saves   int
	saveErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{ledgers: map[string]*Ledger{}}
}

func clone(l *Ledger) *Ledger {
	c := *l
	c.months = l.Months()
	return &c
}

func (r *memoryRepo) FindByEmail(_ context.Context, email string) (*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[email]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return clone(l), nil
}

func (r *memoryRepo) Create(_ context.Context, l *Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[l.owner.Email]; ok {
		return shared.ErrConflict
	}
	r.ledgers[l.owner.Email] = clone(l)
	return nil
}

func (r *memoryRepo) Save(_ context.Context, l *Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.ledgers[l.owner.Email]; !ok {
		return ErrLedgerNotFound
	}
	r.saves++
	r.ledgers[l.owner.Email] = clone(l)
	return nil
}

func (r *memoryRepo) List(context.Context) ([]*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Ledger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		out = append(out, clone(l))
	}
	return out, nil
}

type observation struct {
	op      string
	applied bool
	settled int
}

type recordingObserver struct{ seen []observation }

func (o *recordingObserver) ObserveSettlement(op string, applied bool, settled int) {
	o.seen = append(o.seen, observation{op, applied, settled})
}

var ana = shared.Principal{UserID: 1, Email: "ana@example.com", Role: shared.RoleStudent}

func newTestService(t *testing.T, now time.Time) (*Service, *memoryRepo, *recordingObserver) {
	t.Helper()
	repo := newMemoryRepo()
	obs := &recordingObserver{}
	svc := NewService(repo, ScheduleConfig{Months: 3, Amount: 1000, Anchor: date(2023, time.January, 1)}, nil,
		WithClock(func() time.Time { return now }), WithObserver(obs))
	_, err := svc.OpenLedger(context.Background(), Owner{StudentID: "s-1", Email: ana.Email})
	require.NoError(t, err)
	return svc, repo, obs
}

func TestServiceSettleMonthPersists(t *testing.T) {
	svc, repo, obs := newTestService(t, date(2023, time.February, 10))
	ctx := context.Background()

	ledger, err := svc.Ledger(ctx, ana)
	require.NoError(t, err)
	months := ledger.Months()

	res, err := svc.SettleMonth(ctx, ana, months[1].ID)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 1, repo.saves, "refused payments are still written back")

	res, err = svc.SettleMonth(ctx, ana, " "+months[0].ID+" ")
	require.NoError(t, err)
	assert.True(t, res.Applied)

	stored, err := svc.Ledger(ctx, ana)
	require.NoError(t, err)
	assert.True(t, stored.Months()[0].Paid)
	assert.Equal(t, date(2023, time.February, 1), stored.DuesFrom())
	assert.Equal(t, []observation{
		{op: string(OpSettleMonth), applied: false, settled: 0},
		{op: string(OpSettleMonth), applied: true, settled: 1},
	}, obs.seen)
}

func TestServiceSettleMonthUnknownSkipsSave(t *testing.T) {
	svc, repo, obs := newTestService(t, date(2023, time.February, 10))

	_, err := svc.SettleMonth(context.Background(), ana, "missing")
	assert.ErrorIs(t, err, ErrMonthNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Zero(t, repo.saves)
	assert.Empty(t, obs.seen)
}

func TestServiceBulkOperations(t *testing.T) {
	svc, _, _ := newTestService(t, date(2023, time.February, 10))
	ctx := context.Background()

	res, err := svc.SettleThroughCurrentMonth(ctx, ana)
	require.NoError(t, err)
	assert.Len(t, res.Settled, 2)

	res, err = svc.SettleThroughMonth(ctx, ana, date(2023, time.March, 1))
	require.NoError(t, err)
	assert.Len(t, res.Settled, 1)

	res, err = svc.SettleAllOutstanding(ctx, ana)
	require.NoError(t, err)
	assert.Empty(t, res.Settled)

	ledger, err := svc.Ledger(ctx, ana)
	require.NoError(t, err)
	assert.Zero(t, ledger.Outstanding())
	assert.Equal(t, date(2023, time.January, 1), ledger.DuesFrom())
}

func TestServiceSettleThroughMonthNeedsTarget(t *testing.T) {
	svc, _, _ := newTestService(t, date(2023, time.February, 10))
	_, err := svc.SettleThroughMonth(context.Background(), ana, time.Time{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceMissingLedger(t *testing.T) {
	svc, _, _ := newTestService(t, date(2023, time.February, 10))
	ghost := shared.Principal{UserID: 2, Email: "ghost@example.com", Role: shared.RoleStudent}

	_, err := svc.SettleAllOutstanding(context.Background(), ghost)
	assert.ErrorIs(t, err, ErrLedgerNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceRequiresEmail(t *testing.T) {
	svc, _, _ := newTestService(t, date(2023, time.February, 10))
	_, err := svc.Ledger(context.Background(), shared.Principal{UserID: 3, Role: shared.RoleStudent})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestServiceStorageFailure(t *testing.T) {
	svc, repo, obs := newTestService(t, date(2023, time.February, 10))
	repo.saveErr = errors.Join(shared.ErrStorage, errors.New("connection reset"))

	_, err := svc.SettleAllOutstanding(context.Background(), ana)
	assert.ErrorIs(t, err, shared.ErrStorage)
	assert.Empty(t, obs.seen)
}

func TestServiceOpenLedgerTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestService(t, date(2023, time.February, 10))
	_, err := svc.OpenLedger(context.Background(), Owner{StudentID: "s-1", Email: ana.Email})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestServiceDueReminders(t *testing.T) {
	svc, _, _ := newTestService(t, date(2023, time.February, 10))
	ctx := context.Background()
	_, err := svc.OpenLedger(ctx, Owner{StudentID: "s-2", Email: "bea@example.com"})
	require.NoError(t, err)

	bea := shared.Principal{UserID: 2, Email: "bea@example.com", Role: shared.RoleStudent}
	_, err = svc.SettleThroughCurrentMonth(ctx, bea)
	require.NoError(t, err)

	reminders, err := svc.DueReminders(ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, Reminder{Email: ana.Email, MonthsDue: 2, AmountDue: 2000, Oldest: date(2023, time.January, 31)}, reminders[0])
}

type recordingAudit struct {
	entries []shared.AuditLog
	err     error
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func TestServiceAuditsSettlementsThatPayMonths(t *testing.T) {
	ctx := context.Background()
	audit := &recordingAudit{err: errors.New("audit table missing")}
	svc := NewService(newMemoryRepo(), ScheduleConfig{Months: 3, Amount: 1000, Anchor: date(2023, time.January, 1)}, nil,
		WithClock(func() time.Time { return date(2023, time.February, 10) }), WithAudit(audit))
	ledger, err := svc.OpenLedger(ctx, Owner{StudentID: "s-1", Email: ana.Email})
	require.NoError(t, err)
	months := ledger.Months()

	res, err := svc.SettleMonth(ctx, ana, months[2].ID)
	require.NoError(t, err)
	require.False(t, res.Applied)
	assert.Empty(t, audit.entries)

	_, err = svc.SettleThroughCurrentMonth(ctx, ana)
	require.NoError(t, err, "audit failures do not undo a saved payment")
	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, "dues."+string(OpSettleCurrentMonth), entry.Action)
	assert.Equal(t, AuditEntity, entry.Entity)
	assert.Equal(t, ledger.ID(), entry.EntityID)
	assert.Equal(t, ana.UserID, entry.ActorID)
	assert.Equal(t, []string{months[0].ID, months[1].ID}, entry.Meta["settled"])
}
