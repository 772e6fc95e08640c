package admissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/admissions-portal/portal/internal/dues"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/jobs"
)

// ApprovalModule tags admission decisions in the approvals log.
const ApprovalModule = "admissions"

// LedgerOpener creates the dues ledger of a newly accepted student.
type LedgerOpener interface {
	OpenLedger(ctx context.Context, owner dues.Owner) (*dues.Ledger, error)
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DecisionLog records and lists application decisions.
type DecisionLog interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Mailer queues notification e-mails.
type Mailer interface {
	SendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// Service implements the admission workflow.
type Service struct {
	repo      Repository
	ledgers   LedgerOpener
	tx        Transactor
	decisions DecisionLog
	mailer    Mailer
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceDeps groups Service collaborators.
type ServiceDeps struct {
	Repository Repository
	Ledgers    LedgerOpener
	Tx         Transactor
	Decisions  DecisionLog
	Mailer     Mailer
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewService constructs a Service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		repo:      deps.Repository,
		ledgers:   deps.Ledgers,
		tx:        deps.Tx,
		decisions: deps.Decisions,
		mailer:    deps.Mailer,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Apply submits the principal's application.
func (s *Service) Apply(ctx context.Context, p shared.Principal, in ApplicationInput) (*Student, error) {
	if p.Role != shared.RoleStudent {
		return nil, fmt.Errorf("admissions: only students may apply: %w", shared.ErrForbidden)
	}
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	if existing, err := s.repo.FindByUserID(ctx, p.UserID); err == nil && existing != nil {
		return nil, ErrAlreadyApplied
	} else if err != nil && !errors.Is(err, ErrApplicationNotFound) {
		return nil, err
	}

	student := &Student{
		ID:            uuid.New(),
		UserID:        p.UserID,
		Name:          p.Name,
		Email:         p.Email,
		FatherName:    strings.TrimSpace(in.FatherName),
		DateOfBirth:   in.DateOfBirth,
		Gender:        strings.ToLower(strings.TrimSpace(in.Gender)),
		Address:       strings.TrimSpace(in.Address),
		ContactNumber: strings.TrimSpace(in.ContactNumber),
		Status:        StatusPending,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, student); err != nil {
			return err
		}
		return s.decisions.Record(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   student.ID,
			ActorID: p.UserID,
			Action:  shared.ApprovalSubmit,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("application submitted", slog.String("student_id", student.ID.String()), slog.String("email", student.Email))
	s.notify(ctx, student.Email, "Application received",
		fmt.Sprintf("Hello %s,\n\nWe received your application. You will be notified once it has been reviewed.", student.Name))
	return student, nil
}

// Application returns the principal's application with its decision history.
func (s *Service) Application(ctx context.Context, p shared.Principal) (*Student, []shared.ApprovalLog, error) {
	student, err := s.repo.FindByUserID(ctx, p.UserID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.decisions.List(ctx, ApprovalModule, student.ID)
	if err != nil {
		return nil, nil, err
	}
	return student, history, nil
}

// Dashboard loads the admin overview. Per-status counts run concurrently and size
// the page of applications that follows.
func (s *Service) Dashboard(ctx context.Context, actor shared.Principal, q DashboardQuery) (Dashboard, error) {
	if !actor.IsAdmin() {
		return Dashboard{}, shared.ErrForbidden
	}
	dash := Dashboard{Counts: make([]StatusCount, len(Statuses))}
	if q.Status != nil {
		dash.Filter = q.Status.Slug()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, status := range Statuses {
		i, status := i, status
		g.Go(func() error {
			n, err := s.repo.CountByStatus(gctx, status)
			if err != nil {
				return err
			}
			dash.Counts[i] = StatusCount{Status: status, Count: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	matching := 0
	for _, c := range dash.Counts {
		dash.Total += c.Count
		if q.Status == nil || c.Status == *q.Status {
			matching += c.Count
		}
	}

	dash.Page = shared.NewPagination(q.Page, DashboardPageSize, matching)
	students, err := s.repo.List(ctx, ListFilter{Status: q.Status, Limit: dash.Page.PerPage, Offset: dash.Page.Offset()})
	if err != nil {
		return Dashboard{}, err
	}
	dash.Students = students
	return dash, nil
}

// Approve accepts a pending application and opens the student's dues ledger in the
// same transaction.
func (s *Service) Approve(ctx context.Context, actor shared.Principal, id uuid.UUID) (*Student, error) {
	student, err := s.decide(ctx, actor, id, StatusApproved, shared.ApprovalApprove, func(ctx context.Context, st *Student) error {
		_, err := s.ledgers.OpenLedger(ctx, dues.Owner{StudentID: st.ID.String(), Email: st.Email})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, student.Email, "Application accepted",
		fmt.Sprintf("Hello %s,\n\nYour application has been accepted. Your monthly dues are now available on the payment page.", student.Name))
	return student, nil
}

// Reject declines a pending application.
func (s *Service) Reject(ctx context.Context, actor shared.Principal, id uuid.UUID) (*Student, error) {
	student, err := s.decide(ctx, actor, id, StatusRejected, shared.ApprovalReject, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, student.Email, "Application update",
		fmt.Sprintf("Hello %s,\n\nWe are sorry to let you know that your application was not accepted.", student.Name))
	return student, nil
}

// MarkPassed marks an accepted student as passed.
func (s *Service) MarkPassed(ctx context.Context, actor shared.Principal, id uuid.UUID) (*Student, error) {
	student, err := s.decide(ctx, actor, id, StatusPassed, shared.ApprovalPass, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, student.Email, "Congratulations",
		fmt.Sprintf("Hello %s,\n\nYou have been marked as passed. Congratulations!", student.Name))
	return student, nil
}

// LandingPath picks where a freshly signed-in principal should go.
func (s *Service) LandingPath(ctx context.Context, p shared.Principal) string {
	if p.IsAdmin() {
		return "/admin/dashboard"
	}
	student, err := s.repo.FindByUserID(ctx, p.UserID)
	if err != nil {
		if !errors.Is(err, ErrApplicationNotFound) {
			s.logger.Warn("landing path lookup", slog.Any("error", err))
		}
		return "/student/apply"
	}
	if student.Status.HasLedger() {
		return dues.PaymentPath
	}
	return "/student/apply"
}

func (s *Service) decide(ctx context.Context, actor shared.Principal, id uuid.UUID, target Status, action shared.ApprovalAction, sideEffect func(context.Context, *Student) error) (*Student, error) {
	if !actor.IsAdmin() {
		return nil, shared.ErrForbidden
	}
	var student *Student
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		st, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition(st.Status, target); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, st.ID, st.Status, target); err != nil {
			return err
		}
		st.Status = target
		if sideEffect != nil {
			if err := sideEffect(ctx, st); err != nil {
				return err
			}
		}
		if err := s.decisions.Record(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   st.ID,
			ActorID: actor.UserID,
			Action:  action,
		}); err != nil {
			return err
		}
		student = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("application decided",
		slog.String("student_id", student.ID.String()),
		slog.String("status", string(target)),
		slog.Int64("actor_id", actor.UserID))
	return student, nil
}

func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if s.mailer == nil || to == "" {
		return
	}
	if err := s.mailer.SendEmail(ctx, jobs.SendEmailPayload{To: to, Subject: subject, Body: body}); err != nil {
		s.logger.Warn("enqueue notification", slog.String("to", to), slog.Any("error", err))
	}
}
