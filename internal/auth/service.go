package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/jobs"
)

// ErrEmailTaken indicates an account already uses the email.
var ErrEmailTaken = fmt.Errorf("auth: email already registered: %w", shared.ErrConflict)

// Mailer queues notification e-mails.
type Mailer interface {
	SendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	mailer Mailer
	logger *slog.Logger
	cost   int
}

// NewService constructs a new Service. mailer may be nil.
func NewService(repo Repository, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, mailer: mailer, logger: logger, cost: bcrypt.DefaultCost}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, shared.ErrStorage) {
			return nil, err
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Register creates a student account.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, NewUser{
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: string(hash),
		Role:         shared.RoleStudent,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", slog.Int64("user_id", user.ID), slog.String("email", user.Email))
	if s.mailer != nil {
		err := s.mailer.SendEmail(ctx, jobs.SendEmailPayload{
			To:      user.Email,
			Subject: "Welcome to the student portal",
			Body:    fmt.Sprintf("Hello %s,\n\nYour account is ready. Sign in to submit your application.", user.Name),
		})
		if err != nil {
			s.logger.Warn("enqueue welcome email", slog.Any("error", err))
		}
	}
	return user, nil
}

// Principal resolves the identity for a signed-in user id. Inactive accounts resolve
// to ErrNotFound.
func (s *Service) Principal(ctx context.Context, userID int64) (shared.Principal, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return shared.Principal{}, err
	}
	if !user.IsActive {
		return shared.Principal{}, shared.ErrNotFound
	}
	return user.Principal(), nil
}

// MinPasswordLength is the shortest password accepted at registration and reset.
const MinPasswordLength = 8

// ResetPassword sets a new password for the account behind email.
func (s *Service) ResetPassword(ctx context.Context, email, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("auth: password shorter than %d characters: %w", MinPasswordLength, shared.ErrValidation)
	}
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	s.logger.Info("password reset", slog.Int64("user_id", user.ID))
	return nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
