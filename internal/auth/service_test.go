package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admissions-portal/portal/internal/auth"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/jobs"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []jobs.SendEmailPayload
	err  error
}

func (m *recordingMailer) SendEmail(_ context.Context, p jobs.SendEmailPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, p)
	return m.err
}

type failingRepo struct{ *stubRepo }

func (failingRepo) FindByEmail(context.Context, string) (*auth.User, error) {
	return nil, errors.Join(shared.ErrStorage, errors.New("connection refused"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", auth.NormalizeEmail("  Ana@Example.COM "))
}

func TestAuthenticate(t *testing.T) {
	repo := newStubRepo(
		&auth.User{ID: 1, Email: "ana@example.com", PasswordHash: hashed(t, "secret-pass"), Role: shared.RoleStudent, IsActive: true},
		&auth.User{ID: 2, Email: "off@example.com", PasswordHash: hashed(t, "secret-pass"), Role: shared.RoleStudent},
	)
	svc := auth.NewService(repo, nil, nil)
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, "ANA@example.com", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)

	_, err = svc.Authenticate(ctx, "ana@example.com", "nope")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "off@example.com", "secret-pass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "ghost@example.com", "secret-pass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateSurfacesStorageErrors(t *testing.T) {
	svc := auth.NewService(failingRepo{newStubRepo()}, nil, nil)
	_, err := svc.Authenticate(context.Background(), "ana@example.com", "x")
	assert.ErrorIs(t, err, shared.ErrStorage)
}

func TestRegisterSendsWelcomeMail(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("queue down")}
	svc := auth.NewService(newStubRepo(), mailer, nil)

	user, err := svc.Register(context.Background(), " Ana ", "Ana@Example.com", "long-password")
	require.NoError(t, err, "mail failures must not fail registration")
	assert.Equal(t, "Ana", user.Name)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, shared.RoleStudent, user.Role)
	assert.NotEqual(t, "long-password", user.PasswordHash)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ana@example.com", mailer.sent[0].To)

	_, err = svc.Register(context.Background(), "Ana", "ana@example.com", "long-password")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestPrincipal(t *testing.T) {
	repo := newStubRepo(
		&auth.User{ID: 5, Name: "Admin", Email: "admin@example.com", Role: shared.RoleAdmin, IsActive: true},
		&auth.User{ID: 6, Name: "Gone", Email: "gone@example.com", Role: shared.RoleStudent},
	)
	svc := auth.NewService(repo, nil, nil)

	p, err := svc.Principal(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
	assert.Equal(t, "admin@example.com", p.Email)

	_, err = svc.Principal(context.Background(), 6)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Principal(context.Background(), 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResetPassword(t *testing.T) {
	repo := newStubRepo(&auth.User{ID: 3, Email: "ana@example.com", PasswordHash: hashed(t, "old-password"), Role: shared.RoleStudent, IsActive: true})
	svc := auth.NewService(repo, nil, nil)
	ctx := context.Background()

	err := svc.ResetPassword(ctx, "ana@example.com", "short")
	assert.ErrorIs(t, err, shared.ErrValidation)

	err = svc.ResetPassword(ctx, "ghost@example.com", "new-password")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, svc.ResetPassword(ctx, " ANA@example.com", "new-password"))
	_, err = svc.Authenticate(ctx, "ana@example.com", "old-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ana@example.com", "new-password")
	assert.NoError(t, err)
}
