package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admissions-portal/portal/cmd/portalctl/cli"
)

type recordingResetter struct {
	email, password string
}

func (r *recordingResetter) ResetPassword(_ context.Context, email, password string) error {
	r.email, r.password = email, password
	return nil
}

func withPassword(t *testing.T, pwd string, err error) {
	t.Helper()
	original := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), err }
	t.Cleanup(func() { readPasswordFunc = original })
}

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	c := &commandLine{out: &out}
	assert.ErrorIs(t, c.run(context.Background(), []string{"portalctl"}), errHelp)
	assert.Contains(t, out.String(), "resetpassword")
	assert.ErrorIs(t, c.run(context.Background(), []string{"portalctl", "bogus"}), errHelp)
}

func TestResetPassword(t *testing.T) {
	withPassword(t, "new-password", nil)
	var out bytes.Buffer
	users := &recordingResetter{}
	c := &commandLine{out: &out, users: users}

	require.NoError(t, c.run(context.Background(), []string{"portalctl", "resetpassword", "-email", "ana@example.com"}))
	assert.Equal(t, "ana@example.com", users.email)
	assert.Equal(t, "new-password", users.password)
	assert.Contains(t, out.String(), "password updated")
}

func TestResetPasswordRequiresEmailAndPassword(t *testing.T) {
	var out bytes.Buffer
	users := &recordingResetter{}
	c := &commandLine{out: &out, users: users}

	assert.ErrorIs(t, c.run(context.Background(), []string{"portalctl", "resetpassword"}), errHelp)

	withPassword(t, "", nil)
	assert.ErrorIs(t, c.run(context.Background(), []string{"portalctl", "resetpassword", "-email", "a@b.test"}), errHelp)

	withPassword(t, "", errors.New("not a terminal"))
	assert.Error(t, c.run(context.Background(), []string{"portalctl", "resetpassword", "-email", "a@b.test"}))
	assert.Empty(t, users.email)
}

func TestJobsStatsWithoutInspector(t *testing.T) {
	var out bytes.Buffer
	c := &commandLine{out: &out, jobs: cli.NewJobsCLIWith(nil, nil)}
	assert.Error(t, c.run(context.Background(), []string{"portalctl", "jobs", "stats"}))
	assert.ErrorIs(t, c.run(context.Background(), []string{"portalctl", "jobs"}), errHelp)
}
