package admissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admissions-portal/portal/internal/shared"
)

func TestTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusApproved}: true,
		{StatusPending, StatusRejected}: true,
		{StatusApproved, StatusPassed}:  true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			err := ValidateTransition(from, to)
			if allowed[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
		}
	}
}

func TestStatusParsing(t *testing.T) {
	s, err := ParseStatus(" approved ")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, s)

	s, err = StatusFromSlug("Accepted")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, s)

	_, err = StatusFromSlug("approved")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	_, err = ParseStatus("limbo")
	assert.ErrorIs(t, err, shared.ErrValidation)

	for _, st := range Statuses {
		back, err := StatusFromSlug(st.Slug())
		require.NoError(t, err)
		assert.Equal(t, st, back)
	}
}

func TestStatusPresentation(t *testing.T) {
	assert.Equal(t, "Accepted", StatusApproved.Label())
	assert.Equal(t, []int{0, 1, -1, 2}, []int{
		StatusPending.LegacyCode(), StatusApproved.LegacyCode(), StatusRejected.LegacyCode(), StatusPassed.LegacyCode(),
	})
	assert.True(t, StatusApproved.HasLedger())
	assert.True(t, StatusPassed.HasLedger())
	assert.False(t, StatusPending.HasLedger())
	assert.False(t, StatusRejected.HasLedger())
}

func TestApplicationInputValidate(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, validInput().Validate(now))

	err := ApplicationInput{}.Validate(now)
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "father name required")
	assert.Contains(t, err.Error(), "date of birth must be in the past")
}
