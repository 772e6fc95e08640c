package admissions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/admissions-portal/portal/internal/shared"
)

// Status enumerates the states of an application.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusPassed   Status = "PASSED"
)

// Statuses lists every status in dashboard order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusPassed}

var (
	// ErrInvalidTransition indicates the requested status change is not allowed.
	ErrInvalidTransition = fmt.Errorf("admissions: status transition invalid: %w", shared.ErrConflict)
	// ErrAlreadyApplied indicates the user already has an application.
	ErrAlreadyApplied = fmt.Errorf("admissions: application already submitted: %w", shared.ErrConflict)
	// ErrApplicationNotFound indicates no application matches.
	ErrApplicationNotFound = fmt.Errorf("admissions: application %w", shared.ErrNotFound)
	// ErrUnknownStatus indicates a status name or slug could not be parsed.
	ErrUnknownStatus = fmt.Errorf("admissions: unknown status: %w", shared.ErrValidation)
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusPassed},
}

// ParseStatus parses a stored status name.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStatus, raw)
}

// StatusFromSlug parses the URL form used by the dashboard filters.
func StatusFromSlug(slug string) (Status, error) {
	for _, s := range Statuses {
		if s.Slug() == strings.ToLower(strings.TrimSpace(slug)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStatus, slug)
}

// Slug returns the lowercase URL form.
func (s Status) Slug() string {
	switch s {
	case StatusApproved:
		return "accepted"
	default:
		return strings.ToLower(string(s))
	}
}

// Label returns the human readable name.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	case StatusPassed:
		return "Passed"
	}
	return string(s)
}

// LegacyCode returns the numeric code older exports used (0, 1, -1, 2).
func (s Status) LegacyCode() int {
	switch s {
	case StatusApproved:
		return 1
	case StatusRejected:
		return -1
	case StatusPassed:
		return 2
	}
	return 0
}

// HasLedger reports whether a student in this status owns a dues ledger.
func (s Status) HasLedger() bool {
	return s == StatusApproved || s == StatusPassed
}

// CanTransitionTo reports whether target is reachable from s.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidateTransition checks a status change against policy.
func ValidateTransition(current, target Status) error {
	if !current.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, target)
	}
	return nil
}

// Student is an application and, once accepted, the enrolled student.
type Student struct {
	ID            uuid.UUID
	UserID        int64
	Name          string
	Email         string
	FatherName    string
	DateOfBirth   time.Time
	Gender        string
	Address       string
	ContactNumber string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ApplicationInput carries the fields a student submits.
type ApplicationInput struct {
	FatherName    string
	DateOfBirth   time.Time
	Gender        string
	Address       string
	ContactNumber string
}

// Validate enforces rules the form layer cannot express.
func (in ApplicationInput) Validate(now time.Time) error {
	var problems []string
	if strings.TrimSpace(in.FatherName) == "" {
		problems = append(problems, "father name required")
	}
	if in.DateOfBirth.IsZero() || !in.DateOfBirth.Before(now) {
		problems = append(problems, "date of birth must be in the past")
	}
	if strings.TrimSpace(in.Address) == "" {
		problems = append(problems, "address required")
	}
	if strings.TrimSpace(in.ContactNumber) == "" {
		problems = append(problems, "contact number required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("admissions: %s: %w", strings.Join(problems, ", "), shared.ErrValidation)
	}
	return nil
}

// ListFilter narrows dashboard listings. A nil Status lists everything.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// DashboardPageSize is the number of applications shown per dashboard page.
const DashboardPageSize = 25

// DashboardQuery selects a dashboard view.
type DashboardQuery struct {
	Status *Status
	Page   int
}

// StatusCount pairs a status with how many applications hold it.
type StatusCount struct {
	Status Status
	Count  int
}

// Dashboard is the admin overview.
type Dashboard struct {
	Filter   string
	Students []Student
	Counts   []StatusCount
	Total    int
	Page     shared.Pagination
}
