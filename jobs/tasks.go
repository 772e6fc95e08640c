package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeDuesReminder is the periodic task that reminds students of unpaid dues.
	TaskTypeDuesReminder = "dues:remind"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate reports whether the payload can be delivered.
func (p SendEmailPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return fmt.Errorf("jobs: email recipient missing")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return fmt.Errorf("jobs: email subject missing")
	}
	return nil
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5)), nil
}

// NewDuesReminderTask constructs the periodic reminder task.
func NewDuesReminderTask() *asynq.Task {
	return asynq.NewTask(TaskTypeDuesReminder, nil, asynq.MaxRetry(1))
}

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// Observer records task outcomes.
type Observer interface {
	ObserveJob(task string, err error)
}

// MailJob handles TaskTypeSendEmail.
type MailJob struct {
	sender   Sender
	logger   *slog.Logger
	observer Observer
}

// NewMailJob constructs the mail handler. observer may be nil.
func NewMailJob(sender Sender, logger *slog.Logger, observer Observer) *MailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailJob{sender: sender, logger: logger, observer: observer}
}

// Handle processes one mail:send task. Malformed payloads are not retried.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	err := j.handle(ctx, t)
	if j.observer != nil {
		j.observer.ObserveJob(TaskTypeSendEmail, err)
	}
	return err
}

func (j *MailJob) handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("decode email task", slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		j.logger.Error("invalid email task", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := j.sender.Send(ctx, payload); err != nil {
		j.logger.Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	j.logger.Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

// DuesReminder is one student owing dues.
type DuesReminder struct {
	Email       string
	MonthsDue   int
	AmountDue   int64
	OldestMonth string
}

// ReminderSource lists students with dues outstanding up to the current month.
type ReminderSource interface {
	DueReminders(ctx context.Context) ([]DuesReminder, error)
}

// Enqueuer queues emails.
type Enqueuer interface {
	SendEmail(ctx context.Context, payload SendEmailPayload) error
}

// ReminderJob handles TaskTypeDuesReminder by fanning out one email per student.
type ReminderJob struct {
	source   ReminderSource
	mail     Enqueuer
	logger   *slog.Logger
	observer Observer
}

// NewReminderJob constructs the reminder handler. observer may be nil.
func NewReminderJob(source ReminderSource, mail Enqueuer, logger *slog.Logger, observer Observer) *ReminderJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderJob{source: source, mail: mail, logger: logger, observer: observer}
}

// Handle processes one dues:remind task. Individual enqueue failures are logged and
// the remaining reminders still go out.
func (j *ReminderJob) Handle(ctx context.Context, _ *asynq.Task) error {
	reminders, err := j.source.DueReminders(ctx)
	if err != nil {
		if j.observer != nil {
			j.observer.ObserveJob(TaskTypeDuesReminder, err)
		}
		return err
	}
	var failed int
	for _, r := range reminders {
		err := j.mail.SendEmail(ctx, SendEmailPayload{
			To:      r.Email,
			Subject: "Monthly dues reminder",
			Body: fmt.Sprintf("Hello,\n\nYou have %d unpaid month(s) totalling %d, starting from %s.\nPlease visit the payment page to settle them.",
				r.MonthsDue, r.AmountDue, r.OldestMonth),
		})
		if err != nil {
			failed++
			j.logger.Warn("enqueue dues reminder", slog.String("to", r.Email), slog.Any("error", err))
		}
	}
	j.logger.Info("dues reminders queued", slog.Int("students", len(reminders)), slog.Int("failed", failed))
	var outcome error
	if failed > 0 {
		outcome = fmt.Errorf("jobs: %d of %d reminders failed", failed, len(reminders))
	}
	if j.observer != nil {
		j.observer.ObserveJob(TaskTypeDuesReminder, outcome)
	}
	return nil
}
