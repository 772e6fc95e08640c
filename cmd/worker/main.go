package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/admissions-portal/portal/internal/app"
	"github.com/admissions-portal/portal/internal/dues"
	"github.com/admissions-portal/portal/internal/observability"
	"github.com/admissions-portal/portal/internal/platform/db"
	"github.com/admissions-portal/portal/jobs"
)

const appName = "Admissions Portal"

// reminderSource adapts the dues service to the reminder job.
type reminderSource struct {
	dues *dues.Service
}

func (s reminderSource) DueReminders(ctx context.Context) ([]jobs.DuesReminder, error) {
	reminders, err := s.dues.DueReminders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]jobs.DuesReminder, 0, len(reminders))
	for _, r := range reminders {
		out = append(out, jobs.DuesReminder{
			Email:       r.Email,
			MonthsDue:   r.MonthsDue,
			AmountDue:   r.AmountDue,
			OldestMonth: r.Oldest.Format("January 2006"),
		})
	}
	return out, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	sender, err := jobs.NewSender(jobs.SenderConfig{
		Provider:     cfg.MailProvider,
		AppName:      appName,
		From:         cfg.SMTPFrom,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUsername: cfg.SMTPUser,
		SMTPPassword: cfg.SMTPPass,
		SendGridKey:  cfg.SendGridAPIKey,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("init mail sender", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	client := jobs.NewClient(redisOpts, logger)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	duesService := dues.NewService(dues.NewRepository(pool), cfg.Schedule(), logger)
	mailJob := jobs.NewMailJob(sender, logger, metrics)
	reminderJob := jobs.NewReminderJob(reminderSource{dues: duesService}, client, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailJob.Handle},
			{Type: jobs.TaskTypeDuesReminder, Handler: reminderJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReminderCron, Task: jobs.NewDuesReminderTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
