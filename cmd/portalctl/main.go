package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/admissions-portal/portal/cmd/portalctl/cli"
	"github.com/admissions-portal/portal/internal/app"
	"github.com/admissions-portal/portal/internal/auth"
	"github.com/admissions-portal/portal/internal/platform/db"
)

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("close jobs cli", slog.Any("error", err))
		}
	}()

	cmd := &commandLine{
		out:   os.Stdout,
		users: auth.NewService(auth.NewRepository(pool), nil, logger),
		jobs:  jobsCLI,
	}
	if err := cmd.run(ctx, os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			logger.Error("portalctl", slog.Any("error", err))
		}
		os.Exit(2)
	}
}
