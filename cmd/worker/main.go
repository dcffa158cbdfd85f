package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"sareebill/backend/internal/config"
	"sareebill/backend/internal/logging"
	"sareebill/backend/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the mail worker")
		os.Exit(1)
	}

	var sender notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.SMTPHost != "" {
		smtpSender, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			logger.Error("smtp configuration error", slog.Any("error", err))
			os.Exit(1)
		}
		sender = smtpSender
	} else {
		logger.Warn("SMTP_HOST not set, queued mail will only be logged")
	}

	worker, err := notify.NewWorker(notify.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Sender:      sender,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
	})
	if err != nil {
		logger.Error("worker setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker error", slog.Any("error", err))
		os.Exit(1)
	}
}
