package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"sareebill/backend/internal/cache"
	"sareebill/backend/internal/config"
	"sareebill/backend/internal/httpapi"
	"sareebill/backend/internal/logging"
	"sareebill/backend/internal/notify"
	"sareebill/backend/internal/service"
	"sareebill/backend/internal/store"
	"sareebill/backend/internal/store/memory"
	pgstore "sareebill/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.DBLockTimeout)
		if err != nil {
			logger.Error("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", slog.Any("error", err))
			os.Exit(1)
		}
		if cfg.DBAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("schema migration failed", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("schema applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres", slog.Duration("lock_timeout", cfg.DBLockTimeout))
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	billCache := cache.BillCache(cache.NoopBillCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisBillCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", slog.Any("error", err))
		} else {
			billCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", slog.Duration("ttl", cfg.BillCacheTTL))
		}
	} else {
		logger.Info("cache: noop")
	}

	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Error("notifier configuration error", slog.Any("error", err))
		os.Exit(1)
	}
	if closeNotifier != nil {
		closers = append(closers, closeNotifier)
	}

	svc := service.New(repo, service.Options{
		BillCache:    billCache,
		BillCacheTTL: cfg.BillCacheTTL,
		Notifier:     notifier,
		Logger:       logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("billing backend listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.Any("error", err))
	}
	svc.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", slog.Any("error", err))
		}
	}

	logger.Info("server stopped")
}

// buildNotifier picks the supplier mail path: the asynq queue when enabled,
// direct SMTP when a host is configured, otherwise a log line.
func buildNotifier(cfg config.Config, logger *slog.Logger) (notify.Notifier, func() error, error) {
	switch {
	case cfg.NotifyQueue:
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("NOTIFY_QUEUE requires REDIS_ADDR")
		}
		queue := notify.NewQueueNotifier(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		logger.Info("notifier: asynq queue", slog.String("queue", notify.QueueDefault))
		return queue, queue.Close, nil
	case cfg.SMTPHost != "":
		smtpNotifier, err := notify.NewSMTPNotifier(smtpConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("notifier: smtp", slog.String("addr", cfg.SMTPAddress()))
		return smtpNotifier, nil, nil
	default:
		logger.Info("notifier: log only")
		return notify.LogNotifier{Logger: logger}, nil, nil
	}
}

func smtpConfig(cfg config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when running against postgres")
	}
	return nil
}
