package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"sareebill/backend/internal/cache"
	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/notify"
	"sareebill/backend/internal/store"
	"sareebill/backend/internal/xid"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	BillCache     cache.BillCache
	BillCacheTTL  time.Duration
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

type Service struct {
	repo          store.Repository
	billCache     cache.BillCache
	billCacheTTL  time.Duration
	notifier      notify.Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
	validate      *validator.Validate
	inflight      sync.WaitGroup
}

func New(repo store.Repository, opts Options) *Service {
	if opts.BillCache == nil {
		opts.BillCache = cache.NoopBillCache{}
	}
	if opts.BillCacheTTL <= 0 {
		opts.BillCacheTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{Logger: opts.Logger}
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Service{
		repo:          repo,
		billCache:     opts.BillCache,
		billCacheTTL:  opts.BillCacheTTL,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		logger:        opts.Logger,
		validate:      v,
	}
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}

// Wait blocks until background notifications started by the service finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID int64, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireShop(actor, shopID); err != nil {
		return nil, err
	}

	var from, to time.Time
	if strings.TrimSpace(date) != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = day.UTC()
		to = from.Add(24 * time.Hour)
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, shopID, from, to, limit)
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == 0 {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrUnauthorized)
	}
	return actor, nil
}

func requireManager(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return actor, err
	}
	if !actor.CanManage() {
		return actor, fmt.Errorf("%w: manager or owner role required", ErrForbidden)
	}
	return actor, nil
}

func requireShop(actor domain.Actor, shopID int64) error {
	if actor.ShopID != shopID {
		return fmt.Errorf("%w: shop %d is not accessible", ErrForbidden, shopID)
	}
	return nil
}

// validateStruct reports the first failing field as ErrInvalidInput.
func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", store.ErrInvalidInput, field)
	case "min":
		return fmt.Errorf("%w: %s must have at least %s entries", store.ErrInvalidInput, field, fe.Param())
	case "gt":
		return fmt.Errorf("%w: %s must be greater than %s", store.ErrInvalidInput, field, fe.Param())
	case "gte":
		return fmt.Errorf("%w: %s must be at least %s", store.ErrInvalidInput, field, fe.Param())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of %s", store.ErrInvalidInput, field, fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", store.ErrInvalidInput, field)
	}
}

func (s *Service) logAudit(ctx context.Context, shopID int64, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        shopID,
		ActorID:       actor.UserID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      fmt.Sprint(entityID),
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit write failed",
			slog.String("action", action),
			slog.String("entity", fmt.Sprintf("%s/%d", entityType, entityID)),
			slog.Any("error", err))
	}
}

func (s *Service) invalidateBill(ctx context.Context, billID int64) {
	if err := s.billCache.Invalidate(ctx, billID); err != nil {
		s.logger.Warn("bill cache invalidation failed", slog.Int64("bill_id", billID), slog.Any("error", err))
	}
}

// notifyAsync sends in the background on a context detached from the
// request. Failures are logged and never retried here.
func (s *Service) notifyAsync(to, subject, body string, attrs ...any) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, to, subject, body); err != nil {
			s.logger.Warn("notification failed", append(attrs, slog.String("to", to), slog.Any("error", err))...)
			return
		}
		s.logger.Info("notification sent", append(attrs, slog.String("to", to))...)
	}()
}
