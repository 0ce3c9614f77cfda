package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/cache"
	"tdpos/backend/internal/checkout"
	"tdpos/backend/internal/dashboard"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/logger"
	"tdpos/backend/internal/metrics"
	"tdpos/backend/internal/receipt"
	"tdpos/backend/internal/store"
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
	HeldCartTTL       time.Duration
	DeadStockDays     int
	LowStockThreshold int
	Location          *time.Location
	Receipt           receipt.Renderer
	Now               func() time.Time
}

type Service struct {
	catalog   store.CatalogStore
	orders    store.OrderStore
	carts     cache.CartCache
	assembler *checkout.Assembler
	dashboard *dashboard.Engine
	log       *logger.Logger
	metrics   *metrics.POSMetrics
	receipts  receipt.Renderer
	opts      Options

	sessionsMu sync.Mutex
	sessions   map[sessionKey]*session
	lastSweep  time.Time
}

func New(st store.Store, carts cache.CartCache, log *logger.Logger, m *metrics.POSMetrics, opts Options) *Service {
	if carts == nil {
		carts = cache.NewMemoryCartCache()
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HeldCartTTL <= 0 {
		opts.HeldCartTTL = 12 * time.Hour
	}
	if opts.DeadStockDays <= 0 {
		opts.DeadStockDays = dashboard.DefaultDeadStockDays
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = dashboard.DefaultLowStockThreshold
	}
	if opts.Receipt.Location == nil {
		opts.Receipt.Location = opts.Location
	}

	return &Service{
		catalog:   st,
		orders:    st,
		carts:     carts,
		assembler: checkout.NewAssembler(st, checkout.WithClock(opts.Now)),
		dashboard: dashboard.NewEngine(st, st, dashboard.WithClock(opts.Now), dashboard.WithLocation(opts.Location)),
		log:       log,
		metrics:   m,
		receipts:  opts.Receipt,
		opts:      opts,
		sessions:  make(map[sessionKey]*session),
		lastSweep: opts.Now(),
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.EmployeeID == "" {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

func requireManager(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return actor, err
	}
	if !actor.CanManage() {
		return actor, apperr.New(apperr.CodeForbidden, "manager or admin role required")
	}
	return actor, nil
}

// storeError maps store sentinels onto error codes.
func storeError(err error, what string) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, what+" not found")
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.CodeConflict, err, what+" already exists")
	case errors.Is(err, store.ErrInvalid):
		return apperr.Wrap(apperr.CodeValidation, err, "invalid "+what)
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(apperr.CodeConflict, err, "insufficient stock")
	}
	return apperr.Wrap(apperr.CodeInternal, err, fmt.Sprintf("%s lookup failed", what))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("district", func(fl validator.FieldLevel) bool {
		return domain.ValidDistrict(fl.Field().String())
	})
	return v
}

// Validate checks struct tags and reports failures per JSON field.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *apperr.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return apperr.New(apperr.CodeValidation, "validation failed").WithDetails(details)
	}
	return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or more", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "district":
		return "must be a Lesotho district"
	}
	return "is invalid"
}

func fieldError(field, msg string) error {
	return apperr.New(apperr.CodeValidation, "validation failed").WithDetails(map[string]string{field: msg})
}
