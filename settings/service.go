package settings

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/repository"
	"go.uber.org/zap"
)

// ChangeHook runs after settings were saved.
type ChangeHook func(ctx context.Context, actor dorm.Actor, s dorm.Settings)

// Input is an edit of the settings. Nil fields keep the stored value.
type Input struct {
	WaterRate       *decimal.Decimal `json:"water_rate"`
	ElectricityRate *decimal.Decimal `json:"electricity_rate"`
	DepositRate     *decimal.Decimal `json:"deposit_rate"`
	LateFee         *decimal.Decimal `json:"late_fee"`
	FloorCount      *int             `json:"floor_count" validate:"omitempty,min=0,max=200"`
}

// Service is the admin workflow that edits settings.
type Service struct {
	repo     *repository.Repository
	cache    Invalidator
	validate *validator.Validate
	onChange []ChangeHook
	log      *zap.Logger
}

// NewService builds the settings editor. cache may be nil.
func NewService(gw gateway.Gateway, clock dorm.Clock, cache Invalidator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repository.New(gw, clock),
		cache:    cache,
		validate: validator.New(),
		log:      log,
	}
}

// OnChange registers a hook run after every successful Save.
func (s *Service) OnChange(h ChangeHook) { s.onChange = append(s.onChange, h) }

// Current returns the stored settings, bypassing any cache.
func (s *Service) Current(ctx context.Context) (dorm.Settings, error) {
	return s.repo.LatestSettings(ctx)
}

// Validate reports on the stored settings.
func (s *Service) Validate(ctx context.Context) Validation {
	return ValidateStored(ctx, s.repo)
}

// Save merges in into the stored settings and persists them. Zero late fee
// and floor count fall back to their defaults. Only admins may save.
func (s *Service) Save(ctx context.Context, actor dorm.Actor, in Input) (dorm.Settings, error) {
	if err := dorm.RequireRole("save settings", actor, dorm.RoleAdmin); err != nil {
		return dorm.Settings{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return dorm.Settings{}, dorm.Invalid("floor_count", "must be between 0 and 200")
	}

	cur, err := s.repo.LatestSettings(ctx)
	if err != nil && !errors.Is(err, dorm.ErrSettingsNotFound) {
		return dorm.Settings{}, err
	}
	next := merge(cur, in)
	if err := checkRates(next); err != nil {
		return dorm.Settings{}, err
	}
	if err := s.repo.SaveSettings(ctx, next); err != nil {
		return dorm.Settings{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("settings cache invalidation failed", zap.Error(err))
		}
	}
	s.log.Info("settings saved",
		zap.String("actor_id", actor.ID),
		zap.String("deposit_rate", next.DepositRate.String()),
		zap.String("water_rate", next.WaterRate.String()),
		zap.String("electricity_rate", next.ElectricityRate.String()),
	)
	for _, h := range s.onChange {
		h(ctx, actor, next)
	}
	return next, nil
}

func merge(cur dorm.Settings, in Input) dorm.Settings {
	if in.WaterRate != nil {
		cur.WaterRate = *in.WaterRate
	}
	if in.ElectricityRate != nil {
		cur.ElectricityRate = *in.ElectricityRate
	}
	if in.DepositRate != nil {
		cur.DepositRate = *in.DepositRate
	}
	if in.LateFee != nil {
		cur.LateFee = *in.LateFee
	}
	if in.FloorCount != nil {
		cur.FloorCount = *in.FloorCount
	}
	if cur.LateFee.IsZero() {
		cur.LateFee = dorm.DefaultLateFee
	}
	if cur.FloorCount == 0 {
		cur.FloorCount = dorm.DefaultFloorCount
	}
	return cur
}

func checkRates(s dorm.Settings) error {
	switch {
	case !s.DepositRate.IsPositive():
		return dorm.Invalid("deposit_rate", "must be greater than 0")
	case !s.WaterRate.IsPositive():
		return dorm.Invalid("water_rate", "must be greater than 0")
	case !s.ElectricityRate.IsPositive():
		return dorm.Invalid("electricity_rate", "must be greater than 0")
	case s.LateFee.IsNegative():
		return dorm.Invalid("late_fee", "must not be negative")
	}
	return nil
}
