/*
Package pricing keeps every room's price equal to the system deposit rate.

PURPOSE:
  room.price is a display copy of settings.deposit_rate. It drifts whenever
  the rate changes. CheckSync reports the drift; SyncAll repairs it in one
  update. Nothing runs continuously: sync happens when settings are saved
  (OnSettingsChanged) or when an admin asks for it.

IDEMPOTENCE:
  SyncAll only writes rooms whose price differs, so two runs in a row with
  no rate change update zero rooms the second time.

SEE ALSO:
  - settings/service.go: Calls OnSettingsChanged after a save
*/
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/lock"
	"github.com/warp/dorm-engine/notify"
	"github.com/warp/dorm-engine/repository"
	"github.com/warp/dorm-engine/settings"
	"go.uber.org/zap"
)

// lockKey serializes price rewrites.
const lockKey = "rooms:price"

// Mismatch is a room whose price differs from the system rate.
type Mismatch struct {
	RoomID     string          `json:"room_id"`
	RoomNumber string          `json:"room_number"`
	Price      decimal.Decimal `json:"price"`
}

// SyncStatus is the result of CheckSync.
type SyncStatus struct {
	IsSynced        bool            `json:"is_synced"`
	SystemRate      decimal.Decimal `json:"system_rate"`
	TotalRooms      int             `json:"total_rooms"`
	MismatchedRooms []Mismatch      `json:"mismatched_rooms"`
}

// SyncResult is the result of SyncAll.
type SyncResult struct {
	UpdatedCount int             `json:"updated_count"`
	NewPrice     decimal.Decimal `json:"new_price"`
	Errors       []string        `json:"errors"`
}

// Synchronizer checks and repairs room prices.
type Synchronizer struct {
	repo     *repository.Repository
	settings settings.Provider
	locks    lock.Locker
	sink     notify.Sink
	log      *zap.Logger
}

type Option func(*Synchronizer)

func WithLocker(l lock.Locker) Option   { return func(s *Synchronizer) { s.locks = l } }
func WithNotifier(n notify.Sink) Option { return func(s *Synchronizer) { s.sink = n } }
func WithLogger(l *zap.Logger) Option   { return func(s *Synchronizer) { s.log = l } }

func NewSynchronizer(gw gateway.Gateway, clock dorm.Clock, provider settings.Provider, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		repo:     repository.New(gw, clock),
		settings: provider,
		locks:    lock.NewLocal(),
		sink:     notify.Nop{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSync compares every room price with the current deposit rate.
func (s *Synchronizer) CheckSync(ctx context.Context) (SyncStatus, error) {
	rate, err := s.rate(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	return s.check(ctx, rate)
}

func (s *Synchronizer) check(ctx context.Context, rate decimal.Decimal) (SyncStatus, error) {
	rooms, err := s.repo.ListRooms(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	st := SyncStatus{SystemRate: rate, TotalRooms: len(rooms), MismatchedRooms: []Mismatch{}}
	for _, r := range rooms {
		if !r.Price.Equal(rate) {
			st.MismatchedRooms = append(st.MismatchedRooms, Mismatch{RoomID: r.ID, RoomNumber: r.RoomNumber, Price: r.Price})
		}
	}
	st.IsSynced = len(st.MismatchedRooms) == 0
	return st, nil
}

// SyncAll sets every mismatched room to the current deposit rate. Only
// admins may run it.
func (s *Synchronizer) SyncAll(ctx context.Context, actor dorm.Actor) (SyncResult, error) {
	const op = "sync prices"
	if err := dorm.RequireRole(op, actor, dorm.RoleAdmin); err != nil {
		return SyncResult{}, err
	}
	rate, err := s.rate(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	return s.syncTo(ctx, actor, rate)
}

// OnSettingsChanged reprices rooms after a settings save. It matches
// settings.ChangeHook; failures are logged and reported, not returned.
func (s *Synchronizer) OnSettingsChanged(ctx context.Context, actor dorm.Actor, saved dorm.Settings) {
	if _, err := s.syncTo(ctx, actor, saved.DepositRate); err != nil {
		s.log.Error("price sync after settings change failed", zap.Error(err))
	}
}

func (s *Synchronizer) syncTo(ctx context.Context, actor dorm.Actor, rate decimal.Decimal) (SyncResult, error) {
	const op = "sync prices"
	if !rate.IsPositive() {
		err := dorm.Invalid("deposit_rate", "must be greater than 0 to sync prices")
		s.sink.Notify(ctx, notify.Failure(op, "rooms", err).By(actor))
		return SyncResult{}, err
	}

	unlock, err := s.locks.Lock(ctx, lockKey)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	res := SyncResult{NewPrice: rate, Errors: []string{}}
	before, err := s.check(ctx, rate)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		s.sink.Notify(ctx, notify.Failure(op, "rooms", err).By(actor))
		return res, err
	}
	res.UpdatedCount = len(before.MismatchedRooms)
	if res.UpdatedCount > 0 {
		if _, err := s.repo.RepriceRooms(ctx, rate); err != nil {
			res.UpdatedCount = 0
			res.Errors = append(res.Errors, err.Error())
			s.sink.Notify(ctx, notify.Failure(op, "rooms", err).By(actor))
			return res, err
		}
	}

	s.log.Info("room prices synced",
		zap.String("rate", rate.String()),
		zap.Int("updated", res.UpdatedCount),
		zap.String("actor_id", actor.ID),
	)
	s.sink.Notify(ctx, notify.Success(op, "rooms", fmt.Sprintf("%d rooms updated to %s", res.UpdatedCount, rate)).By(actor))
	return res, nil
}

func (s *Synchronizer) rate(ctx context.Context) (decimal.Decimal, error) {
	if s.settings == nil {
		return decimal.Zero, dorm.ErrSettingsNotFound
	}
	cur, err := s.settings.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return cur.DepositRate, nil
}
