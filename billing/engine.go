/*
engine.go - Monthly bill generation and payment

PURPOSE:
  Turns a month's meter readings into one pending bill per occupied room
  and records payments against those bills.

BATCH MODEL:
  GenerateMonthlyBills succeeds partially. Every room is processed on its
  own and ends up in the report with an outcome.

    Billed                     bill inserted, meter advanced
    AlreadyBilled              a bill exists for (room, month); untouched
    MissingMeterReading        occupied room without a submitted reading
    MeterReadingBelowPrevious  reading lower than the stored meter
    RoomNotFound               reading for an unknown room
    NotOccupied                reading for a room nobody lives in
    Invalid                    any other rejected input for this room
    PersistenceError           store failure for this room only

  Only batch-level problems fail the call: permission, a missing month or
  due date, unusable settings.

PER ROOM:
  Under the (room, month) bill lock and the room lock, in one transaction:
    1. existence check          -> AlreadyBilled
    2. reading present, >= meter
    3. price with Compute
    4. insert the bill          (unique (room_id, billing_month) backs step 1)
    5. advance the meter        (version compare-and-swap)

  A rerun with the same input reports every room AlreadyBilled and writes
  nothing, so the batch is safe to retry.

SETTINGS:
  Rates are read once per batch (or passed in) and the same snapshot prices
  every room.

SEE ALSO:
  - compute.go: Charge formulas
  - repository/billing.go: Row codec, conditional payment update
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/lock"
	"github.com/warp/dorm-engine/notify"
	"github.com/warp/dorm-engine/repository"
	"github.com/warp/dorm-engine/settings"
	"go.uber.org/zap"
)

// DefaultRetries bounds the attempts per room on a lost compare-and-swap.
const DefaultRetries = 3

// Engine generates and settles bills.
type Engine struct {
	repo     *repository.Repository
	settings settings.Provider
	locks    lock.Locker
	sink     notify.Sink
	log      *zap.Logger
	retries  int
}

// Option configures an Engine.
type Option func(*Engine)

func WithLocker(l lock.Locker) Option   { return func(e *Engine) { e.locks = l } }
func WithNotifier(s notify.Sink) Option { return func(e *Engine) { e.sink = s } }
func WithLogger(l *zap.Logger) Option   { return func(e *Engine) { e.log = l } }
func WithRetries(n int) Option          { return func(e *Engine) { e.retries = n } }

// NewEngine creates a billing engine. A nil clock means the system clock.
func NewEngine(gw gateway.Gateway, clock dorm.Clock, provider settings.Provider, opts ...Option) *Engine {
	e := &Engine{
		repo:     repository.New(gw, clock),
		settings: provider,
		locks:    lock.NewLocal(),
		sink:     notify.Nop{},
		log:      zap.NewNop(),
		retries:  DefaultRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retries < 1 {
		e.retries = 1
	}
	return e
}

// =============================================================================
// BATCH TYPES
// =============================================================================

// RoomOutcome is the per-room result of a batch.
type RoomOutcome string

const (
	OutcomeBilled                    RoomOutcome = "Billed"
	OutcomeAlreadyBilled             RoomOutcome = "AlreadyBilled"
	OutcomeMissingMeterReading       RoomOutcome = "MissingMeterReading"
	OutcomeMeterReadingBelowPrevious RoomOutcome = "MeterReadingBelowPrevious"
	OutcomeRoomNotFound              RoomOutcome = "RoomNotFound"
	OutcomeNotOccupied               RoomOutcome = "NotOccupied"
	OutcomeInvalid                   RoomOutcome = "Invalid"
	OutcomePersistenceError          RoomOutcome = "PersistenceError"
)

// BatchRequest is one month's billing run.
type BatchRequest struct {
	Month    time.Time
	DueDate  time.Time
	Readings map[string]decimal.Decimal // room id -> current meter reading
	Settings *dorm.Settings             // nil: read from the provider once
}

// RoomResult is what happened to one room.
type RoomResult struct {
	RoomID     string
	RoomNumber string
	Outcome    RoomOutcome
	Bill       *dorm.Bill
	Err        error
}

// BatchReport lists every room touched by a batch.
type BatchReport struct {
	Month    time.Time
	Settings dorm.Settings
	Results  []RoomResult
}

// Billed returns the rooms that received a bill.
func (r *BatchReport) Billed() []RoomResult {
	var out []RoomResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeBilled {
			out = append(out, res)
		}
	}
	return out
}

// Skipped returns every room that did not receive a bill.
func (r *BatchReport) Skipped() []RoomResult {
	var out []RoomResult
	for _, res := range r.Results {
		if res.Outcome != OutcomeBilled {
			out = append(out, res)
		}
	}
	return out
}

// Counts tallies results by outcome.
func (r *BatchReport) Counts() map[RoomOutcome]int {
	out := map[RoomOutcome]int{}
	for _, res := range r.Results {
		out[res.Outcome]++
	}
	return out
}

// Summary is a one-line human description, e.g.
// "12 bills created, 2 skipped (AlreadyBilled: 2)".
func (r *BatchReport) Summary() string {
	counts := r.Counts()
	billed := counts[OutcomeBilled]
	skipped := len(r.Results) - billed
	msg := fmt.Sprintf("%d bills created, %d skipped", billed, skipped)
	if skipped == 0 {
		return msg
	}
	var parts []string
	for outcome, n := range counts {
		if outcome != OutcomeBilled {
			parts = append(parts, fmt.Sprintf("%s: %d", outcome, n))
		}
	}
	sort.Strings(parts)
	return msg + " (" + strings.Join(parts, ", ") + ")"
}

// =============================================================================
// GENERATE
// =============================================================================

// GenerateMonthlyBills bills every occupied room for req.Month.
func (e *Engine) GenerateMonthlyBills(ctx context.Context, actor dorm.Actor, req BatchRequest) (*BatchReport, error) {
	const op = "generate bills"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return nil, err
	}
	if req.Month.IsZero() {
		return nil, dorm.Invalid("month", "required")
	}
	if req.DueDate.IsZero() {
		return nil, dorm.Invalid("due_date", "required")
	}
	month := dorm.MonthStart(req.Month)

	rates, err := e.snapshot(ctx, req.Settings)
	if err != nil {
		return nil, err
	}

	rooms, err := e.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	occs, err := e.repo.AllCurrentOccupancies(ctx)
	if err != nil {
		return nil, err
	}
	occupied := map[string]bool{}
	for _, o := range occs {
		occupied[o.RoomID] = true
	}

	report := &BatchReport{Month: month, Settings: rates}
	known := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		known[room.ID] = true
		reading, hasReading := req.Readings[room.ID]
		if !occupied[room.ID] {
			if hasReading {
				report.Results = append(report.Results, RoomResult{
					RoomID: room.ID, RoomNumber: room.RoomNumber, Outcome: OutcomeNotOccupied,
					Err: dorm.Invalid("readings", "room %s has no occupants", room.RoomNumber),
				})
			}
			continue
		}
		report.Results = append(report.Results, e.billRoom(ctx, room, month, req.DueDate, reading, hasReading, rates))
	}

	var unknown []string
	for roomID := range req.Readings {
		if !known[roomID] {
			unknown = append(unknown, roomID)
		}
	}
	sort.Strings(unknown)
	for _, roomID := range unknown {
		report.Results = append(report.Results, RoomResult{
			RoomID: roomID, Outcome: OutcomeRoomNotFound, Err: dorm.NotFound(dorm.ErrRoomNotFound, roomID),
		})
	}

	e.publish(ctx, actor, op, report)
	return report, nil
}

func (e *Engine) snapshot(ctx context.Context, given *dorm.Settings) (dorm.Settings, error) {
	var s dorm.Settings
	if given != nil {
		s = *given
	} else {
		if e.settings == nil {
			return dorm.Settings{}, dorm.ErrSettingsNotFound
		}
		var err error
		if s, err = e.settings.Current(ctx); err != nil {
			return dorm.Settings{}, err
		}
	}
	if v := settings.Validate(s); !v.IsValid {
		return dorm.Settings{}, dorm.Invalid("settings", "%s", strings.Join(v.Issues, "; "))
	}
	return s, nil
}

func (e *Engine) billRoom(ctx context.Context, room dorm.Room, month, due time.Time, reading decimal.Decimal, hasReading bool, rates dorm.Settings) RoomResult {
	res := RoomResult{RoomID: room.ID, RoomNumber: room.RoomNumber}

	unlock, err := e.locks.Lock(ctx, lock.BillKey(room.ID, dorm.FormatMonth(month)), lock.RoomKey(room.ID))
	if err != nil {
		res.Outcome, res.Err = OutcomePersistenceError, dorm.Persistence("lock room", err)
		return res
	}
	defer unlock()

	var bill dorm.Bill
	for attempt := 1; ; attempt++ {
		err = e.repo.InTx(ctx, func(r *repository.Repository) error {
			var err error
			bill, err = billOne(ctx, r, room.ID, month, due, reading, hasReading, rates)
			return err
		})
		if err == nil || !errors.Is(err, dorm.ErrConcurrentModification) || attempt >= e.retries {
			break
		}
	}

	res.Err = err
	switch {
	case err == nil:
		res.Outcome, res.Bill = OutcomeBilled, &bill
		e.log.Info("bill created",
			zap.String("room_number", room.RoomNumber),
			zap.String("month", dorm.FormatMonth(month)),
			zap.String("sum", bill.Sum.String()),
		)
	case errors.Is(err, dorm.ErrAlreadyBilled):
		res.Outcome = OutcomeAlreadyBilled
	case errors.Is(err, dorm.ErrMeterReadingBelowPrevious):
		res.Outcome = OutcomeMeterReadingBelowPrevious
	case errors.Is(err, dorm.ErrMissingMeterReading):
		res.Outcome = OutcomeMissingMeterReading
	case errors.Is(err, dorm.ErrValidation):
		res.Outcome = OutcomeInvalid
	case errors.Is(err, dorm.ErrRoomNotFound):
		res.Outcome = OutcomeRoomNotFound
	case errors.Is(err, errNotOccupied):
		res.Outcome, res.Err = OutcomeNotOccupied, dorm.Invalid("readings", "room %s has no occupants", room.RoomNumber)
	default:
		res.Outcome = OutcomePersistenceError
		e.log.Error("billing room failed",
			zap.String("room_number", room.RoomNumber),
			zap.String("month", dorm.FormatMonth(month)),
			zap.Error(err),
		)
	}
	return res
}

var errNotOccupied = errors.New("room has no occupants")

func billOne(ctx context.Context, r *repository.Repository, roomID string, month, due time.Time, reading decimal.Decimal, hasReading bool, rates dorm.Settings) (dorm.Bill, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return dorm.Bill{}, err
	}
	exists, err := r.BillExists(ctx, room.ID, month)
	if err != nil {
		return dorm.Bill{}, err
	}
	if exists {
		return dorm.Bill{}, fmt.Errorf("room %s month %s: %w", room.RoomNumber, dorm.FormatMonth(month), dorm.ErrAlreadyBilled)
	}
	if !hasReading {
		return dorm.Bill{}, fmt.Errorf("room %s: %w", room.RoomNumber, dorm.ErrMissingMeterReading)
	}
	previous := room.LatestMeterReading
	if reading.LessThan(previous) {
		return dorm.Bill{}, &dorm.MeterReadingError{RoomID: room.ID, Previous: previous.String(), Reading: reading.String()}
	}

	occs, err := r.CurrentOccupants(ctx, room.ID)
	if err != nil {
		return dorm.Bill{}, err
	}
	if len(occs) == 0 {
		return dorm.Bill{}, errNotOccupied
	}
	tenantID, err := billedTenant(ctx, r, occs)
	if err != nil {
		return dorm.Bill{}, err
	}

	c := Compute(len(occs), previous, reading, rates)
	bill, err := r.CreateBill(ctx, dorm.Bill{
		RoomID:           room.ID,
		TenantID:         tenantID,
		BillingMonth:     month,
		RoomRent:         c.RoomRent,
		WaterUnits:       c.WaterUnits,
		WaterCost:        c.WaterCost,
		ElectricityUnits: c.ElectricityUnits,
		ElectricityCost:  c.ElectricityCost,
		Sum:              c.Sum,
		Status:           dorm.BillPending,
		DueDate:          dorm.Day(due),
		ReceiptNumber:    dorm.ReceiptNumber(month, room.RoomNumber),
	})
	if err != nil {
		return dorm.Bill{}, err
	}
	if _, err := r.UpdateRoom(ctx, room, gateway.Row{
		"latest_meter_reading": reading.String(),
		"old_meter":            previous.String(),
	}); err != nil {
		return dorm.Bill{}, err
	}
	return bill, nil
}

// billedTenant picks the bill owner: the primary occupant, else whoever
// checked in first. occs are ordered by check-in.
func billedTenant(ctx context.Context, r *repository.Repository, occs []dorm.Occupancy) (string, error) {
	for _, o := range occs {
		t, err := r.GetTenant(ctx, o.TenantID)
		if err != nil {
			if errors.Is(err, dorm.ErrTenantNotFound) {
				continue
			}
			return "", err
		}
		if !t.IsCoOccupant() {
			return t.ID, nil
		}
	}
	return occs[0].TenantID, nil
}

func (e *Engine) publish(ctx context.Context, actor dorm.Actor, op string, report *BatchReport) {
	month := dorm.FormatMonth(report.Month)
	for _, res := range report.Skipped() {
		e.sink.Notify(ctx, notify.Failure(op, "room:"+res.RoomID, res.Err).By(actor))
	}
	ev := notify.Success(op, month, report.Summary()).By(actor)
	if len(report.Skipped()) > 0 {
		ev.Outcome = notify.OutcomePartial
	}
	e.sink.Notify(ctx, ev)
}

// =============================================================================
// PAYMENT & STATUS
// =============================================================================

// MarkBillPaid settles a bill today. A bill can only be paid once.
func (e *Engine) MarkBillPaid(ctx context.Context, actor dorm.Actor, billID string) (dorm.Bill, error) {
	const op = "pay bill"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Bill{}, err
	}
	bill, err := e.markPaid(ctx, billID)
	e.sink.Notify(ctx, notify.From(op, "bill:"+billID, "bill "+bill.ReceiptNumber+" paid", err).By(actor))
	return bill, err
}

func (e *Engine) markPaid(ctx context.Context, billID string) (dorm.Bill, error) {
	if _, err := e.repo.GetBill(ctx, billID); err != nil {
		return dorm.Bill{}, err
	}
	ok, err := e.repo.MarkBillPaid(ctx, billID, dorm.Today(e.repo.Clock()))
	if err != nil {
		return dorm.Bill{}, err
	}
	if !ok {
		return dorm.Bill{}, fmt.Errorf("bill %s: %w", billID, dorm.ErrAlreadyPaid)
	}
	return e.repo.GetBill(ctx, billID)
}

// MarkOverdue flips pending bills due before asOf (today when zero) to
// overdue and returns how many changed.
func (e *Engine) MarkOverdue(ctx context.Context, actor dorm.Actor, asOf time.Time) (int, error) {
	const op = "mark overdue"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return 0, err
	}
	if asOf.IsZero() {
		asOf = dorm.Today(e.repo.Clock())
	}
	n, err := e.repo.MarkOverdue(ctx, dorm.Day(asOf))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.sink.Notify(ctx, notify.Success(op, dorm.FormatDate(asOf), fmt.Sprintf("%d bills overdue", n)).By(actor))
	}
	return int(n), nil
}

// GetBill loads one bill.
func (e *Engine) GetBill(ctx context.Context, id string) (dorm.Bill, error) {
	return e.repo.GetBill(ctx, id)
}

// ListBills lists bills, newest month first.
func (e *Engine) ListBills(ctx context.Context, f repository.BillFilter) ([]dorm.Bill, error) {
	return e.repo.ListBills(ctx, f)
}
