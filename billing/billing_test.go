package billing_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/gateway/memory"
	"github.com/warp/dorm-engine/notify"
	"github.com/warp/dorm-engine/repository"
	"github.com/warp/dorm-engine/settings"
)

var (
	today = time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)
	june  = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	due   = time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	staff = dorm.Actor{ID: "staff-1", Role: dorm.RoleStaff}

	standardRates = dorm.Settings{
		WaterRate:       decimal.NewFromInt(100),
		ElectricityRate: decimal.NewFromInt(7),
		DepositRate:     decimal.NewFromInt(3500),
		LateFee:         decimal.NewFromInt(5),
		FloorCount:      4,
	}
)

func num(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertDec(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(num(want)), "%s: want %d, got %s", msg, want, got)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	t    *testing.T
	ctx  context.Context
	gw   gateway.Gateway
	repo *repository.Repository
}

func newFixture(t *testing.T) *fixture {
	gw := memory.New()
	return &fixture{t: t, ctx: context.Background(), gw: gw, repo: repository.New(gw, dorm.FixedClock{T: today})}
}

func (f *fixture) engine(opts ...billing.Option) *billing.Engine {
	return billing.NewEngine(f.gw, dorm.FixedClock{T: today}, settings.Static(standardRates), opts...)
}

// room creates a room with a stored meter reading.
func (f *fixture) room(number string, meter int64) dorm.Room {
	f.t.Helper()
	r, err := f.repo.CreateRoom(f.ctx, dorm.Room{RoomNumber: number, Capacity: 2, Price: num(3500), LatestMeterReading: num(meter)})
	require.NoError(f.t, err)
	return r
}

// live puts a tenant into a room starting on checkIn.
func (f *fixture) live(room dorm.Room, name string, residency dorm.Residency, checkIn time.Time) dorm.Tenant {
	f.t.Helper()
	tn, err := f.repo.CreateTenant(f.ctx, dorm.Tenant{FirstName: name, Residency: residency, RoomID: room.ID, RoomNumber: room.RoomNumber})
	require.NoError(f.t, err)
	_, err = f.repo.OpenOccupancy(f.ctx, tn.ID, room.ID, checkIn)
	require.NoError(f.t, err)
	return tn
}

func (f *fixture) bills(roomID string) []dorm.Bill {
	f.t.Helper()
	b, err := f.repo.ListBills(f.ctx, repository.BillFilter{RoomID: roomID})
	require.NoError(f.t, err)
	return b
}

func (f *fixture) meter(roomID string) dorm.Room {
	f.t.Helper()
	r, err := f.repo.GetRoom(f.ctx, roomID)
	require.NoError(f.t, err)
	return r
}

func outcomes(report *billing.BatchReport) map[string]billing.RoomOutcome {
	out := map[string]billing.RoomOutcome{}
	for _, r := range report.Results {
		out[r.RoomID] = r.Outcome
	}
	return out
}

// =============================================================================
// COMPUTE
// =============================================================================

func TestCompute_WorkedExample(t *testing.T) {
	c := billing.Compute(2, num(100), num(150), standardRates)
	assertDec(t, 2, c.WaterUnits, "water units")
	assertDec(t, 200, c.WaterCost, "water cost")
	assertDec(t, 50, c.ElectricityUnits, "electricity units")
	assertDec(t, 350, c.ElectricityCost, "electricity cost")
	assertDec(t, 3500, c.RoomRent, "rent")
	assertDec(t, 4050, c.Sum, "sum")
}

func TestCompute_ElectricityNeverNegative(t *testing.T) {
	c := billing.Compute(1, num(150), num(100), standardRates)
	assert.True(t, c.ElectricityUnits.IsZero())
	assert.True(t, c.ElectricityCost.IsZero())
	assertDec(t, 3600, c.Sum, "rent + one head of water")
}

func TestCompute_FractionalReadings(t *testing.T) {
	c := billing.Compute(1, decimal.RequireFromString("100.5"), decimal.RequireFromString("110.25"), standardRates)
	assert.Equal(t, "9.75", c.ElectricityUnits.String())
	assert.Equal(t, "68.25", c.ElectricityCost.String())
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_TwoOccupantsScenario(t *testing.T) {
	f := newFixture(t)
	room := f.room("101", 100)
	a := f.live(room, "A", dorm.ResidencyPrimary, june)
	f.live(room, "B", dorm.ResidencyCoOccupant, june)

	// WHEN
	report, err := f.engine().GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month:    time.Date(2024, time.June, 17, 0, 0, 0, 0, time.UTC),
		DueDate:  due,
		Readings: map[string]decimal.Decimal{room.ID: num(150)},
	})
	require.NoError(t, err)

	// THEN: one pending bill with the worked numbers
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.Equal(t, billing.OutcomeBilled, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, june, report.Month)

	bills := f.bills(room.ID)
	require.Len(t, bills, 1)
	b := bills[0]
	assertDec(t, 2, b.WaterUnits, "water units")
	assertDec(t, 200, b.WaterCost, "water cost")
	assertDec(t, 50, b.ElectricityUnits, "electricity units")
	assertDec(t, 350, b.ElectricityCost, "electricity cost")
	assertDec(t, 3500, b.RoomRent, "rent")
	assertDec(t, 4050, b.Sum, "sum")
	assert.Equal(t, dorm.BillPending, b.Status)
	assert.Equal(t, june, b.BillingMonth)
	assert.Equal(t, due, b.DueDate)
	assert.Nil(t, b.PaidDate)
	assert.Equal(t, "INV-202406-101", b.ReceiptNumber)
	assert.Equal(t, a.ID, b.TenantID, "primary occupant owns the bill")

	// AND: meter advanced with the previous value kept
	after := f.meter(room.ID)
	assertDec(t, 150, after.LatestMeterReading, "latest meter")
	assertDec(t, 100, after.OldMeter, "old meter")
}

func TestGenerate_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	r1 := f.room("101", 100)
	r2 := f.room("102", 0)
	f.live(r1, "A", dorm.ResidencyPrimary, june)
	f.live(r2, "B", dorm.ResidencyPrimary, june)
	req := billing.BatchRequest{Month: june, DueDate: due, Readings: map[string]decimal.Decimal{r1.ID: num(150), r2.ID: num(40)}}
	eng := f.engine()

	first, err := eng.GenerateMonthlyBills(f.ctx, staff, req)
	require.NoError(t, err)
	assert.Len(t, first.Billed(), 2)

	// WHEN: the same batch runs again
	second, err := eng.GenerateMonthlyBills(f.ctx, staff, req)
	require.NoError(t, err)

	// THEN: nothing new, every room reported
	assert.Empty(t, second.Billed())
	assert.Equal(t, map[billing.RoomOutcome]int{billing.OutcomeAlreadyBilled: 2}, second.Counts())
	assert.Equal(t, "0 bills created, 2 skipped (AlreadyBilled: 2)", second.Summary())
	for _, res := range second.Results {
		assert.ErrorIs(t, res.Err, dorm.ErrAlreadyBilled)
	}
	assert.Len(t, f.bills(r1.ID), 1)
	assert.Len(t, f.bills(r2.ID), 1)
	assertDec(t, 150, f.meter(r1.ID).LatestMeterReading, "meter not advanced twice")
	assertDec(t, 100, f.meter(r1.ID).OldMeter, "old meter kept")
}

func TestGenerate_ReadingBelowPreviousRejected(t *testing.T) {
	f := newFixture(t)
	room := f.room("101", 100)
	f.live(room, "A", dorm.ResidencyPrimary, june)

	report, err := f.engine().GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month: june, DueDate: due, Readings: map[string]decimal.Decimal{room.ID: num(80)},
	})
	require.NoError(t, err, "per-room problems never fail the batch")

	require.Len(t, report.Results, 1)
	assert.Equal(t, billing.OutcomeMeterReadingBelowPrevious, report.Results[0].Outcome)
	assert.ErrorIs(t, report.Results[0].Err, dorm.ErrMeterReadingBelowPrevious)
	assert.Equal(t, "MeterReadingBelowPrevious", dorm.CodeOf(report.Results[0].Err))
	assert.Empty(t, f.bills(room.ID))
	assertDec(t, 100, f.meter(room.ID).LatestMeterReading, "meter unchanged")
}

func TestGenerate_MeterIsMonotonicAcrossMonths(t *testing.T) {
	f := newFixture(t)
	room := f.room("101", 100)
	f.live(room, "A", dorm.ResidencyPrimary, june)
	eng := f.engine()

	run := func(month time.Time, reading int64) billing.RoomOutcome {
		report, err := eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
			Month: month, DueDate: month.AddDate(0, 0, 9), Readings: map[string]decimal.Decimal{room.ID: num(reading)},
		})
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		return report.Results[0].Outcome
	}

	assert.Equal(t, billing.OutcomeBilled, run(june, 150))
	assert.Equal(t, billing.OutcomeBilled, run(june.AddDate(0, 1, 0), 150), "unchanged meter is allowed")
	assert.Equal(t, billing.OutcomeMeterReadingBelowPrevious, run(june.AddDate(0, 2, 0), 149))
	assertDec(t, 150, f.meter(room.ID).LatestMeterReading, "latest meter")

	july := f.bills(room.ID)
	require.Len(t, july, 2)
	assert.True(t, july[0].ElectricityUnits.IsZero(), "newest first: July used nothing")
}

func TestGenerate_PerRoomOutcomes(t *testing.T) {
	f := newFixture(t)
	billed := f.room("101", 0)
	missing := f.room("102", 0)
	empty := f.room("103", 0)
	f.live(billed, "A", dorm.ResidencyPrimary, june)
	f.live(missing, "B", dorm.ResidencyPrimary, june)

	rec := &recorder{}
	report, err := f.engine(billing.WithNotifier(rec)).GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month:   june,
		DueDate: due,
		Readings: map[string]decimal.Decimal{
			billed.ID: num(10),
			empty.ID:  num(10),
			"ghost":   num(10),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]billing.RoomOutcome{
		billed.ID:  billing.OutcomeBilled,
		missing.ID: billing.OutcomeMissingMeterReading,
		empty.ID:   billing.OutcomeNotOccupied,
		"ghost":    billing.OutcomeRoomNotFound,
	}, outcomes(report))
	assert.Len(t, report.Skipped(), 3)

	// one failure event per skipped room, then a partial summary
	require.Len(t, rec.events, 4)
	last := rec.events[3]
	assert.Equal(t, notify.OutcomePartial, last.Outcome)
	assert.Equal(t, "2024-06", last.Subject)
	assert.Equal(t, staff.ID, last.ActorID)
}

func TestGenerate_CoOccupantsOnlyBillsEarliestCheckIn(t *testing.T) {
	f := newFixture(t)
	room := f.room("101", 0)
	f.live(room, "Late", dorm.ResidencyCoOccupant, june.AddDate(0, 0, 9))
	early := f.live(room, "Early", dorm.ResidencyCoOccupant, june.AddDate(0, -1, 0))

	report, err := f.engine().GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month: june, DueDate: due, Readings: map[string]decimal.Decimal{room.ID: num(5)},
	})
	require.NoError(t, err)
	require.Equal(t, billing.OutcomeBilled, report.Results[0].Outcome)
	assert.Equal(t, early.ID, report.Results[0].Bill.TenantID)
}

// failingBills fails bill inserts for one room, with "disk full" unless err
// is set.
type failingBills struct {
	gateway.Gateway
	roomID string
	err    error
}

func (g failingBills) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	if table == dorm.TableBilling && row["room_id"] == g.roomID {
		if g.err != nil {
			return nil, g.err
		}
		return nil, errors.New("disk full")
	}
	return g.Gateway.Insert(ctx, table, row)
}

func (g failingBills) WithTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	return g.Gateway.(gateway.TxGateway).WithTx(ctx, func(tx gateway.Gateway) error {
		return fn(failingBills{Gateway: tx, roomID: g.roomID, err: g.err})
	})
}

func TestGenerate_StoreFailureIsolatedToRoom(t *testing.T) {
	f := newFixture(t)
	ok := f.room("101", 0)
	bad := f.room("102", 0)
	f.live(ok, "A", dorm.ResidencyPrimary, june)
	f.live(bad, "B", dorm.ResidencyPrimary, june)

	eng := billing.NewEngine(failingBills{Gateway: f.gw, roomID: bad.ID}, dorm.FixedClock{T: today}, settings.Static(standardRates))
	report, err := eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month: june, DueDate: due, Readings: map[string]decimal.Decimal{ok.ID: num(10), bad.ID: num(10)},
	})
	require.NoError(t, err)

	got := outcomes(report)
	assert.Equal(t, billing.OutcomeBilled, got[ok.ID])
	assert.Equal(t, billing.OutcomePersistenceError, got[bad.ID])
	assert.Empty(t, f.bills(bad.ID))
	assertDec(t, 0, f.meter(bad.ID).LatestMeterReading, "failed room keeps its meter")
}

func TestGenerate_ValidationFailureIsNotAMissingReading(t *testing.T) {
	f := newFixture(t)
	missing := f.room("101", 0)
	bad := f.room("102", 0)
	f.live(missing, "A", dorm.ResidencyPrimary, june)
	f.live(bad, "B", dorm.ResidencyPrimary, june)

	// GIVEN: the store rejects room 102's bill as invalid
	eng := billing.NewEngine(failingBills{Gateway: f.gw, roomID: bad.ID, err: dorm.Invalid("sum", "out of range")},
		dorm.FixedClock{T: today}, settings.Static(standardRates))

	// WHEN: 101 has no reading and 102 has one
	report, err := eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month: june, DueDate: due, Readings: map[string]decimal.Decimal{bad.ID: num(10)},
	})
	require.NoError(t, err)

	// THEN: only 101 is reported as missing its reading
	got := outcomes(report)
	assert.Equal(t, billing.OutcomeMissingMeterReading, got[missing.ID])
	assert.Equal(t, billing.OutcomeInvalid, got[bad.ID])
	for _, res := range report.Results {
		switch res.RoomID {
		case missing.ID:
			assert.ErrorIs(t, res.Err, dorm.ErrMissingMeterReading)
			assert.Equal(t, "MissingMeterReading", dorm.CodeOf(res.Err))
		case bad.ID:
			assert.NotErrorIs(t, res.Err, dorm.ErrMissingMeterReading)
			assert.Equal(t, dorm.KindValidation, dorm.KindOf(res.Err))
		}
	}
}

// countingProvider counts settings reads.
type countingProvider struct{ calls int32 }

func (c *countingProvider) Current(context.Context) (dorm.Settings, error) {
	atomic.AddInt32(&c.calls, 1)
	return standardRates, nil
}

func TestGenerate_SettingsReadOncePerBatch(t *testing.T) {
	f := newFixture(t)
	readings := map[string]decimal.Decimal{}
	for _, n := range []string{"101", "102", "103"} {
		r := f.room(n, 0)
		f.live(r, "T"+n, dorm.ResidencyPrimary, june)
		readings[r.ID] = num(10)
	}
	p := &countingProvider{}
	eng := billing.NewEngine(f.gw, dorm.FixedClock{T: today}, p)

	report, err := eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{Month: june, DueDate: due, Readings: readings})
	require.NoError(t, err)
	assert.Len(t, report.Billed(), 3)
	assert.EqualValues(t, 1, atomic.LoadInt32(&p.calls))

	// explicit settings bypass the provider
	override := standardRates
	override.DepositRate = num(4000)
	report, err = eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month: june.AddDate(0, 1, 0), DueDate: due.AddDate(0, 1, 0), Readings: readings, Settings: &override,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&p.calls))
	assertDec(t, 4000, report.Billed()[0].Bill.RoomRent, "override rent")
}

func TestGenerate_BatchLevelFailures(t *testing.T) {
	f := newFixture(t)
	eng := f.engine()

	_, err := eng.GenerateMonthlyBills(f.ctx, dorm.Actor{ID: "t1", Role: dorm.RoleTenant}, billing.BatchRequest{Month: june, DueDate: due})
	assert.ErrorIs(t, err, dorm.ErrPermissionDenied)

	_, err = eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{DueDate: due})
	assert.ErrorIs(t, err, dorm.ErrValidation)

	_, err = eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{Month: june})
	assert.ErrorIs(t, err, dorm.ErrValidation)

	broken := standardRates
	broken.DepositRate = decimal.Zero
	_, err = eng.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{Month: june, DueDate: due, Settings: &broken})
	assert.ErrorIs(t, err, dorm.ErrValidation)

	none := billing.NewEngine(f.gw, nil, settings.NewGatewayProvider(f.gw))
	_, err = none.GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{Month: june, DueDate: due})
	assert.ErrorIs(t, err, dorm.ErrSettingsNotFound)
}

// =============================================================================
// PAYMENT
// =============================================================================

func (f *fixture) oneBill() dorm.Bill {
	f.t.Helper()
	room := f.room("101", 0)
	f.live(room, "A", dorm.ResidencyPrimary, june)
	report, err := f.engine().GenerateMonthlyBills(f.ctx, staff, billing.BatchRequest{
		Month: june, DueDate: due, Readings: map[string]decimal.Decimal{room.ID: num(10)},
	})
	require.NoError(f.t, err)
	require.Len(f.t, report.Billed(), 1)
	return *report.Billed()[0].Bill
}

func TestMarkBillPaid_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	bill := f.oneBill()
	eng := f.engine()

	paid, err := eng.MarkBillPaid(f.ctx, staff, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, dorm.BillPaid, paid.Status)
	require.NotNil(t, paid.PaidDate)
	assert.Equal(t, dorm.Day(today), *paid.PaidDate)

	_, err = eng.MarkBillPaid(f.ctx, staff, bill.ID)
	assert.ErrorIs(t, err, dorm.ErrAlreadyPaid)
	assert.Equal(t, dorm.KindConflict, dorm.KindOf(err))

	_, err = eng.MarkBillPaid(f.ctx, staff, "missing")
	assert.ErrorIs(t, err, dorm.ErrBillNotFound)

	_, err = eng.MarkBillPaid(f.ctx, dorm.Actor{ID: "t1", Role: dorm.RoleTenant}, bill.ID)
	assert.ErrorIs(t, err, dorm.ErrPermissionDenied)
}

func TestMarkBillPaid_ConcurrentPayersOneWinner(t *testing.T) {
	f := newFixture(t)
	bill := f.oneBill()
	eng := f.engine()

	var wins, already int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.MarkBillPaid(f.ctx, staff, bill.ID)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, dorm.ErrAlreadyPaid):
				atomic.AddInt32(&already, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, 7, already)
}

func TestMarkOverdue(t *testing.T) {
	f := newFixture(t)
	bill := f.oneBill()
	eng := f.engine()

	n, err := eng.MarkOverdue(f.ctx, dorm.System, due)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "due today is not overdue yet")

	n, err = eng.MarkOverdue(f.ctx, dorm.System, due.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := eng.GetBill(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, dorm.BillOverdue, got.Status)

	// overdue bills can still be paid, and paid bills never turn overdue
	_, err = eng.MarkBillPaid(f.ctx, staff, bill.ID)
	require.NoError(t, err)
	n, err = eng.MarkOverdue(f.ctx, dorm.System, due.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	list, err := eng.ListBills(f.ctx, repository.BillFilter{Status: dorm.BillPaid})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
