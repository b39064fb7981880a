package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/gateway/memory"
	"github.com/warp/dorm-engine/repository"
)

var march1 = time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*repository.Repository, *memory.Memory) {
	gw := memory.New()
	return repository.New(gw, dorm.FixedClock{T: march1}), gw
}

// =============================================================================
// ROOM TESTS
// =============================================================================

func TestRooms_CreateAndCompareAndSwap(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	room, err := repo.CreateRoom(ctx, dorm.Room{RoomNumber: "101", Floor: 1, Capacity: 2, Price: decimal.NewFromInt(3500)})
	require.NoError(t, err)
	assert.Equal(t, dorm.RoomVacant, room.Status)
	assert.EqualValues(t, 1, room.Version)

	updated, err := repo.SetRoomStatus(ctx, room, dorm.RoomOccupied)
	require.NoError(t, err)
	assert.Equal(t, dorm.RoomOccupied, updated.Status)
	assert.EqualValues(t, 2, updated.Version)

	// A writer holding the stale version loses.
	_, err = repo.SetRoomStatus(ctx, room, dorm.RoomMaintenance)
	assert.ErrorIs(t, err, dorm.ErrConcurrentModification)

	_, err = repo.CreateRoom(ctx, dorm.Room{RoomNumber: "101"})
	assert.ErrorIs(t, err, dorm.ErrValidation, "room numbers are unique")
}

func TestRooms_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.GetRoom(context.Background(), "nope")
	assert.ErrorIs(t, err, dorm.ErrRoomNotFound)
}

// =============================================================================
// TENANT TESTS
// =============================================================================

func TestTenants_StateIsStoredAsAction(t *testing.T) {
	repo, gw := newTestRepo(t)
	ctx := context.Background()

	tenant, err := repo.CreateTenant(ctx, dorm.Tenant{FirstName: "Anan"})
	require.NoError(t, err)
	assert.Equal(t, dorm.TenantActive, tenant.State)
	assert.Equal(t, dorm.ResidencyPrimary, tenant.Residency)

	require.NoError(t, repo.MarkTenantsRemoved(ctx, tenant.ID))

	row, err := gateway.SelectOne(ctx, gw, dorm.TableTenants, gateway.Eq("id", tenant.ID))
	require.NoError(t, err)
	assert.EqualValues(t, 2, row.Int("action"))

	_, err = repo.GetActiveTenant(ctx, tenant.ID)
	assert.ErrorIs(t, err, dorm.ErrTenantNotFound)

	removed, err := repo.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, dorm.TenantRemoved, removed.State)
}

func TestTenants_UnassignedRoomIsNull(t *testing.T) {
	repo, gw := newTestRepo(t)
	ctx := context.Background()

	tenant, err := repo.CreateTenant(ctx, dorm.Tenant{FirstName: "Malee"})
	require.NoError(t, err)

	row, err := gateway.SelectOne(ctx, gw, dorm.TableTenants, gateway.Eq("id", tenant.ID))
	require.NoError(t, err)
	assert.True(t, row.IsNull("room_id"))
}

func TestProfiles_Detach(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	tid, staff := "t1", "s1"
	_, err := repo.CreateProfile(ctx, dorm.Profile{TenantID: &tid, StaffID: &staff, Role: dorm.RoleTenant})
	require.NoError(t, err)

	require.NoError(t, repo.DetachProfiles(ctx, "t1"))

	left, err := repo.ProfilesForTenants(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

// =============================================================================
// OCCUPANCY TESTS
// =============================================================================

func TestOccupancy_OpenCloseCount(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.OpenOccupancy(ctx, "t1", "r1", march1)
	require.NoError(t, err)
	_, err = repo.OpenOccupancy(ctx, "t2", "r1", march1.AddDate(0, 0, 1))
	require.NoError(t, err)

	_, err = repo.OpenOccupancy(ctx, "t1", "r2", march1)
	assert.ErrorIs(t, err, dorm.ErrConcurrentModification, "second current stay is rejected")

	n, err := repo.CountCurrentOccupants(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	closed, err := repo.CloseTenantOccupancy(ctx, march1.AddDate(0, 1, 0), "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, closed)

	cur, err := repo.CurrentOccupancy(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, cur)

	history, err := repo.OccupancyHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].CheckOutDate)
	assert.Equal(t, "2024-04-01", dorm.FormatDate(*history[0].CheckOutDate))
}

// =============================================================================
// BILLING TESTS
// =============================================================================

func sampleBill() dorm.Bill {
	return dorm.Bill{
		RoomID:           "r1",
		TenantID:         "t1",
		BillingMonth:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		RoomRent:         decimal.NewFromInt(3500),
		WaterUnits:       decimal.NewFromInt(2),
		WaterCost:        decimal.NewFromInt(200),
		ElectricityUnits: decimal.NewFromInt(50),
		ElectricityCost:  decimal.NewFromInt(350),
		Sum:              decimal.NewFromInt(4050),
		Status:           dorm.BillPending,
		DueDate:          time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestBills_DuplicateIsAlreadyBilled(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	bill, err := repo.CreateBill(ctx, sampleBill())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bill.BillingMonth, "month is normalised")
	assert.True(t, bill.Sum.Equal(decimal.NewFromInt(4050)))

	exists, err := repo.BillExists(ctx, "r1", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.CreateBill(ctx, sampleBill())
	assert.ErrorIs(t, err, dorm.ErrAlreadyBilled)
}

func TestBills_PayOnlyOnce(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	bill, err := repo.CreateBill(ctx, sampleBill())
	require.NoError(t, err)

	ok, err := repo.MarkBillPaid(ctx, bill.ID, march1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkBillPaid(ctx, bill.ID, march1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBills_MarkOverdue(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateBill(ctx, sampleBill())
	require.NoError(t, err)

	n, err := repo.MarkOverdue(ctx, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n, "due today is not overdue")

	n, err = repo.MarkOverdue(ctx, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	bills, err := repo.ListBills(ctx, repository.BillFilter{Status: dorm.BillOverdue})
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestSettings_LatestAndSave(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LatestSettings(ctx)
	assert.ErrorIs(t, err, dorm.ErrSettingsNotFound)

	s := dorm.Settings{
		WaterRate:       decimal.NewFromInt(100),
		ElectricityRate: decimal.NewFromInt(7),
		DepositRate:     decimal.NewFromInt(3500),
		LateFee:         decimal.NewFromInt(5),
		FloorCount:      4,
	}
	require.NoError(t, repo.SaveSettings(ctx, s))
	s.WaterRate = decimal.NewFromInt(120)
	require.NoError(t, repo.SaveSettings(ctx, s))

	n, err := repo.CountSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "save overwrites the newest row")

	got, err := repo.LatestSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.WaterRate.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, 4, got.FloorCount)
}
