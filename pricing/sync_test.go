package pricing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway/memory"
	"github.com/warp/dorm-engine/pricing"
	"github.com/warp/dorm-engine/repository"
	"github.com/warp/dorm-engine/settings"
)

var admin = dorm.Actor{ID: "admin-1", Role: dorm.RoleAdmin}

func newTestSync(t *testing.T, rate int64, prices ...int64) (*pricing.Synchronizer, *repository.Repository, *memory.Memory) {
	t.Helper()
	gw := memory.New()
	repo := repository.New(gw, nil)
	for i, p := range prices {
		_, err := repo.CreateRoom(context.Background(), dorm.Room{
			RoomNumber: string(rune('A' + i)),
			Capacity:   2,
			Price:      decimal.NewFromInt(p),
		})
		require.NoError(t, err)
	}
	rates := dorm.Settings{DepositRate: decimal.NewFromInt(rate), WaterRate: decimal.NewFromInt(100), ElectricityRate: decimal.NewFromInt(7)}
	return pricing.NewSynchronizer(gw, nil, settings.Static(rates)), repo, gw
}

func TestCheckSync_ReportsMismatches(t *testing.T) {
	s, _, _ := newTestSync(t, 3500, 3500, 3000, 4000)

	st, err := s.CheckSync(context.Background())
	require.NoError(t, err)
	assert.False(t, st.IsSynced)
	assert.Equal(t, 3, st.TotalRooms)
	assert.True(t, st.SystemRate.Equal(decimal.NewFromInt(3500)))
	require.Len(t, st.MismatchedRooms, 2)
	assert.Equal(t, "B", st.MismatchedRooms[0].RoomNumber)
	assert.Equal(t, "C", st.MismatchedRooms[1].RoomNumber)
}

func TestSyncAll_CheckSyncCheck(t *testing.T) {
	s, repo, _ := newTestSync(t, 3500, 3500, 3000, 4000)
	ctx := context.Background()

	// WHEN: sync
	res, err := s.SyncAll(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedCount)
	assert.True(t, res.NewPrice.Equal(decimal.NewFromInt(3500)))
	assert.Empty(t, res.Errors)

	// THEN: synced, every room at the rate
	st, err := s.CheckSync(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsSynced)
	assert.Empty(t, st.MismatchedRooms)
	rooms, err := repo.ListRooms(ctx)
	require.NoError(t, err)
	for _, r := range rooms {
		assert.True(t, r.Price.Equal(decimal.NewFromInt(3500)), r.RoomNumber)
	}

	// AND: a second run writes nothing
	res, err = s.SyncAll(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
}

func TestSyncAll_AdminOnly(t *testing.T) {
	s, _, _ := newTestSync(t, 3500, 3000)
	_, err := s.SyncAll(context.Background(), dorm.Actor{ID: "s", Role: dorm.RoleStaff})
	assert.ErrorIs(t, err, dorm.ErrPermissionDenied)
}

func TestSyncAll_NoSettings(t *testing.T) {
	gw := memory.New()
	s := pricing.NewSynchronizer(gw, nil, settings.NewGatewayProvider(gw))
	_, err := s.SyncAll(context.Background(), admin)
	assert.ErrorIs(t, err, dorm.ErrSettingsNotFound)
}

func TestOnSettingsChanged_FollowsSavedRate(t *testing.T) {
	gw := memory.New()
	repo := repository.New(gw, nil)
	ctx := context.Background()
	_, err := repo.CreateRoom(ctx, dorm.Room{RoomNumber: "101", Capacity: 2, Price: decimal.NewFromInt(3500)})
	require.NoError(t, err)

	svc := settings.NewService(gw, nil, nil, nil)
	s := pricing.NewSynchronizer(gw, nil, settings.NewGatewayProvider(gw))
	svc.OnChange(s.OnSettingsChanged)

	// WHEN: the admin raises the rent
	dep, water, elec := decimal.NewFromInt(3900), decimal.NewFromInt(100), decimal.NewFromInt(7)
	_, err = svc.Save(ctx, admin, settings.Input{DepositRate: &dep, WaterRate: &water, ElectricityRate: &elec})
	require.NoError(t, err)

	// THEN: rooms follow
	st, err := s.CheckSync(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsSynced)
	rooms, err := repo.ListRooms(ctx)
	require.NoError(t, err)
	assert.True(t, rooms[0].Price.Equal(dep))
}
