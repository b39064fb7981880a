package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/app"
	"github.com/warp/dorm-engine/config"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/occupancy"
	"github.com/warp/dorm-engine/settings"
	"github.com/xuri/excelize/v2"
)

// useSQLite points every command at a fresh database file.
func useSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dorm.db")
	t.Setenv("STORE_DRIVER", config.DriverSQLite)
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env", ""))
	err := cmd.Execute()
	return out.String(), err
}

// seed stores settings and an occupied room 101 with two occupants plus a
// vacant room 102 priced off the system rent.
func seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := app.Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	rent, water, elec := decimal.NewFromInt(3500), decimal.NewFromInt(100), decimal.NewFromInt(7)
	_, err = a.Settings.Save(ctx, dorm.System, settings.Input{DepositRate: &rent, WaterRate: &water, ElectricityRate: &elec})
	require.NoError(t, err)

	room, err := a.Occupancy.CreateRoom(ctx, dorm.System, occupancy.RoomInput{RoomNumber: "101", Capacity: 2, Price: rent})
	require.NoError(t, err)
	_, err = a.Occupancy.CreateRoom(ctx, dorm.System, occupancy.RoomInput{RoomNumber: "102", Capacity: 2, Price: decimal.NewFromInt(3000)})
	require.NoError(t, err)
	tenant, err := a.Occupancy.CreateTenant(ctx, dorm.System, occupancy.TenantInput{FirstName: "Anan"})
	require.NoError(t, err)
	_, err = a.Occupancy.AssignTenant(ctx, dorm.System, tenant.ID, room.ID)
	require.NoError(t, err)
	_, err = a.Occupancy.AddCoOccupant(ctx, dorm.System, room.ID, occupancy.CoOccupantInput{FirstName: "Bee"})
	require.NoError(t, err)
}

func TestMigrate(t *testing.T) {
	useSQLite(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
}

func TestBillsGenerate(t *testing.T) {
	useSQLite(t)
	seed(t)
	xlsx := filepath.Join(t.TempDir(), "june.xlsx")

	// WHEN: June is billed with a reading of 50 for room 101 and one for an unknown room
	out, err := execute(t, "bills", "generate", "--month", "2024-06", "--due", "2024-07-05",
		"--reading", "101=50", "--reading", "999=10", "--xlsx", xlsx, "--role", "staff")

	// THEN: 101 gets the 3500 + 200 + 350 bill and 999 is reported missing
	require.NoError(t, err)
	assert.Contains(t, out, "INV-202406-101")
	assert.Contains(t, out, "4050.00")
	assert.Contains(t, out, "1 bills created, 1 skipped (RoomNotFound: 1)")

	f, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Batch")
	require.NoError(t, err)
	assert.Equal(t, "Billed", rows[1][1])

	// AND: a second run bills nothing
	out, err = execute(t, "bills", "generate", "--month", "2024-06", "--due", "2024-07-05", "--reading", "101=50")
	require.NoError(t, err)
	assert.Contains(t, out, "0 bills created, 1 skipped (AlreadyBilled: 1)")

	// AND: the overdue sweep after the due date flips it
	out, err = execute(t, "bills", "overdue", "--as-of", "2024-07-06")
	require.NoError(t, err)
	assert.Contains(t, out, "1 bills marked overdue as of 2024-07-06")
}

func TestBillsGenerate_RejectsTenantRole(t *testing.T) {
	useSQLite(t)
	seed(t)

	_, err := execute(t, "bills", "generate", "--month", "2024-06", "--due", "2024-07-05", "--role", "tenant")
	assert.ErrorIs(t, err, dorm.ErrPermissionDenied)
}

func TestPricesCheckAndSync(t *testing.T) {
	useSQLite(t)
	seed(t)

	out, err := execute(t, "prices", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 2 rooms differ from 3500.00")
	assert.Contains(t, out, "102")

	out, err = execute(t, "prices", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 rooms updated to 3500.00")

	out, err = execute(t, "prices", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "all 2 rooms at 3500.00")
}

func TestSettingsCommands(t *testing.T) {
	useSQLite(t)

	// No settings yet.
	out, err := execute(t, "settings", "validate")
	assert.Error(t, err)
	assert.Contains(t, out, "No system settings found in database")

	seed(t)
	out, err = execute(t, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"deposit_rate": "3500"`)

	out, err = execute(t, "settings", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "settings valid")
}

func TestAudit(t *testing.T) {
	useSQLite(t)
	seed(t)

	out, err := execute(t, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "no violations")
}
