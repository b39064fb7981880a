package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/store/postgres"
)

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestConfig_DSN(t *testing.T) {
	cfg := postgres.Config{Host: "db", Port: 5432, User: "dorm", Password: "secret", Database: "dorm"}
	assert.Equal(t, "host=db port=5432 user=dorm password=secret dbname=dorm sslmode=disable", cfg.DSN())
}

func TestStore_Count_UsesDollarPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM occupancy WHERE room_id = $1 AND is_current = $2")).
		WithArgs("r1", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.Count(context.Background(), "occupancy", gateway.Eq("room_id", "r1"), gateway.Eq("is_current", true))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Select_ExpandsInAndOrders(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM rooms WHERE id IN \(\$1, ?\$2\) ORDER BY room_number ASC LIMIT 5`).
		WithArgs("r1", "r2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "room_number", "price", "version"}).
			AddRow("r1", "101", []byte("3500.00"), int64(3)).
			AddRow("r2", "102", []byte("3000.00"), int64(1)))

	rows, err := store.Select(context.Background(), "rooms",
		gateway.Where(gateway.In("id", "r1", "r2")).Asc("room_number").Take(5))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3500", rows[0].Decimal("price").String())
	assert.EqualValues(t, 3, rows[0].Int("version"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Select_RejectsUnknownColumn(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.Select(context.Background(), "rooms", gateway.Where(gateway.Eq("price; DROP TABLE rooms", 1)))
	assert.ErrorIs(t, err, gateway.ErrUnknownColumn)
	assert.NoError(t, mock.ExpectationsWereMet(), "no SQL reaches the database")
}

func TestStore_Update_ReturnsAffectedRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rooms SET status = $1, version = $2 WHERE id = $3 AND version = $4")).
		WithArgs("occupied", int64(5), "r1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := store.Update(context.Background(), "rooms",
		gateway.Row{"status": "occupied", "version": int64(5)},
		gateway.Eq("id", "r1"), gateway.Eq("version", int64(4)))
	require.NoError(t, err)
	assert.Zero(t, n, "stale version matches nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Update_NullValuesAreInlined(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET staff_id = NULL, tenant_id = NULL WHERE tenant_id IN ($1, $2)")).
		WithArgs("t1", "t2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.Update(context.Background(), "profiles",
		gateway.Row{"tenant_id": nil, "staff_id": nil},
		gateway.In("tenant_id", "t1", "t2"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Insert_MapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing (billing_month, id, room_id) VALUES ($1, $2, $3)")).
		WithArgs("2024-03-01", "b1", "r1").
		WillReturnError(&pq.Error{
			Code:       "23505",
			Message:    `duplicate key value violates unique constraint "idx_billing_room_month"`,
			Constraint: "idx_billing_room_month",
		})

	_, err := store.Insert(context.Background(), "billing",
		gateway.Row{"id": "b1", "room_id": "r1", "billing_month": "2024-03-01"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUniqueViolation)
	var uv *gateway.UniqueViolationError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, "idx_billing_room_month", uv.Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Upsert_OnConflictByID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO system_settings (id, water_rate) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET water_rate = excluded.water_rate")).
		WithArgs("s1", "100").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), "system_settings", gateway.Row{"id": "s1", "water_rate": "100"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_CommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE occupancy SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO occupancy").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(gw gateway.Gateway) error {
		if _, err := gw.Update(ctx, "occupancy", gateway.Row{"is_current": false}, gateway.Eq("tenant_id", "t1")); err != nil {
			return err
		}
		_, err := gw.Insert(ctx, "occupancy", gateway.Row{"id": "o2", "tenant_id": "t1", "room_id": "r2", "is_current": true})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("capacity exceeded")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE rooms SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(gw gateway.Gateway) error {
		if _, err := gw.Update(ctx, "rooms", gateway.Row{"status": "occupied"}, gateway.Eq("id", "r1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NestedRunInTx_JoinsOuterTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tenants").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(gw gateway.Gateway) error {
		return gateway.RunInTx(ctx, gw, func(inner gateway.Gateway) error {
			_, err := inner.Insert(ctx, "tenants", gateway.Row{"id": "t1", "first_name": "Anan"})
			return err
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Reset(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE repairs, billing, occupancy, profiles, tenants, rooms, system_settings")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
