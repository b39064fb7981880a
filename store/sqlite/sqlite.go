/*
Package sqlite provides a SQLite-backed implementation of the table gateway.

PURPOSE:
  Opens a SQLite database, migrates the dormitory schema and hands back a
  gateway.TxGateway built on store/sqlstore. In production the same
  statements run against Postgres (see store/postgres).

KEY TABLES:
  rooms:           Room catalogue, state machine, meter readings, version
  tenants:         Tenant records, soft-deleted via action = 2
  occupancy:       Stay history; one current row per tenant
  billing:         Monthly bills; one per room per month
  profiles:        Login accounts pointing at tenants or staff
  system_settings: Rate history; the newest row is authoritative

INDEXES:
  Uniqueness invariants are enforced by the database, not only by code:
  - idx_occupancy_current_tenant: (tenant_id) WHERE is_current = 1
  - idx_billing_room_month:       (room_id, billing_month)
  - idx_rooms_number:             (room_number)

TYPES:
  Money and meter readings are TEXT holding canonical decimals, dates are
  TEXT (YYYY-MM-DD), timestamps are TEXT (RFC3339). Booleans are INTEGER.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and a single connection:
  - Readers never see half-applied transactions
  - Writers queue instead of failing with SQLITE_BUSY
  - ":memory:" databases stay one database instead of one per connection

USAGE:
  store, err := sqlite.New("./data/dorm.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Statement generation
  - gateway/schema.go: Tables, columns and unique indexes
*/
package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/dorm-engine/store/sqlstore"
)

// Dialect recognises SQLite unique constraint failures.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite3",
	IsUniqueViolation: isUniqueConstraintError,
}

// Store is a SQLite table gateway.
type Store struct {
	*sqlstore.Store
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{Store: sqlstore.New(db, Dialect)}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate creates the database schema. It is idempotent.
func (s *Store) Migrate() error {
	_, err := s.DB().Exec(schema)
	return err
}

// Reset deletes every row (dev and demo only).
func (s *Store) Reset() error {
	_, err := s.DB().Exec(`
	DELETE FROM repairs;
	DELETE FROM billing;
	DELETE FROM occupancy;
	DELETE FROM profiles;
	DELETE FROM tenants;
	DELETE FROM rooms;
	DELETE FROM system_settings;`)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		room_number TEXT NOT NULL,
		floor INTEGER NOT NULL DEFAULT 1,
		room_type TEXT,
		capacity INTEGER NOT NULL DEFAULT 2,
		price TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'vacant'
			CHECK (status IN ('vacant', 'occupied', 'maintenance')),
		latest_meter_reading TEXT NOT NULL DEFAULT '0',
		old_meter TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_number ON rooms(room_number);
	CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT,
		email TEXT,
		phone TEXT,
		address TEXT,
		emergency_contact TEXT,
		room_id TEXT REFERENCES rooms(id),
		room_number TEXT,
		residents TEXT,
		action INTEGER NOT NULL DEFAULT 1,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tenants_room ON tenants(room_id) WHERE room_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS occupancy (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		room_id TEXT NOT NULL REFERENCES rooms(id),
		check_in_date TEXT NOT NULL,
		check_out_date TEXT,
		is_current INTEGER NOT NULL DEFAULT 1,
		created_at TEXT
	);

	-- A tenant is current in at most one room
	CREATE UNIQUE INDEX IF NOT EXISTS idx_occupancy_current_tenant
		ON occupancy(tenant_id) WHERE is_current = 1;
	CREATE INDEX IF NOT EXISTS idx_occupancy_room_current
		ON occupancy(room_id, is_current);

	CREATE TABLE IF NOT EXISTS billing (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		tenant_id TEXT REFERENCES tenants(id),
		billing_month TEXT NOT NULL,
		room_rent TEXT NOT NULL,
		water_units TEXT NOT NULL,
		water_cost TEXT NOT NULL,
		electricity_units TEXT NOT NULL,
		electricity_cost TEXT NOT NULL,
		sum TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'paid', 'overdue')),
		due_date TEXT NOT NULL,
		paid_date TEXT,
		receipt_number TEXT,
		created_at TEXT
	);

	-- A room is billed at most once per month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_room_month
		ON billing(room_id, billing_month);
	CREATE INDEX IF NOT EXISTS idx_billing_status_due
		ON billing(status, due_date);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		tenant_id TEXT REFERENCES tenants(id),
		staff_id TEXT,
		role TEXT NOT NULL DEFAULT 'tenant',
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS repairs (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		room_number TEXT,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'in_progress', 'completed', 'cancelled')),
		reported_date TEXT NOT NULL,
		completed_date TEXT,
		profile_id TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_repairs_room_reported
		ON repairs(room_id, reported_date);

	CREATE TABLE IF NOT EXISTS system_settings (
		id TEXT PRIMARY KEY,
		water_rate TEXT NOT NULL,
		electricity_rate TEXT NOT NULL,
		deposit_rate TEXT NOT NULL,
		late_fee TEXT NOT NULL DEFAULT '5',
		floor_count INTEGER NOT NULL DEFAULT 4,
		created_at TEXT,
		updated_at TEXT
	);
`

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
