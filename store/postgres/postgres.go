/*
Package postgres provides the production table gateway on PostgreSQL.

PURPOSE:
  Same statements as store/sqlite (generated by store/sqlstore), with a
  native Postgres schema: NUMERIC money, DATE days, BOOLEAN flags and
  TIMESTAMPTZ audit columns. Unique invariants are database constraints:

  - idx_occupancy_current_tenant: (tenant_id) WHERE is_current
  - idx_billing_room_month:       (room_id, billing_month)
  - idx_rooms_number:             (room_number)

  Constraint violations (SQLSTATE 23505) surface as
  gateway.ErrUniqueViolation.

USAGE:
  store, err := postgres.Open(ctx, postgres.Config{Host: "localhost", ...})

SEE ALSO:
  - store/sqlstore: Statement generation
  - store/sqlite: Development store
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/warp/dorm-engine/store/sqlstore"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Dialect recognises Postgres unique constraint failures.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	IsUniqueViolation: isUniqueViolation,
}

// Config holds connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN renders a lib/pq keyword/value connection string.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// Store is a Postgres table gateway.
type Store struct {
	*sqlstore.Store
}

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewWithDB(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already open handle without migrating.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{Store: sqlstore.New(db, Dialect)}
}

// Migrate creates the schema. Each statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		room_number TEXT NOT NULL,
		floor INTEGER NOT NULL DEFAULT 1,
		room_type TEXT,
		capacity INTEGER NOT NULL DEFAULT 2,
		price NUMERIC(12,2) NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'vacant'
			CHECK (status IN ('vacant', 'occupied', 'maintenance')),
		latest_meter_reading NUMERIC(12,2) NOT NULL DEFAULT 0,
		old_meter NUMERIC(12,2) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_number ON rooms(room_number)`,
	`CREATE TABLE IF NOT EXISTS tenants (
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
		action SMALLINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tenants_room ON tenants(room_id) WHERE room_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS occupancy (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		room_id TEXT NOT NULL REFERENCES rooms(id),
		check_in_date DATE NOT NULL,
		check_out_date DATE,
		is_current BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_occupancy_current_tenant
		ON occupancy(tenant_id) WHERE is_current`,
	`CREATE INDEX IF NOT EXISTS idx_occupancy_room_current ON occupancy(room_id, is_current)`,
	`CREATE TABLE IF NOT EXISTS billing (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		tenant_id TEXT REFERENCES tenants(id),
		billing_month DATE NOT NULL,
		room_rent NUMERIC(12,2) NOT NULL,
		water_units NUMERIC(12,2) NOT NULL,
		water_cost NUMERIC(12,2) NOT NULL,
		electricity_units NUMERIC(12,2) NOT NULL,
		electricity_cost NUMERIC(12,2) NOT NULL,
		sum NUMERIC(12,2) NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'paid', 'overdue')),
		due_date DATE NOT NULL,
		paid_date DATE,
		receipt_number TEXT,
		created_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_room_month ON billing(room_id, billing_month)`,
	`CREATE INDEX IF NOT EXISTS idx_billing_status_due ON billing(status, due_date)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		tenant_id TEXT REFERENCES tenants(id),
		staff_id TEXT,
		role TEXT NOT NULL DEFAULT 'tenant',
		created_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS repairs (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		room_number TEXT,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'in_progress', 'completed', 'cancelled')),
		reported_date DATE NOT NULL,
		completed_date DATE,
		profile_id TEXT,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_repairs_room_reported ON repairs(room_id, reported_date)`,
	`CREATE TABLE IF NOT EXISTS system_settings (
		id TEXT PRIMARY KEY,
		water_rate NUMERIC(12,2) NOT NULL,
		electricity_rate NUMERIC(12,2) NOT NULL,
		deposit_rate NUMERIC(12,2) NOT NULL,
		late_fee NUMERIC(12,2) NOT NULL DEFAULT 5,
		floor_count INTEGER NOT NULL DEFAULT 4,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// Reset deletes every row (dev and demo only).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.DB().ExecContext(ctx,
		`TRUNCATE repairs, billing, occupancy, profiles, tenants, rooms, system_settings`)
	return err
}
