/*
Package gateway defines the table-level persistence contract used by the
dormitory workflows.

PURPOSE:
  Occupancy, billing and pricing never speak SQL. They read and write rows
  of six tables through this interface:

    rooms, tenants, occupancy, billing, profiles, repairs, system_settings

  Any backing store that can filter by equality/inclusion/null, order,
  limit, insert, update, upsert by id and count can serve the engine.

CONTRACT:
  Select(ctx, table, query)         Rows matching all filters
  Insert(ctx, table, row)           Row as stored (id generated if absent)
  InsertMany(ctx, table, rows)      All-or-nothing insert
  Update(ctx, table, patch, f...)   Affected row count
  Upsert(ctx, table, row)           Insert or replace by id
  Count(ctx, table, f...)           Number of matching rows

  Update returns the affected count so callers can implement compare-and-swap
  on a version column:

    n, err := gw.Update(ctx, "rooms", patch, gateway.Eq("id", id), gateway.Eq("version", v))
    if n == 0 { ... lost the race ... }

TRANSACTIONS:
  Stores that support atomic multi-statement work implement TxGateway.
  RunInTx uses it when present and otherwise runs the function directly.
  Nested RunInTx calls inside a transaction join the outer transaction.

VALUES:
  Row values are limited to string, int64, bool and nil on the write path.
  Readers must accept whatever the driver hands back; the typed accessors
  on Row do that conversion.

SEE ALSO:
  - gateway/memory: In-memory implementation for tests and demos
  - store/sqlstore: SQL implementation shared by SQLite and Postgres
  - repository/: Typed access built on this contract
*/
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUniqueViolation is returned when a write collides with a unique index.
	ErrUniqueViolation = errors.New("unique constraint violated")

	// ErrUnknownTable is returned for a table outside the schema.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownColumn is returned for a column name that is not a plain identifier.
	ErrUnknownColumn = errors.New("unknown column")
)

// UniqueViolationError names the index that rejected the write.
type UniqueViolationError struct {
	Table string
	Index string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("%s: unique index %s violated", e.Table, e.Index)
}

func (e *UniqueViolationError) Unwrap() error { return ErrUniqueViolation }

// =============================================================================
// INTERFACES
// =============================================================================

// Gateway is the generic table interface.
type Gateway interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	InsertMany(ctx context.Context, table string, rows []Row) ([]Row, error)
	Update(ctx context.Context, table string, patch Row, filters ...Filter) (int64, error)
	Upsert(ctx context.Context, table string, row Row) error
	Count(ctx context.Context, table string, filters ...Filter) (int, error)
}

// TxGateway extends Gateway with transaction support.
type TxGateway interface {
	Gateway

	// WithTx runs fn inside a transaction. If fn returns an error every write
	// made through the Gateway passed to fn is rolled back.
	WithTx(ctx context.Context, fn func(Gateway) error) error
}

// RunInTx runs fn in a transaction when gw supports one.
func RunInTx(ctx context.Context, gw Gateway, fn func(Gateway) error) error {
	if tx, ok := gw.(TxGateway); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(gw)
}

// SelectOne returns the first matching row, or nil when nothing matches.
func SelectOne(ctx context.Context, gw Gateway, table string, filters ...Filter) (Row, error) {
	rows, err := gw.Select(ctx, table, Where(filters...).Take(1))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
