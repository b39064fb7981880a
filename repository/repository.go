/*
Package repository maps dormitory records to gateway rows.

PURPOSE:
  The workflows (occupancy, billing, pricing, settings) deal in dorm.Room,
  dorm.Tenant and friends. This package is the only place that knows column
  names and storage encodings:

    decimals   canonical decimal strings
    days       YYYY-MM-DD
    timestamps fixed-width RFC3339 (sorts lexically)
    tenants    State <-> action (1 active, 2 removed)
               Residency <-> residents

  A Repository is bound to one gateway. Inside a transaction, InTx hands
  the callback a Repository bound to the transaction so every read and
  write in the callback sees the same snapshot.

ERRORS:
  Missing rows become the dorm not-found sentinels. Storage failures are
  wrapped as dorm.PersistenceError. Unique violations keep
  gateway.ErrUniqueViolation in the chain so callers can translate them
  (e.g. to dorm.ErrAlreadyBilled).

SEE ALSO:
  - gateway/: Table contract
  - dorm/: Records and errors
*/
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// TimestampLayout is fixed width so string ordering equals time ordering.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Repository gives typed access to every table.
type Repository struct {
	gw    gateway.Gateway
	clock dorm.Clock
}

// New binds a repository to a gateway. A nil clock means the system clock.
func New(gw gateway.Gateway, clock dorm.Clock) *Repository {
	if clock == nil {
		clock = dorm.SystemClock{}
	}
	return &Repository{gw: gw, clock: clock}
}

// Gateway returns the bound gateway.
func (r *Repository) Gateway() gateway.Gateway { return r.gw }

// Clock returns the clock used for audit columns.
func (r *Repository) Clock() dorm.Clock { return r.clock }

// InTx runs fn with a repository bound to a transaction.
func (r *Repository) InTx(ctx context.Context, fn func(*Repository) error) error {
	return gateway.RunInTx(ctx, r.gw, func(tx gateway.Gateway) error {
		return fn(&Repository{gw: tx, clock: r.clock})
	})
}

func (r *Repository) stamp() string {
	return r.clock.Now().UTC().Format(TimestampLayout)
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.String() }

func day(t time.Time) string { return dorm.FormatDate(t) }

func nullableDay(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dorm.FormatDate(*t)
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func persistence(op string, err error) error {
	return dorm.Persistence(op, err)
}

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, gateway.ErrUniqueViolation)
}
