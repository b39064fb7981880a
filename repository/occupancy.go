package repository

import (
	"context"
	"time"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// OCCUPANCY
// =============================================================================

func occupancyFromRow(row gateway.Row) dorm.Occupancy {
	return dorm.Occupancy{
		ID:           row.ID(),
		TenantID:     row.String("tenant_id"),
		RoomID:       row.String("room_id"),
		CheckInDate:  row.Time("check_in_date"),
		CheckOutDate: row.NullableTime("check_out_date"),
		IsCurrent:    row.Bool("is_current"),
		CreatedAt:    row.Time("created_at"),
	}
}

// CurrentOccupants lists the current occupancy rows of a room, earliest
// check-in first.
func (r *Repository) CurrentOccupants(ctx context.Context, roomID string) ([]dorm.Occupancy, error) {
	rows, err := r.gw.Select(ctx, dorm.TableOccupancy,
		gateway.Where(gateway.Eq("room_id", roomID), gateway.Eq("is_current", true)).
			Asc("check_in_date").Asc("created_at"))
	if err != nil {
		return nil, persistence("list occupants", err)
	}
	out := make([]dorm.Occupancy, len(rows))
	for i, row := range rows {
		out[i] = occupancyFromRow(row)
	}
	return out, nil
}

// CountCurrentOccupants is the number of current occupancy rows of a room.
func (r *Repository) CountCurrentOccupants(ctx context.Context, roomID string) (int, error) {
	n, err := r.gw.Count(ctx, dorm.TableOccupancy, gateway.Eq("room_id", roomID), gateway.Eq("is_current", true))
	if err != nil {
		return 0, persistence("count occupants", err)
	}
	return n, nil
}

// AllCurrentOccupancies lists every current occupancy row.
func (r *Repository) AllCurrentOccupancies(ctx context.Context) ([]dorm.Occupancy, error) {
	rows, err := r.gw.Select(ctx, dorm.TableOccupancy, gateway.Where(gateway.Eq("is_current", true)).Asc("room_id"))
	if err != nil {
		return nil, persistence("list occupancies", err)
	}
	out := make([]dorm.Occupancy, len(rows))
	for i, row := range rows {
		out[i] = occupancyFromRow(row)
	}
	return out, nil
}

// CurrentOccupancy returns the tenant's current stay, or nil.
func (r *Repository) CurrentOccupancy(ctx context.Context, tenantID string) (*dorm.Occupancy, error) {
	row, err := gateway.SelectOne(ctx, r.gw, dorm.TableOccupancy,
		gateway.Eq("tenant_id", tenantID), gateway.Eq("is_current", true))
	if err != nil {
		return nil, persistence("load occupancy", err)
	}
	if row == nil {
		return nil, nil
	}
	occ := occupancyFromRow(row)
	return &occ, nil
}

// OccupancyHistory lists every stay of a tenant, newest first.
func (r *Repository) OccupancyHistory(ctx context.Context, tenantID string) ([]dorm.Occupancy, error) {
	rows, err := r.gw.Select(ctx, dorm.TableOccupancy,
		gateway.Where(gateway.Eq("tenant_id", tenantID)).Desc("check_in_date").Desc("created_at"))
	if err != nil {
		return nil, persistence("load occupancy history", err)
	}
	out := make([]dorm.Occupancy, len(rows))
	for i, row := range rows {
		out[i] = occupancyFromRow(row)
	}
	return out, nil
}

// OpenOccupancy inserts a current stay. A second current stay for the same
// tenant violates the unique index and is reported as a concurrent
// modification, since the caller checked for one under lock.
func (r *Repository) OpenOccupancy(ctx context.Context, tenantID, roomID string, checkIn time.Time) (dorm.Occupancy, error) {
	stored, err := r.gw.Insert(ctx, dorm.TableOccupancy, gateway.Row{
		"tenant_id":     tenantID,
		"room_id":       roomID,
		"check_in_date": day(checkIn),
		"is_current":    true,
		"created_at":    r.stamp(),
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return dorm.Occupancy{}, dorm.ErrConcurrentModification
		}
		return dorm.Occupancy{}, persistence("open occupancy", err)
	}
	return occupancyFromRow(stored), nil
}

// CloseTenantOccupancy ends every current stay of the given tenants.
// It returns the number of rows closed.
func (r *Repository) CloseTenantOccupancy(ctx context.Context, checkOut time.Time, tenantIDs ...string) (int64, error) {
	if len(tenantIDs) == 0 {
		return 0, nil
	}
	n, err := r.gw.Update(ctx, dorm.TableOccupancy, gateway.Row{
		"is_current":     false,
		"check_out_date": day(checkOut),
	}, gateway.In("tenant_id", tenantIDs...), gateway.Eq("is_current", true))
	if err != nil {
		return 0, persistence("close occupancy", err)
	}
	return n, nil
}
