package repository

import (
	"context"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// REPAIRS
// =============================================================================

func repairFromRow(row gateway.Row) dorm.Repair {
	return dorm.Repair{
		ID:            row.ID(),
		RoomID:        row.String("room_id"),
		RoomNumber:    row.String("room_number"),
		Description:   row.String("description"),
		Status:        dorm.RepairStatus(row.String("status")),
		ReportedDate:  row.Time("reported_date"),
		CompletedDate: row.NullableTime("completed_date"),
		ProfileID:     row.String("profile_id"),
		CreatedAt:     row.Time("created_at"),
		UpdatedAt:     row.Time("updated_at"),
	}
}

func repairRow(rp dorm.Repair) gateway.Row {
	return gateway.Row{
		"id":             rp.ID,
		"room_id":        rp.RoomID,
		"room_number":    nullableText(rp.RoomNumber),
		"description":    rp.Description,
		"status":         string(rp.Status),
		"reported_date":  day(rp.ReportedDate),
		"completed_date": nullableDay(rp.CompletedDate),
		"profile_id":     nullableText(rp.ProfileID),
	}
}

// RepairFilter narrows ListRepairs. Zero fields are ignored.
type RepairFilter struct {
	RoomID string
	Status dorm.RepairStatus
}

func (f RepairFilter) filters() []gateway.Filter {
	var out []gateway.Filter
	if f.RoomID != "" {
		out = append(out, gateway.Eq("room_id", f.RoomID))
	}
	if f.Status != "" {
		out = append(out, gateway.Eq("status", string(f.Status)))
	}
	return out
}

// GetRepair loads a ticket or returns dorm.ErrRepairNotFound.
func (r *Repository) GetRepair(ctx context.Context, id string) (dorm.Repair, error) {
	row, err := gateway.SelectOne(ctx, r.gw, dorm.TableRepairs, gateway.Eq("id", id))
	if err != nil {
		return dorm.Repair{}, persistence("load repair", err)
	}
	if row == nil {
		return dorm.Repair{}, dorm.NotFound(dorm.ErrRepairNotFound, id)
	}
	return repairFromRow(row), nil
}

// ListRepairs returns tickets most recently reported first.
func (r *Repository) ListRepairs(ctx context.Context, f RepairFilter) ([]dorm.Repair, error) {
	rows, err := r.gw.Select(ctx, dorm.TableRepairs,
		gateway.Where(f.filters()...).Desc("reported_date").Desc("created_at"))
	if err != nil {
		return nil, persistence("list repairs", err)
	}
	out := make([]dorm.Repair, len(rows))
	for i, row := range rows {
		out[i] = repairFromRow(row)
	}
	return out, nil
}

// CreateRepair inserts a ticket.
func (r *Repository) CreateRepair(ctx context.Context, rp dorm.Repair) (dorm.Repair, error) {
	row := repairRow(rp)
	now := r.stamp()
	row["created_at"] = now
	row["updated_at"] = now
	if rp.ID == "" {
		delete(row, "id")
	}
	stored, err := r.gw.Insert(ctx, dorm.TableRepairs, row)
	if err != nil {
		return dorm.Repair{}, persistence("create repair", err)
	}
	return repairFromRow(stored), nil
}

// SaveRepair writes every mutable column of an existing ticket.
func (r *Repository) SaveRepair(ctx context.Context, rp dorm.Repair) (dorm.Repair, error) {
	row := repairRow(rp)
	delete(row, "id")
	row["updated_at"] = r.stamp()
	n, err := r.gw.Update(ctx, dorm.TableRepairs, row, gateway.Eq("id", rp.ID))
	if err != nil {
		return dorm.Repair{}, persistence("save repair", err)
	}
	if n == 0 {
		return dorm.Repair{}, dorm.NotFound(dorm.ErrRepairNotFound, rp.ID)
	}
	return r.GetRepair(ctx, rp.ID)
}
