package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// ROOMS
// =============================================================================

func roomFromRow(row gateway.Row) dorm.Room {
	return dorm.Room{
		ID:                 row.ID(),
		RoomNumber:         row.String("room_number"),
		Floor:              int(row.Int("floor")),
		RoomType:           row.String("room_type"),
		Capacity:           int(row.Int("capacity")),
		Price:              row.Decimal("price"),
		Status:             dorm.RoomStatus(row.String("status")),
		LatestMeterReading: row.Decimal("latest_meter_reading"),
		OldMeter:           row.Decimal("old_meter"),
		Version:            row.Int("version"),
		CreatedAt:          row.Time("created_at"),
		UpdatedAt:          row.Time("updated_at"),
	}
}

func roomRow(room dorm.Room) gateway.Row {
	return gateway.Row{
		"id":                   room.ID,
		"room_number":          room.RoomNumber,
		"floor":                int64(room.Floor),
		"room_type":            nullableText(room.RoomType),
		"capacity":             int64(room.Capacity),
		"price":                money(room.Price),
		"status":               string(room.Status),
		"latest_meter_reading": money(room.LatestMeterReading),
		"old_meter":            money(room.OldMeter),
		"version":              room.Version,
	}
}

// GetRoom loads a room or returns dorm.ErrRoomNotFound.
func (r *Repository) GetRoom(ctx context.Context, id string) (dorm.Room, error) {
	row, err := gateway.SelectOne(ctx, r.gw, dorm.TableRooms, gateway.Eq("id", id))
	if err != nil {
		return dorm.Room{}, persistence("load room", err)
	}
	if row == nil {
		return dorm.Room{}, dorm.NotFound(dorm.ErrRoomNotFound, id)
	}
	return roomFromRow(row), nil
}

// ListRooms returns rooms matching filters ordered by room number.
func (r *Repository) ListRooms(ctx context.Context, filters ...gateway.Filter) ([]dorm.Room, error) {
	rows, err := r.gw.Select(ctx, dorm.TableRooms, gateway.Where(filters...).Asc("room_number"))
	if err != nil {
		return nil, persistence("list rooms", err)
	}
	out := make([]dorm.Room, len(rows))
	for i, row := range rows {
		out[i] = roomFromRow(row)
	}
	return out, nil
}

// CreateRoom inserts a room. Version starts at 1.
func (r *Repository) CreateRoom(ctx context.Context, room dorm.Room) (dorm.Room, error) {
	if room.Status == "" {
		room.Status = dorm.RoomVacant
	}
	if !room.Status.Valid() {
		return dorm.Room{}, dorm.Invalid("status", "unknown room status %q", room.Status)
	}
	room.Version = 1
	row := roomRow(room)
	now := r.stamp()
	row["created_at"] = now
	row["updated_at"] = now
	if room.ID == "" {
		delete(row, "id")
	}
	stored, err := r.gw.Insert(ctx, dorm.TableRooms, row)
	if err != nil {
		if IsUniqueViolation(err) {
			return dorm.Room{}, dorm.Invalid("room_number", "room %s already exists", room.RoomNumber)
		}
		return dorm.Room{}, persistence("create room", err)
	}
	return roomFromRow(stored), nil
}

// UpdateRoom applies patch only if the room still has the version the
// caller read. On success the returned room carries the bumped version.
// A lost race is dorm.ErrConcurrentModification.
func (r *Repository) UpdateRoom(ctx context.Context, room dorm.Room, patch gateway.Row) (dorm.Room, error) {
	p := patch.Clone()
	p["version"] = room.Version + 1
	p["updated_at"] = r.stamp()

	n, err := r.gw.Update(ctx, dorm.TableRooms, p, gateway.Eq("id", room.ID), gateway.Eq("version", room.Version))
	if err != nil {
		return dorm.Room{}, persistence("update room", err)
	}
	if n == 0 {
		return dorm.Room{}, fmt.Errorf("room %s at version %d: %w", room.ID, room.Version, dorm.ErrConcurrentModification)
	}
	return r.GetRoom(ctx, room.ID)
}

// SetRoomStatus is UpdateRoom for the status column. It is a no-op when
// the status already matches.
func (r *Repository) SetRoomStatus(ctx context.Context, room dorm.Room, status dorm.RoomStatus) (dorm.Room, error) {
	if room.Status == status {
		return room, nil
	}
	return r.UpdateRoom(ctx, room, gateway.Row{"status": string(status)})
}

// RepriceRooms sets the price of every room whose stored price differs
// from price, returning the number of rows written.
func (r *Repository) RepriceRooms(ctx context.Context, price decimal.Decimal) (int64, error) {
	n, err := r.gw.Update(ctx, dorm.TableRooms,
		gateway.Row{"price": money(price), "updated_at": r.stamp()},
		gateway.Neq("price", money(price)))
	if err != nil {
		return 0, persistence("sync room prices", err)
	}
	return n, nil
}

// CountRooms counts rooms matching filters.
func (r *Repository) CountRooms(ctx context.Context, filters ...gateway.Filter) (int, error) {
	n, err := r.gw.Count(ctx, dorm.TableRooms, filters...)
	if err != nil {
		return 0, persistence("count rooms", err)
	}
	return n, nil
}
