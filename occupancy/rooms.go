package occupancy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// ROOM AND TENANT RECORDS
// =============================================================================

// RoomInput describes a new room.
type RoomInput struct {
	RoomNumber string
	Floor      int
	RoomType   string
	Capacity   int
	Price      decimal.Decimal
}

// CreateRoom registers a vacant room.
func (m *Manager) CreateRoom(ctx context.Context, actor dorm.Actor, in RoomInput) (dorm.Room, error) {
	const op = "create room"
	if err := dorm.RequireRole(op, actor, dorm.RoleAdmin); err != nil {
		return dorm.Room{}, err
	}
	if in.RoomNumber == "" {
		return dorm.Room{}, dorm.Invalid("room_number", "required")
	}
	if in.Capacity < 0 {
		return dorm.Room{}, dorm.Invalid("capacity", "must not be negative")
	}
	room, err := m.repo.CreateRoom(ctx, dorm.Room{
		RoomNumber: in.RoomNumber,
		Floor:      in.Floor,
		RoomType:   in.RoomType,
		Capacity:   in.Capacity,
		Price:      in.Price,
		Status:     dorm.RoomVacant,
	})
	m.report(ctx, actor, op, "room:"+in.RoomNumber, "room created", err)
	return room, err
}

// TenantInput describes a new primary tenant.
type TenantInput struct {
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Address          string
	EmergencyContact string
}

// CreateTenant registers an active primary tenant without a room.
func (m *Manager) CreateTenant(ctx context.Context, actor dorm.Actor, in TenantInput) (dorm.Tenant, error) {
	const op = "create tenant"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Tenant{}, err
	}
	t, err := m.repo.CreateTenant(ctx, dorm.Tenant{
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		Phone:            in.Phone,
		Address:          in.Address,
		EmergencyContact: in.EmergencyContact,
		Residency:        dorm.ResidencyPrimary,
		State:            dorm.TenantActive,
	})
	m.report(ctx, actor, op, "tenant:"+t.ID, "tenant created", err)
	return t, err
}

// GetRoom loads a room.
func (m *Manager) GetRoom(ctx context.Context, id string) (dorm.Room, error) {
	return m.repo.GetRoom(ctx, id)
}

// GetTenant loads a tenant, removed ones included.
func (m *Manager) GetTenant(ctx context.Context, id string) (dorm.Tenant, error) {
	return m.repo.GetTenant(ctx, id)
}

// ListTenants lists tenants, optionally only active ones.
func (m *Manager) ListTenants(ctx context.Context, activeOnly bool) ([]dorm.Tenant, error) {
	if activeOnly {
		return m.repo.ListTenants(ctx, gateway.Eq("action", int64(dorm.TenantActive)))
	}
	return m.repo.ListTenants(ctx)
}

// History returns a tenant's occupancy rows, newest first.
func (m *Manager) History(ctx context.Context, tenantID string) ([]dorm.Occupancy, error) {
	if _, err := m.repo.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.repo.OccupancyHistory(ctx, tenantID)
}

// =============================================================================
// SUMMARIES
// =============================================================================

// RoomSummary is a room with its live occupancy.
type RoomSummary struct {
	Room              dorm.Room
	Occupants         int
	EffectiveCapacity int
}

// Assignable reports whether AssignTenant would accept this room.
func (s RoomSummary) Assignable() bool {
	return s.Room.Status != dorm.RoomMaintenance && s.Occupants == 0
}

// FreeBeds is the remaining room for co-occupants.
func (s RoomSummary) FreeBeds() int {
	if s.Room.Status == dorm.RoomMaintenance || s.Occupants >= s.EffectiveCapacity {
		return 0
	}
	return s.EffectiveCapacity - s.Occupants
}

// RoomSummary returns one room with its occupant count.
func (m *Manager) RoomSummary(ctx context.Context, roomID string) (RoomSummary, error) {
	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return RoomSummary{}, err
	}
	n, err := m.repo.CountCurrentOccupants(ctx, roomID)
	if err != nil {
		return RoomSummary{}, err
	}
	return RoomSummary{Room: room, Occupants: n, EffectiveCapacity: room.EffectiveCapacity()}, nil
}

// ListRoomSummaries returns every room with its occupant count, ordered by
// room number.
func (m *Manager) ListRoomSummaries(ctx context.Context) ([]RoomSummary, error) {
	rooms, err := m.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	occs, err := m.repo.AllCurrentOccupancies(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rooms))
	for _, o := range occs {
		counts[o.RoomID]++
	}
	out := make([]RoomSummary, len(rooms))
	for i, room := range rooms {
		out[i] = RoomSummary{Room: room, Occupants: counts[room.ID], EffectiveCapacity: room.EffectiveCapacity()}
	}
	return out, nil
}

// AvailableRooms lists the vacant rooms that can take a new tenant.
func (m *Manager) AvailableRooms(ctx context.Context) ([]RoomSummary, error) {
	all, err := m.ListRoomSummaries(ctx)
	if err != nil {
		return nil, err
	}
	var out []RoomSummary
	for _, s := range all {
		if s.Room.Status == dorm.RoomVacant && s.Assignable() {
			out = append(out, s)
		}
	}
	return out, nil
}
