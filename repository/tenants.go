package repository

import (
	"context"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// TENANTS
// =============================================================================

func tenantFromRow(row gateway.Row) dorm.Tenant {
	state := dorm.TenantState(row.Int("action"))
	if state != dorm.TenantRemoved {
		state = dorm.TenantActive
	}
	residency := dorm.Residency(row.String("residents"))
	if residency != dorm.ResidencyCoOccupant {
		residency = dorm.ResidencyPrimary
	}
	return dorm.Tenant{
		ID:               row.ID(),
		FirstName:        row.String("first_name"),
		LastName:         row.String("last_name"),
		Email:            row.String("email"),
		Phone:            row.String("phone"),
		Address:          row.String("address"),
		EmergencyContact: row.String("emergency_contact"),
		RoomID:           row.String("room_id"),
		RoomNumber:       row.String("room_number"),
		Residency:        residency,
		State:            state,
		CreatedAt:        row.Time("created_at"),
		UpdatedAt:        row.Time("updated_at"),
	}
}

func tenantRow(t dorm.Tenant) gateway.Row {
	return gateway.Row{
		"id":                t.ID,
		"first_name":        t.FirstName,
		"last_name":         nullableText(t.LastName),
		"email":             nullableText(t.Email),
		"phone":             nullableText(t.Phone),
		"address":           nullableText(t.Address),
		"emergency_contact": nullableText(t.EmergencyContact),
		"room_id":           nullableText(t.RoomID),
		"room_number":       nullableText(t.RoomNumber),
		"residents":         string(t.Residency),
		"action":            int64(t.State),
	}
}

// GetTenant loads a tenant, active or removed.
func (r *Repository) GetTenant(ctx context.Context, id string) (dorm.Tenant, error) {
	row, err := gateway.SelectOne(ctx, r.gw, dorm.TableTenants, gateway.Eq("id", id))
	if err != nil {
		return dorm.Tenant{}, persistence("load tenant", err)
	}
	if row == nil {
		return dorm.Tenant{}, dorm.NotFound(dorm.ErrTenantNotFound, id)
	}
	return tenantFromRow(row), nil
}

// GetActiveTenant loads a tenant that has not been removed.
func (r *Repository) GetActiveTenant(ctx context.Context, id string) (dorm.Tenant, error) {
	t, err := r.GetTenant(ctx, id)
	if err != nil {
		return dorm.Tenant{}, err
	}
	if !t.Active() {
		return dorm.Tenant{}, dorm.NotFound(dorm.ErrTenantNotFound, id)
	}
	return t, nil
}

// ListTenants returns tenants matching filters, oldest first.
func (r *Repository) ListTenants(ctx context.Context, filters ...gateway.Filter) ([]dorm.Tenant, error) {
	rows, err := r.gw.Select(ctx, dorm.TableTenants, gateway.Where(filters...).Asc("created_at"))
	if err != nil {
		return nil, persistence("list tenants", err)
	}
	out := make([]dorm.Tenant, len(rows))
	for i, row := range rows {
		out[i] = tenantFromRow(row)
	}
	return out, nil
}

// ActiveTenantsInRoom lists active tenants whose room reference is roomID.
func (r *Repository) ActiveTenantsInRoom(ctx context.Context, roomID string) ([]dorm.Tenant, error) {
	return r.ListTenants(ctx, gateway.Eq("room_id", roomID), gateway.Eq("action", int64(dorm.TenantActive)))
}

// CreateTenant inserts a tenant, defaulting to an active primary.
func (r *Repository) CreateTenant(ctx context.Context, t dorm.Tenant) (dorm.Tenant, error) {
	if t.FirstName == "" {
		return dorm.Tenant{}, dorm.Invalid("first_name", "required")
	}
	if t.State == 0 {
		t.State = dorm.TenantActive
	}
	if t.Residency == "" {
		t.Residency = dorm.ResidencyPrimary
	}
	row := tenantRow(t)
	now := r.stamp()
	row["created_at"] = now
	row["updated_at"] = now
	if t.ID == "" {
		delete(row, "id")
	}
	stored, err := r.gw.Insert(ctx, dorm.TableTenants, row)
	if err != nil {
		return dorm.Tenant{}, persistence("create tenant", err)
	}
	return tenantFromRow(stored), nil
}

// SaveTenant writes every column of an existing tenant.
func (r *Repository) SaveTenant(ctx context.Context, t dorm.Tenant) error {
	row := tenantRow(t)
	row["updated_at"] = r.stamp()
	n, err := r.gw.Update(ctx, dorm.TableTenants, row, gateway.Eq("id", t.ID))
	if err != nil {
		return persistence("save tenant", err)
	}
	if n == 0 {
		return dorm.NotFound(dorm.ErrTenantNotFound, t.ID)
	}
	return nil
}

// MirrorTenantRoom points the tenant's room reference at room.
func (r *Repository) MirrorTenantRoom(ctx context.Context, tenantID string, room dorm.Room) error {
	_, err := r.gw.Update(ctx, dorm.TableTenants, gateway.Row{
		"room_id":     room.ID,
		"room_number": room.RoomNumber,
		"updated_at":  r.stamp(),
	}, gateway.Eq("id", tenantID))
	return persistence("mirror tenant room", err)
}

// MarkTenantsRemoved soft-deletes tenants.
func (r *Repository) MarkTenantsRemoved(ctx context.Context, tenantIDs ...string) error {
	if len(tenantIDs) == 0 {
		return nil
	}
	_, err := r.gw.Update(ctx, dorm.TableTenants, gateway.Row{
		"action":     int64(dorm.TenantRemoved),
		"updated_at": r.stamp(),
	}, gateway.In("id", tenantIDs...))
	return persistence("remove tenants", err)
}

// =============================================================================
// PROFILES
// =============================================================================

func profileFromRow(row gateway.Row) dorm.Profile {
	return dorm.Profile{
		ID:       row.ID(),
		TenantID: row.NullableString("tenant_id"),
		StaffID:  row.NullableString("staff_id"),
		Role:     dorm.Role(row.String("role")),
	}
}

// CreateProfile inserts a login profile.
func (r *Repository) CreateProfile(ctx context.Context, p dorm.Profile) (dorm.Profile, error) {
	row := gateway.Row{
		"tenant_id":  nullablePtr(p.TenantID),
		"staff_id":   nullablePtr(p.StaffID),
		"role":       string(p.Role),
		"created_at": r.stamp(),
	}
	if p.ID != "" {
		row["id"] = p.ID
	}
	stored, err := r.gw.Insert(ctx, dorm.TableProfiles, row)
	if err != nil {
		return dorm.Profile{}, persistence("create profile", err)
	}
	return profileFromRow(stored), nil
}

// GetProfile loads a login profile or returns dorm.ErrProfileNotFound.
func (r *Repository) GetProfile(ctx context.Context, id string) (dorm.Profile, error) {
	row, err := gateway.SelectOne(ctx, r.gw, dorm.TableProfiles, gateway.Eq("id", id))
	if err != nil {
		return dorm.Profile{}, persistence("load profile", err)
	}
	if row == nil {
		return dorm.Profile{}, dorm.NotFound(dorm.ErrProfileNotFound, id)
	}
	return profileFromRow(row), nil
}

// ProfilesForTenants lists profiles that reference any of tenantIDs.
func (r *Repository) ProfilesForTenants(ctx context.Context, tenantIDs ...string) ([]dorm.Profile, error) {
	rows, err := r.gw.Select(ctx, dorm.TableProfiles, gateway.Where(gateway.In("tenant_id", tenantIDs...)))
	if err != nil {
		return nil, persistence("list profiles", err)
	}
	out := make([]dorm.Profile, len(rows))
	for i, row := range rows {
		out[i] = profileFromRow(row)
	}
	return out, nil
}

// DetachProfiles clears tenant and staff references of profiles that point
// at any of tenantIDs.
func (r *Repository) DetachProfiles(ctx context.Context, tenantIDs ...string) error {
	if len(tenantIDs) == 0 {
		return nil
	}
	_, err := r.gw.Update(ctx, dorm.TableProfiles, gateway.Row{
		"tenant_id": nil,
		"staff_id":  nil,
	}, gateway.In("tenant_id", tenantIDs...))
	return persistence("detach profiles", err)
}
