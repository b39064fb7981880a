package occupancy

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/dorm-engine/dorm"
)

// Rule names an audited consistency rule.
type Rule string

const (
	RuleOverCapacity             Rule = "over_capacity"
	RuleMultipleCurrent          Rule = "multiple_current_occupancy"
	RuleVacantWithOccupants      Rule = "vacant_with_occupants"
	RuleMaintenanceWithOccupants Rule = "maintenance_with_occupants"
	RuleOccupiedWithoutOccupants Rule = "occupied_without_occupants"
	RuleCoOccupantsOnly          Rule = "co_occupants_only"
	RuleRemovedButCurrent        Rule = "removed_tenant_in_room"
	RuleMirrorMismatch           Rule = "tenant_room_mismatch"
)

// Violation is one broken rule.
type Violation struct {
	Rule     Rule   `json:"rule"`
	RoomID   string `json:"room_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Detail   string `json:"detail"`
}

// Audit scans every room and tenant and reports inconsistencies. It never
// repairs anything.
func (m *Manager) Audit(ctx context.Context) ([]Violation, error) {
	rooms, err := m.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	tenants, err := m.repo.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	occs, err := m.repo.AllCurrentOccupancies(ctx)
	if err != nil {
		return nil, err
	}

	tenantByID := make(map[string]dorm.Tenant, len(tenants))
	for _, t := range tenants {
		tenantByID[t.ID] = t
	}
	byRoom := map[string][]dorm.Occupancy{}
	byTenant := map[string][]dorm.Occupancy{}
	for _, o := range occs {
		byRoom[o.RoomID] = append(byRoom[o.RoomID], o)
		byTenant[o.TenantID] = append(byTenant[o.TenantID], o)
	}

	var out []Violation
	for _, room := range rooms {
		here := byRoom[room.ID]
		n := len(here)
		if n > room.EffectiveCapacity() {
			out = append(out, Violation{Rule: RuleOverCapacity, RoomID: room.ID,
				Detail: fmt.Sprintf("room %s holds %d of %d", room.RoomNumber, n, room.EffectiveCapacity())})
		}
		switch {
		case room.Status == dorm.RoomVacant && n > 0:
			out = append(out, Violation{Rule: RuleVacantWithOccupants, RoomID: room.ID,
				Detail: fmt.Sprintf("room %s is vacant with %d occupants", room.RoomNumber, n)})
		case room.Status == dorm.RoomMaintenance && n > 0:
			out = append(out, Violation{Rule: RuleMaintenanceWithOccupants, RoomID: room.ID,
				Detail: fmt.Sprintf("room %s is under maintenance with %d occupants", room.RoomNumber, n)})
		case room.Status == dorm.RoomOccupied && n == 0:
			out = append(out, Violation{Rule: RuleOccupiedWithoutOccupants, RoomID: room.ID,
				Detail: fmt.Sprintf("room %s is occupied with no occupants", room.RoomNumber)})
		}
		if n > 0 && !hasPrimary(here, tenantByID) {
			out = append(out, Violation{Rule: RuleCoOccupantsOnly, RoomID: room.ID,
				Detail: fmt.Sprintf("room %s has only co-occupants", room.RoomNumber)})
		}
	}

	tenantIDs := make([]string, 0, len(byTenant))
	for id := range byTenant {
		tenantIDs = append(tenantIDs, id)
	}
	sort.Strings(tenantIDs)
	for _, id := range tenantIDs {
		stays := byTenant[id]
		if len(stays) > 1 {
			out = append(out, Violation{Rule: RuleMultipleCurrent, TenantID: id,
				Detail: fmt.Sprintf("tenant has %d current stays", len(stays))})
		}
		t, ok := tenantByID[id]
		if !ok {
			continue
		}
		if !t.Active() {
			out = append(out, Violation{Rule: RuleRemovedButCurrent, TenantID: id, RoomID: stays[0].RoomID,
				Detail: fmt.Sprintf("removed tenant %s still has a current stay", t.FullName())})
		}
		if t.RoomID != stays[0].RoomID {
			out = append(out, Violation{Rule: RuleMirrorMismatch, TenantID: id, RoomID: stays[0].RoomID,
				Detail: fmt.Sprintf("tenant %s points at room %q", t.FullName(), t.RoomID)})
		}
	}
	return out, nil
}

func hasPrimary(occs []dorm.Occupancy, tenants map[string]dorm.Tenant) bool {
	for _, o := range occs {
		if t, ok := tenants[o.TenantID]; ok && !t.IsCoOccupant() {
			return true
		}
	}
	return false
}
