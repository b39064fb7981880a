/*
manager.go - Room assignment and room status derivation

PURPOSE:
  Keeps rooms, tenants and occupancy rows mutually consistent while staff
  move people in and out.

INVARIANTS:
  1. A room never holds more current occupancy rows than its effective
     capacity, max(capacity, 2).
  2. A tenant has at most one current occupancy row.
  3. A vacant room has no occupants; a room with occupants never enters
     maintenance.

HOW:
  Every mutation:
    1. Takes the per-room and per-tenant locks (lock.Locker)
    2. Runs its reads and writes in one gateway transaction
    3. Writes room status through a version compare-and-swap
    4. Retries the whole unit on ErrConcurrentModification (bounded)

  Validation and capacity checks happen before the first write, so a
  rejected operation leaves no trace.

TRANSFERS:
  AssignTenant on a tenant that already lives somewhere closes the old
  occupancy and opens a new one. Co-occupants of the old room move along
  with the primary ("household moves together").

CO-OCCUPANTS:
  AddCoOccupant never changes the status of the receiving room. Only the
  primary assignment and vacate paths derive it, so a co-occupant added to
  a vacant room leaves it "vacant" with one occupant. Audit reports that
  drift. A co-occupant moved in from another room re-derives the room it
  left. A primary occupant cannot be re-submitted as a co-occupant.

LOCKING:
  Keys are resolved from the store before locking and again once held. A
  tenant moved by a concurrent transfer in between widens the set and the
  lock is taken again.

SEE ALSO:
  - audit.go: Invariant checks over the whole store
  - repository/: Row codecs and compare-and-swap
  - lock/: Keyed locks
*/
package occupancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/lock"
	"github.com/warp/dorm-engine/notify"
	"github.com/warp/dorm-engine/repository"
	"go.uber.org/zap"
)

// DefaultRetries bounds the attempts on a concurrent modification.
const DefaultRetries = 3

// Manager runs the occupancy workflows.
type Manager struct {
	repo    *repository.Repository
	locks   lock.Locker
	sink    notify.Sink
	log     *zap.Logger
	retries int
}

// Option configures a Manager.
type Option func(*Manager)

func WithLocker(l lock.Locker) Option   { return func(m *Manager) { m.locks = l } }
func WithNotifier(s notify.Sink) Option { return func(m *Manager) { m.sink = s } }
func WithLogger(l *zap.Logger) Option   { return func(m *Manager) { m.log = l } }
func WithRetries(n int) Option          { return func(m *Manager) { m.retries = n } }

// NewManager creates a manager over gw. A nil clock means the system clock.
func NewManager(gw gateway.Gateway, clock dorm.Clock, opts ...Option) *Manager {
	m := &Manager{
		repo:    repository.New(gw, clock),
		locks:   lock.NewLocal(),
		sink:    notify.Nop{},
		log:     zap.NewNop(),
		retries: DefaultRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retries < 1 {
		m.retries = 1
	}
	return m
}

// Repository exposes the underlying repository for read paths.
func (m *Manager) Repository() *repository.Repository { return m.repo }

// keyFunc resolves the lock keys of an operation from the stored state.
type keyFunc func(ctx context.Context) []string

// mutate runs fn under the keys inside a transaction, retrying on a lost
// compare-and-swap. The keys are resolved again once held: if a concurrent
// move changed them, the wider set is locked and resolved again.
func (m *Manager) mutate(ctx context.Context, op string, keys keyFunc, fn func(*repository.Repository) error) error {
	want := keys(ctx)
	for attempt := 1; ; attempt++ {
		unlock, err := m.locks.Lock(ctx, want...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		got := keys(ctx)
		if covers(want, got) {
			err = m.run(ctx, op, fn)
			unlock()
			return err
		}
		unlock()
		m.log.Debug("lock set changed while acquiring",
			zap.String("operation", op),
			zap.Strings("held", want),
			zap.Strings("needed", got),
		)
		if attempt >= m.retries {
			return fmt.Errorf("%s: lock set kept changing: %w", op, dorm.ErrConcurrentModification)
		}
		want = append(want, got...)
	}
}

func (m *Manager) run(ctx context.Context, op string, fn func(*repository.Repository) error) error {
	for attempt := 1; ; attempt++ {
		err := m.repo.InTx(ctx, fn)
		if err == nil || !errors.Is(err, dorm.ErrConcurrentModification) || attempt >= m.retries {
			return err
		}
		m.log.Debug("retrying after concurrent modification",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// covers reports whether every key in need is in held.
func covers(held, need []string) bool {
	set := make(map[string]bool, len(held))
	for _, k := range held {
		set[k] = true
	}
	for _, k := range need {
		if !set[k] {
			return false
		}
	}
	return true
}

// tenantKeys locks the tenant, the room it is mirrored to and the room of
// its current occupancy row, plus any extra keys.
func (m *Manager) tenantKeys(tenantID string, extra ...string) keyFunc {
	return func(ctx context.Context) []string {
		keys := append([]string{lock.TenantKey(tenantID)}, extra...)
		if t, err := m.repo.GetTenant(ctx, tenantID); err == nil && t.RoomID != "" {
			keys = append(keys, lock.RoomKey(t.RoomID))
		}
		if cur, err := m.repo.CurrentOccupancy(ctx, tenantID); err == nil && cur != nil {
			keys = append(keys, lock.RoomKey(cur.RoomID))
		}
		return keys
	}
}

func fixedKeys(keys ...string) keyFunc {
	return func(context.Context) []string { return keys }
}

func (m *Manager) report(ctx context.Context, actor dorm.Actor, op, subject, msg string, err error) {
	m.sink.Notify(ctx, notify.From(op, subject, msg, err).By(actor))
}

// =============================================================================
// ASSIGN
// =============================================================================

// AssignTenant moves a tenant (and the co-occupants of its current room)
// into an empty room and returns the tenant's new occupancy row.
func (m *Manager) AssignTenant(ctx context.Context, actor dorm.Actor, tenantID, roomID string) (dorm.Occupancy, error) {
	const op = "assign tenant"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Occupancy{}, err
	}

	keys := m.tenantKeys(tenantID, lock.RoomKey(roomID))

	var (
		occ  dorm.Occupancy
		room dorm.Room
	)
	err := m.mutate(ctx, op, keys, func(r *repository.Repository) error {
		var err error
		occ, room, err = assign(ctx, r, tenantID, roomID)
		return err
	})
	m.report(ctx, actor, op, "tenant:"+tenantID, fmt.Sprintf("tenant assigned to room %s", room.RoomNumber), err)
	if err != nil {
		return dorm.Occupancy{}, err
	}
	m.log.Info("tenant assigned",
		zap.String("tenant_id", tenantID),
		zap.String("room_id", roomID),
		zap.String("actor_id", actor.ID),
	)
	return occ, nil
}

func assign(ctx context.Context, r *repository.Repository, tenantID, roomID string) (dorm.Occupancy, dorm.Room, error) {
	tenant, err := r.GetActiveTenant(ctx, tenantID)
	if err != nil {
		return dorm.Occupancy{}, dorm.Room{}, err
	}
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return dorm.Occupancy{}, dorm.Room{}, err
	}
	if room.Status == dorm.RoomMaintenance {
		return dorm.Occupancy{}, room, &dorm.UnavailableError{RoomID: room.ID, Status: room.Status, Reason: "under maintenance"}
	}
	occupants, err := r.CountCurrentOccupants(ctx, room.ID)
	if err != nil {
		return dorm.Occupancy{}, room, err
	}
	if occupants > 0 {
		return dorm.Occupancy{}, room, &dorm.UnavailableError{RoomID: room.ID, Status: room.Status, Reason: "already occupied"}
	}

	current, err := r.CurrentOccupancy(ctx, tenant.ID)
	if err != nil {
		return dorm.Occupancy{}, room, err
	}
	var household []dorm.Tenant
	oldRoomID := ""
	if current != nil {
		oldRoomID = current.RoomID
		if household, err = coOccupantsOf(ctx, r, oldRoomID, tenant.ID); err != nil {
			return dorm.Occupancy{}, room, err
		}
	}
	if moving := 1 + len(household); moving > room.EffectiveCapacity() {
		return dorm.Occupancy{}, room, &dorm.CapacityError{
			RoomID:    room.ID,
			Capacity:  room.EffectiveCapacity(),
			Occupants: occupants,
			Incoming:  moving,
		}
	}

	today := dorm.Today(r.Clock())
	ids := []string{tenant.ID}
	for _, co := range household {
		ids = append(ids, co.ID)
	}
	if _, err := r.CloseTenantOccupancy(ctx, today, ids...); err != nil {
		return dorm.Occupancy{}, room, err
	}
	occ, err := r.OpenOccupancy(ctx, tenant.ID, room.ID, today)
	if err != nil {
		return dorm.Occupancy{}, room, err
	}
	if err := r.MirrorTenantRoom(ctx, tenant.ID, room); err != nil {
		return dorm.Occupancy{}, room, err
	}
	for _, co := range household {
		if _, err := r.OpenOccupancy(ctx, co.ID, room.ID, today); err != nil {
			return dorm.Occupancy{}, room, err
		}
		if err := r.MirrorTenantRoom(ctx, co.ID, room); err != nil {
			return dorm.Occupancy{}, room, err
		}
	}

	if room, err = r.SetRoomStatus(ctx, room, dorm.RoomOccupied); err != nil {
		return dorm.Occupancy{}, room, err
	}
	if oldRoomID != "" && oldRoomID != room.ID {
		if err := recomputeStatus(ctx, r, oldRoomID); err != nil {
			return dorm.Occupancy{}, room, err
		}
	}
	return occ, room, nil
}

// coOccupantsOf lists the active co-occupants currently living in roomID,
// excluding the primary.
func coOccupantsOf(ctx context.Context, r *repository.Repository, roomID, primaryID string) ([]dorm.Tenant, error) {
	occs, err := r.CurrentOccupants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var out []dorm.Tenant
	for _, o := range occs {
		if o.TenantID == primaryID {
			continue
		}
		t, err := r.GetTenant(ctx, o.TenantID)
		if err != nil {
			return nil, err
		}
		if t.Active() && t.IsCoOccupant() {
			out = append(out, t)
		}
	}
	return out, nil
}

// recomputeStatus derives vacant/occupied from the current occupant count.
// Rooms under maintenance are left alone.
func recomputeStatus(ctx context.Context, r *repository.Repository, roomID string) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == dorm.RoomMaintenance {
		return nil
	}
	n, err := r.CountCurrentOccupants(ctx, roomID)
	if err != nil {
		return err
	}
	_, err = r.SetRoomStatus(ctx, room, dorm.StatusFor(n))
	return err
}

// =============================================================================
// CO-OCCUPANTS
// =============================================================================

// CoOccupantInput describes a roommate. A known ID updates that tenant.
type CoOccupantInput struct {
	ID               string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Address          string
	EmergencyContact string
}

// AddCoOccupant adds (or re-submits) a co-occupant to a room. Room status
// is not touched.
func (m *Manager) AddCoOccupant(ctx context.Context, actor dorm.Actor, roomID string, in CoOccupantInput) (dorm.Tenant, error) {
	const op = "add co-occupant"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Tenant{}, err
	}
	keys := fixedKeys(lock.RoomKey(roomID))
	if in.ID != "" {
		keys = m.tenantKeys(in.ID, lock.RoomKey(roomID))
	}

	var out dorm.Tenant
	err := m.mutate(ctx, op, keys, func(r *repository.Repository) error {
		var err error
		out, err = addCoOccupant(ctx, r, roomID, in)
		return err
	})
	m.report(ctx, actor, op, "room:"+roomID, "co-occupant added", err)
	if err != nil {
		return dorm.Tenant{}, err
	}
	return out, nil
}

func addCoOccupant(ctx context.Context, r *repository.Repository, roomID string, in CoOccupantInput) (dorm.Tenant, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return dorm.Tenant{}, err
	}
	if room.Status == dorm.RoomMaintenance {
		return dorm.Tenant{}, &dorm.UnavailableError{RoomID: room.ID, Status: room.Status, Reason: "under maintenance"}
	}

	var (
		existing *dorm.Tenant
		current  *dorm.Occupancy
	)
	if in.ID != "" {
		t, err := r.GetTenant(ctx, in.ID)
		switch {
		case err == nil:
			existing = &t
			if current, err = r.CurrentOccupancy(ctx, t.ID); err != nil {
				return dorm.Tenant{}, err
			}
			if t.Active() && !t.IsCoOccupant() && current != nil {
				return dorm.Tenant{}, dorm.Invalid("id", "tenant %s is the primary occupant of room %s; use assign to move them", t.ID, current.RoomID)
			}
		case !errors.Is(err, dorm.ErrTenantNotFound):
			return dorm.Tenant{}, err
		}
	}
	alreadyHere := current != nil && current.RoomID == room.ID

	if !alreadyHere {
		n, err := r.CountCurrentOccupants(ctx, room.ID)
		if err != nil {
			return dorm.Tenant{}, err
		}
		if n >= room.EffectiveCapacity() {
			return dorm.Tenant{}, &dorm.CapacityError{RoomID: room.ID, Capacity: room.EffectiveCapacity(), Occupants: n, Incoming: 1}
		}
	}

	t := dorm.Tenant{ID: in.ID}
	if existing != nil {
		t = *existing
	}
	if in.FirstName != "" || existing == nil {
		t.FirstName = in.FirstName
	}
	overwrite(&t.LastName, in.LastName)
	overwrite(&t.Email, in.Email)
	overwrite(&t.Phone, in.Phone)
	overwrite(&t.Address, in.Address)
	overwrite(&t.EmergencyContact, in.EmergencyContact)
	t.Residency = dorm.ResidencyCoOccupant
	t.State = dorm.TenantActive
	t.RoomID = room.ID
	t.RoomNumber = room.RoomNumber

	if existing != nil {
		if err := r.SaveTenant(ctx, t); err != nil {
			return dorm.Tenant{}, err
		}
	} else if t, err = r.CreateTenant(ctx, t); err != nil {
		return dorm.Tenant{}, err
	}

	if !alreadyHere {
		today := dorm.Today(r.Clock())
		if current != nil {
			if _, err := r.CloseTenantOccupancy(ctx, today, t.ID); err != nil {
				return dorm.Tenant{}, err
			}
		}
		if _, err := r.OpenOccupancy(ctx, t.ID, room.ID, today); err != nil {
			return dorm.Tenant{}, err
		}
		// The room left behind is re-derived; the receiving room is not.
		if current != nil {
			if err := recomputeStatus(ctx, r, current.RoomID); err != nil && !errors.Is(err, dorm.ErrRoomNotFound) {
				return dorm.Tenant{}, err
			}
		}
	}
	return r.GetTenant(ctx, t.ID)
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// RemoveCoOccupants closes out and removes every co-occupant sharing the
// tenant's room. The tenant stays. Returns the number removed.
func (m *Manager) RemoveCoOccupants(ctx context.Context, actor dorm.Actor, tenantID string) (int, error) {
	const op = "remove co-occupants"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return 0, err
	}
	keys := m.tenantKeys(tenantID)

	removed := 0
	err := m.mutate(ctx, op, keys, func(r *repository.Repository) error {
		t, err := r.GetActiveTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if t.RoomID == "" {
			return dorm.Invalid("tenant_id", "tenant %s has no room", tenantID)
		}
		mates, err := r.ActiveTenantsInRoom(ctx, t.RoomID)
		if err != nil {
			return err
		}
		var ids []string
		for _, mate := range mates {
			if mate.ID != t.ID && mate.IsCoOccupant() {
				ids = append(ids, mate.ID)
			}
		}
		if len(ids) == 0 {
			return dorm.Invalid("tenant_id", "tenant %s has no co-occupants", tenantID)
		}
		if err := closeOut(ctx, r, ids); err != nil {
			return err
		}
		removed = len(ids)
		return nil
	})
	m.report(ctx, actor, op, "tenant:"+tenantID, fmt.Sprintf("%d co-occupants removed", removed), err)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// =============================================================================
// VACATE
// =============================================================================

// VacateTenant closes out the tenant and everyone sharing its room, then
// derives the room status again.
func (m *Manager) VacateTenant(ctx context.Context, actor dorm.Actor, tenantID string) error {
	const op = "vacate tenant"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return err
	}
	keys := m.tenantKeys(tenantID)

	vacated := 0
	err := m.mutate(ctx, op, keys, func(r *repository.Repository) error {
		n, err := vacate(ctx, r, tenantID)
		vacated = n
		return err
	})
	m.report(ctx, actor, op, "tenant:"+tenantID, fmt.Sprintf("%d tenants vacated", vacated), err)
	if err != nil {
		return err
	}
	m.log.Info("tenant vacated",
		zap.String("tenant_id", tenantID),
		zap.Int("household", vacated),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

func vacate(ctx context.Context, r *repository.Repository, tenantID string) (int, error) {
	t, err := r.GetActiveTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	ids := []string{t.ID}
	rooms := map[string]bool{}
	if t.RoomID != "" {
		rooms[t.RoomID] = true
		mates, err := r.ActiveTenantsInRoom(ctx, t.RoomID)
		if err != nil {
			return 0, err
		}
		for _, mate := range mates {
			if mate.ID != t.ID {
				ids = append(ids, mate.ID)
			}
		}
	}
	for _, id := range ids {
		cur, err := r.CurrentOccupancy(ctx, id)
		if err != nil {
			return 0, err
		}
		if cur != nil {
			rooms[cur.RoomID] = true
		}
	}

	if err := closeOut(ctx, r, ids); err != nil {
		return 0, err
	}
	for roomID := range rooms {
		if err := recomputeStatus(ctx, r, roomID); err != nil {
			if errors.Is(err, dorm.ErrRoomNotFound) {
				continue
			}
			return 0, err
		}
	}
	return len(ids), nil
}

// closeOut ends the current occupancy of tenants, soft-deletes them and
// clears profile back-references.
func closeOut(ctx context.Context, r *repository.Repository, ids []string) error {
	today := dorm.Today(r.Clock())
	if _, err := r.CloseTenantOccupancy(ctx, today, ids...); err != nil {
		return err
	}
	if err := r.MarkTenantsRemoved(ctx, ids...); err != nil {
		return err
	}
	return r.DetachProfiles(ctx, ids...)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// SetMaintenance toggles a room between vacant and maintenance.
func (m *Manager) SetMaintenance(ctx context.Context, actor dorm.Actor, roomID string, on bool) (dorm.Room, error) {
	const op = "set maintenance"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Room{}, err
	}

	var out dorm.Room
	err := m.mutate(ctx, op, fixedKeys(lock.RoomKey(roomID)), func(r *repository.Repository) error {
		room, err := r.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		target := dorm.RoomVacant
		if on {
			target = dorm.RoomMaintenance
		}
		allowed := (on && room.Status == dorm.RoomVacant) || (!on && room.Status == dorm.RoomMaintenance)
		if !allowed {
			return fmt.Errorf("room %s: %s -> %s: %w", room.RoomNumber, room.Status, target, dorm.ErrInvalidTransition)
		}
		if on {
			n, err := r.CountCurrentOccupants(ctx, room.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("room %s has %d occupants: %w", room.RoomNumber, n, dorm.ErrInvalidTransition)
			}
		}
		out, err = r.SetRoomStatus(ctx, room, target)
		return err
	})
	m.report(ctx, actor, op, "room:"+roomID, "room status changed", err)
	if err != nil {
		return dorm.Room{}, err
	}
	return out, nil
}
