/*
Package repairs tracks maintenance tickets filed against rooms.

PURPOSE:
  Tenants report broken things in their own room; staff follow the ticket
  through pending -> in_progress -> completed (or cancelled).

ACCESS:
  tenant       files tickets for the room it lives in, sees only that
               room's tickets, never edits or changes status
  admin/staff  file for any room, see everything, edit and change status

  A tenant actor's ID is its login profile; the profile's tenant_id leads
  to the tenant record and its room.

COMPLETION DATE:
  Moving a ticket to completed stamps completed_date with today. Moving it
  anywhere else clears it.

SEE ALSO:
  - repository/repairs.go: Row codec
  - api/handlers.go: /api/repairs routes
*/
package repairs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/lock"
	"github.com/warp/dorm-engine/notify"
	"github.com/warp/dorm-engine/repository"
	"go.uber.org/zap"
)

// Service files, lists and updates repair tickets.
type Service struct {
	repo  *repository.Repository
	locks lock.Locker
	sink  notify.Sink
	log   *zap.Logger
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option   { return func(s *Service) { s.locks = l } }
func WithNotifier(n notify.Sink) Option { return func(s *Service) { s.sink = n } }
func WithLogger(l *zap.Logger) Option   { return func(s *Service) { s.log = l } }

func NewService(gw gateway.Gateway, clock dorm.Clock, opts ...Option) *Service {
	s := &Service{
		repo:  repository.New(gw, clock),
		locks: lock.NewLocal(),
		sink:  notify.Nop{},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileInput is a new ticket. RoomID is ignored for tenants, who always
// file for their own room. Status defaults to pending and only operators
// may choose another one.
type FileInput struct {
	RoomID       string
	Description  string
	Status       dorm.RepairStatus
	ReportedDate time.Time
}

// EditInput changes a ticket. Nil fields are left alone.
type EditInput struct {
	RoomID       *string
	Description  *string
	ReportedDate *time.Time
}

// Filter narrows List.
type Filter struct {
	RoomID string
	Status dorm.RepairStatus
}

// =============================================================================
// FILE
// =============================================================================

// File records a new ticket.
func (s *Service) File(ctx context.Context, actor dorm.Actor, in FileInput) (dorm.Repair, error) {
	const op = "file repair"
	out, err := s.file(ctx, actor, in)
	s.sink.Notify(ctx, notify.From(op, "room:"+out.RoomNumber, "repair filed", err).By(actor))
	if err != nil {
		return dorm.Repair{}, err
	}
	s.log.Info("repair filed",
		zap.String("repair_id", out.ID),
		zap.String("room_number", out.RoomNumber),
		zap.String("actor_id", actor.ID),
	)
	return out, nil
}

func (s *Service) file(ctx context.Context, actor dorm.Actor, in FileInput) (dorm.Repair, error) {
	if !actor.Is(dorm.RoleAdmin, dorm.RoleStaff, dorm.RoleTenant) {
		return dorm.Repair{}, &dorm.PermissionError{Op: "file repair", ActorID: actor.ID, Role: actor.Role}
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return dorm.Repair{}, dorm.Invalid("description", "required")
	}
	status := in.Status
	if status == "" {
		status = dorm.RepairPending
	}
	if !status.Valid() {
		return dorm.Repair{}, dorm.Invalid("status", "unknown repair status %q", status)
	}

	roomID := in.RoomID
	if actor.Is(dorm.RoleTenant) {
		own, err := s.tenantRoom(ctx, actor)
		if err != nil {
			return dorm.Repair{}, err
		}
		if own == "" {
			return dorm.Repair{}, dorm.Invalid("room_id", "tenant %s has no room", actor.ID)
		}
		if roomID != "" && roomID != own {
			return dorm.Repair{}, &dorm.PermissionError{Op: "file repair for another room", ActorID: actor.ID, Role: actor.Role}
		}
		if status != dorm.RepairPending {
			return dorm.Repair{}, &dorm.PermissionError{Op: "set repair status", ActorID: actor.ID, Role: actor.Role}
		}
		roomID = own
	}
	if roomID == "" {
		return dorm.Repair{}, dorm.Invalid("room_id", "required")
	}
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return dorm.Repair{}, err
	}

	today := dorm.Today(s.repo.Clock())
	reported := today
	if !in.ReportedDate.IsZero() {
		reported = dorm.Day(in.ReportedDate)
	}
	rp := dorm.Repair{
		RoomID:       room.ID,
		RoomNumber:   room.RoomNumber,
		Description:  desc,
		Status:       status,
		ReportedDate: reported,
		ProfileID:    actor.ID,
	}
	if status == dorm.RepairCompleted {
		rp.CompletedDate = &today
	}
	return s.repo.CreateRepair(ctx, rp)
}

// tenantRoom resolves the room a tenant actor lives in, "" if none.
func (s *Service) tenantRoom(ctx context.Context, actor dorm.Actor) (string, error) {
	p, err := s.repo.GetProfile(ctx, actor.ID)
	if errors.Is(err, dorm.ErrProfileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if p.TenantID == nil {
		return "", nil
	}
	t, err := s.repo.GetActiveTenant(ctx, *p.TenantID)
	if errors.Is(err, dorm.ErrTenantNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.RoomID, nil
}

// =============================================================================
// READ
// =============================================================================

// List returns tickets newest first. Tenants only ever see their own room.
func (s *Service) List(ctx context.Context, actor dorm.Actor, f Filter) ([]dorm.Repair, error) {
	rf := repository.RepairFilter{RoomID: f.RoomID, Status: f.Status}
	switch {
	case actor.Is(dorm.RoleAdmin, dorm.RoleStaff):
	case actor.Is(dorm.RoleTenant):
		own, err := s.tenantRoom(ctx, actor)
		if err != nil {
			return nil, err
		}
		if own == "" || (f.RoomID != "" && f.RoomID != own) {
			return []dorm.Repair{}, nil
		}
		rf.RoomID = own
	default:
		return nil, &dorm.PermissionError{Op: "list repairs", ActorID: actor.ID, Role: actor.Role}
	}
	return s.repo.ListRepairs(ctx, rf)
}

// Get loads one ticket. A tenant asking for another room's ticket gets
// RepairNotFound.
func (s *Service) Get(ctx context.Context, actor dorm.Actor, id string) (dorm.Repair, error) {
	rp, err := s.repo.GetRepair(ctx, id)
	if err != nil {
		return dorm.Repair{}, err
	}
	if actor.Is(dorm.RoleAdmin, dorm.RoleStaff) {
		return rp, nil
	}
	if actor.Is(dorm.RoleTenant) {
		own, err := s.tenantRoom(ctx, actor)
		if err != nil {
			return dorm.Repair{}, err
		}
		if own != "" && own == rp.RoomID {
			return rp, nil
		}
		return dorm.Repair{}, dorm.NotFound(dorm.ErrRepairNotFound, id)
	}
	return dorm.Repair{}, &dorm.PermissionError{Op: "view repair", ActorID: actor.ID, Role: actor.Role}
}

// =============================================================================
// UPDATE
// =============================================================================

// SetStatus moves a ticket to status. Operators only.
func (s *Service) SetStatus(ctx context.Context, actor dorm.Actor, id string, status dorm.RepairStatus) (dorm.Repair, error) {
	const op = "set repair status"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Repair{}, err
	}
	if !status.Valid() {
		return dorm.Repair{}, dorm.Invalid("status", "unknown repair status %q", status)
	}
	out, err := s.update(ctx, id, func(rp *dorm.Repair) error {
		if rp.Status == status {
			return nil
		}
		rp.Status = status
		rp.CompletedDate = nil
		if status == dorm.RepairCompleted {
			today := dorm.Today(s.repo.Clock())
			rp.CompletedDate = &today
		}
		return nil
	})
	s.sink.Notify(ctx, notify.From(op, "repair:"+id, fmt.Sprintf("repair is %s", status), err).By(actor))
	return out, err
}

// Edit changes the description, room or reported date. Operators only.
func (s *Service) Edit(ctx context.Context, actor dorm.Actor, id string, in EditInput) (dorm.Repair, error) {
	const op = "edit repair"
	if err := dorm.RequireOperator(op, actor); err != nil {
		return dorm.Repair{}, err
	}
	out, err := s.update(ctx, id, func(rp *dorm.Repair) error {
		if in.Description != nil {
			desc := strings.TrimSpace(*in.Description)
			if desc == "" {
				return dorm.Invalid("description", "required")
			}
			rp.Description = desc
		}
		if in.RoomID != nil && *in.RoomID != rp.RoomID {
			room, err := s.repo.GetRoom(ctx, *in.RoomID)
			if err != nil {
				return err
			}
			rp.RoomID, rp.RoomNumber = room.ID, room.RoomNumber
		}
		if in.ReportedDate != nil {
			rp.ReportedDate = dorm.Day(*in.ReportedDate)
		}
		return nil
	})
	s.sink.Notify(ctx, notify.From(op, "repair:"+id, "repair updated", err).By(actor))
	return out, err
}

// update applies fn to the stored ticket under its lock.
func (s *Service) update(ctx context.Context, id string, fn func(*dorm.Repair) error) (dorm.Repair, error) {
	unlock, err := s.locks.Lock(ctx, lock.RepairKey(id))
	if err != nil {
		return dorm.Repair{}, fmt.Errorf("lock repair: %w", err)
	}
	defer unlock()

	var out dorm.Repair
	err = s.repo.InTx(ctx, func(r *repository.Repository) error {
		rp, err := r.GetRepair(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&rp); err != nil {
			return err
		}
		out, err = r.SaveRepair(ctx, rp)
		return err
	})
	return out, err
}
