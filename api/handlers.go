/*
handlers.go - HTTP API handlers for the dormitory engine

PURPOSE:
  Exposes occupancy, billing, price sync and settings over REST. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  packages. No business rule lives here.

ENDPOINTS:
  Rooms:
    GET    /api/rooms                        List rooms with occupancy
    POST   /api/rooms                        Create room (admin)
    GET    /api/rooms/available              Rooms that accept a new tenant
    GET    /api/rooms/{id}                   Room details
    POST   /api/rooms/{id}/maintenance       Enter/leave maintenance
    POST   /api/rooms/{id}/co-occupants      Add or resubmit a co-occupant

  Tenants:
    GET    /api/tenants?active=true          List tenants
    POST   /api/tenants                      Create primary tenant
    GET    /api/tenants/{id}                 Tenant with stay history
    POST   /api/tenants/{id}/assign          Move tenant (and household) to a room
    POST   /api/tenants/{id}/vacate          Check out tenant and household
    POST   /api/tenants/{id}/co-occupants/remove

  Billing:
    GET    /api/billing?month=&room_id=&status=
    POST   /api/billing/generate             Monthly batch
    GET    /api/billing/{id}
    POST   /api/billing/{id}/pay
    POST   /api/billing/overdue
    GET    /api/billing/export?month=        xlsx

  Repairs:
    GET    /api/repairs?status=&room_id=     Tickets; tenants see their own room
    POST   /api/repairs                      File a ticket
    GET    /api/repairs/{id}
    PUT    /api/repairs/{id}                 Edit ticket (admin/staff)
    POST   /api/repairs/{id}/status          Change status (admin/staff)

  Pricing / settings / audit:
    GET    /api/pricing/sync                 Compare room prices to the system rate
    POST   /api/pricing/sync                 Overwrite mismatching prices (admin)
    GET    /api/settings
    PUT    /api/settings                     Admin; triggers price sync
    GET    /api/settings/validate
    GET    /api/audit                        Occupancy invariant violations

IDENTITY:
  Authentication happens upstream. The proxy forwards X-Actor-ID and
  X-Actor-Role; mutating endpoints reject requests without them (401).
  Repair reads need them too, since what a tenant sees depends on who
  they are.

ERROR HANDLING:
  Domain errors are mapped by kind:
  - 400: validation
  - 403: permission
  - 404: not found
  - 409: capacity and conflict (RoomFull, AlreadyPaid, ...)
  - 500: persistence
  The body is ErrorResponse{error, code, details}; code is the stable
  dorm.CodeOf value.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/occupancy"
	"github.com/warp/dorm-engine/pricing"
	"github.com/warp/dorm-engine/repairs"
	"github.com/warp/dorm-engine/report"
	"github.com/warp/dorm-engine/repository"
	"github.com/warp/dorm-engine/settings"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services are the domain components the API delegates to.
type Services struct {
	Occupancy *occupancy.Manager
	Billing   *billing.Engine
	Pricing   *pricing.Synchronizer
	Repairs   *repairs.Service
	Settings  *settings.Service
	Clock     dorm.Clock

	// Reset wipes every table before a scenario loads. Nil disables
	// scenario loading.
	Reset func(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	log      *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over s.
func NewHandler(s Services, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if s.Clock == nil {
		s.Clock = dorm.SystemClock{}
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Services: s, log: log, validate: v}
}

// =============================================================================
// ROOM HANDLERS
// =============================================================================

// ListRooms returns every room with its occupant count.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Occupancy.ListRoomSummaries(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RoomDTO, len(rooms))
	for i, s := range rooms {
		dtos[i] = toRoomDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AvailableRooms returns the rooms AssignTenant would accept.
func (h *Handler) AvailableRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Occupancy.AvailableRooms(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RoomDTO, len(rooms))
	for i, s := range rooms {
		dtos[i] = toRoomDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRoom returns a single room.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	s, err := h.Occupancy.RoomSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomDTO(s))
}

// CreateRoom registers a vacant room.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.Occupancy.CreateRoom(r.Context(), actor, occupancy.RoomInput{
		RoomNumber: req.RoomNumber,
		Floor:      req.Floor,
		RoomType:   req.RoomType,
		Capacity:   req.Capacity,
		Price:      req.Price,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomDTO(occupancy.RoomSummary{Room: room, EffectiveCapacity: room.EffectiveCapacity()}))
}

// SetMaintenance moves a room into or out of maintenance.
func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req MaintenanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Occupancy.SetMaintenance(r.Context(), actor, id, req.On); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Occupancy.RoomSummary(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomDTO(s))
}

// AddCoOccupant adds a roommate to a room.
func (h *Handler) AddCoOccupant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CoOccupantRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.Occupancy.AddCoOccupant(r.Context(), actor, chi.URLParam(r, "id"), occupancy.CoOccupantInput{
		ID:               req.ID,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Phone:            req.Phone,
		Address:          req.Address,
		EmergencyContact: req.EmergencyContact,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if req.ID != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, toTenantDTO(t))
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// ListTenants returns tenants; ?active=true limits to active ones.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	tenants, err := h.Occupancy.ListTenants(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]TenantDTO, len(tenants))
	for i, t := range tenants {
		dtos[i] = toTenantDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTenant registers a primary tenant without a room.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateTenantRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.Occupancy.CreateTenant(r.Context(), actor, occupancy.TenantInput{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Phone:            req.Phone,
		Address:          req.Address,
		EmergencyContact: req.EmergencyContact,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantDTO(t))
}

// GetTenant returns a tenant with its stays.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Occupancy.GetTenant(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stays, err := h.Occupancy.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := TenantDetailDTO{TenantDTO: toTenantDTO(t), History: make([]OccupancyDTO, len(stays))}
	for i, o := range stays {
		dto.History[i] = toOccupancyDTO(o)
	}
	writeJSON(w, http.StatusOK, dto)
}

// AssignTenant moves a tenant into a room.
func (h *Handler) AssignTenant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	occ, err := h.Occupancy.AssignTenant(r.Context(), actor, chi.URLParam(r, "id"), req.RoomID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOccupancyDTO(occ))
}

// VacateTenant checks a tenant and its household out.
func (h *Handler) VacateTenant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Occupancy.VacateTenant(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCoOccupants removes every co-occupant sharing the tenant's room.
func (h *Handler) RemoveCoOccupants(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	n, err := h.Occupancy.RemoveCoOccupants(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// ListBills returns bills filtered by month, room and status.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	f, err := billFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bills, err := h.Billing.ListBills(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBill returns one bill.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.Billing.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(b))
}

// GenerateBills runs the monthly batch. Per-room failures are part of the
// 200 response; only batch-level failures are errors.
func (h *Handler) GenerateBills(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req GenerateBillsRequest
	if !h.decode(w, r, &req) {
		return
	}
	month, err := dorm.ParseMonth(req.Month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	due, err := dorm.ParseDate(req.DueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.Billing.GenerateMonthlyBills(r.Context(), actor, billing.BatchRequest{
		Month:    month,
		DueDate:  due,
		Readings: req.Readings,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchReportDTO(rep))
}

// PayBill marks a bill paid.
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	b, err := h.Billing.MarkBillPaid(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(b))
}

// MarkOverdue flips pending bills past their due date.
func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req OverdueRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	asOf := dorm.Today(h.Clock)
	if req.AsOf != "" {
		d, err := dorm.ParseDate(req.AsOf)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		asOf = d
	}
	n, err := h.Billing.MarkOverdue(r.Context(), actor, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ExportBills streams the filtered bills as an xlsx workbook.
func (h *Handler) ExportBills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := billFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bills, err := h.Billing.ListBills(ctx, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rooms, err := h.Occupancy.ListRoomSummaries(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tenants, err := h.Occupancy.ListTenants(ctx, false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	roomNumbers := make(map[string]string, len(rooms))
	for _, s := range rooms {
		roomNumbers[s.Room.ID] = s.Room.RoomNumber
	}
	names := make(map[string]string, len(tenants))
	for _, t := range tenants {
		names[t.ID] = t.FullName()
	}
	lines := make([]report.BillLine, len(bills))
	for i, b := range bills {
		lines[i] = report.BillLine{Bill: b, RoomNumber: roomNumbers[b.RoomID], TenantName: names[b.TenantID]}
	}

	data, err := report.BillsWorkbook(lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := "bills.xlsx"
	if !f.Month.IsZero() {
		name = fmt.Sprintf("bills-%s.xlsx", dorm.FormatMonth(f.Month))
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func billFilter(r *http.Request) (repository.BillFilter, error) {
	q := r.URL.Query()
	f := repository.BillFilter{RoomID: q.Get("room_id")}
	if m := q.Get("month"); m != "" {
		month, err := dorm.ParseMonth(m)
		if err != nil {
			return f, err
		}
		f.Month = month
	}
	if s := q.Get("status"); s != "" {
		f.Status = dorm.BillStatus(s)
		if !f.Status.Valid() {
			return f, dorm.Invalid("status", "unknown bill status %q", s)
		}
	}
	return f, nil
}

// =============================================================================
// REPAIR HANDLERS
// =============================================================================

// ListRepairs returns tickets filtered by status and room.
func (h *Handler) ListRepairs(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := repairs.Filter{RoomID: q.Get("room_id")}
	if st := q.Get("status"); st != "" {
		f.Status = dorm.RepairStatus(st)
		if !f.Status.Valid() {
			h.fail(w, r, dorm.Invalid("status", "unknown repair status %q", st))
			return
		}
	}
	list, err := h.Repairs.List(r.Context(), actor, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RepairDTO, len(list))
	for i, rp := range list {
		dtos[i] = toRepairDTO(rp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRepair returns one ticket.
func (h *Handler) GetRepair(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rp, err := h.Repairs.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRepairDTO(rp))
}

// FileRepair opens a ticket.
func (h *Handler) FileRepair(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req FileRepairRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := repairs.FileInput{
		RoomID:      req.RoomID,
		Description: req.Description,
		Status:      dorm.RepairStatus(req.Status),
	}
	if req.ReportedDate != "" {
		d, err := dorm.ParseDate(req.ReportedDate)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.ReportedDate = d
	}
	rp, err := h.Repairs.File(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRepairDTO(rp))
}

// EditRepair changes a ticket's description, room or reported date.
func (h *Handler) EditRepair(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req EditRepairRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := repairs.EditInput{RoomID: req.RoomID, Description: req.Description}
	if req.ReportedDate != nil {
		d, err := dorm.ParseDate(*req.ReportedDate)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.ReportedDate = &d
	}
	rp, err := h.Repairs.Edit(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRepairDTO(rp))
}

// SetRepairStatus moves a ticket to another status.
func (h *Handler) SetRepairStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RepairStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	rp, err := h.Repairs.SetStatus(r.Context(), actor, chi.URLParam(r, "id"), dorm.RepairStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRepairDTO(rp))
}

// =============================================================================
// PRICING, SETTINGS, AUDIT
// =============================================================================

// CheckPriceSync reports rooms whose price differs from the system rate.
func (h *Handler) CheckPriceSync(w http.ResponseWriter, r *http.Request) {
	status, err := h.Pricing.CheckSync(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SyncPrices overwrites every mismatching room price.
func (h *Handler) SyncPrices(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	res, err := h.Pricing.SyncAll(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSettings returns the stored settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Current(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SaveSettings edits the settings. Registered change hooks (price sync)
// run before the response.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in settings.Input
	if !h.decode(w, r, &in) {
		return
	}
	s, err := h.Settings.Save(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ValidateSettings reports problems with the stored settings.
func (h *Handler) ValidateSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Validate(r.Context()))
}

// Audit lists occupancy invariant violations.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	violations, err := h.Occupancy.Audit(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if violations == nil {
		violations = []occupancy.Violation{}
	}
	writeJSON(w, http.StatusOK, violations)
}

// =============================================================================
// HELPERS
// =============================================================================

// actor returns the caller identity or writes a 401.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (dorm.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated",
			"Missing or invalid "+HeaderActorID+"/"+HeaderActorRole+" headers", nil)
		return dorm.Actor{}, false
	}
	return a, true
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBody", "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			details := make(map[string]string, len(fields))
			for _, fe := range fields {
				details[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, dorm.CodeOf(dorm.ErrValidation), "Invalid request", details)
			return false
		}
		writeError(w, http.StatusBadRequest, dorm.CodeOf(dorm.ErrValidation), "Invalid request", err.Error())
		return false
	}
	return true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch dorm.KindOf(err) {
	case dorm.KindValidation:
		return http.StatusBadRequest
	case dorm.KindPermission:
		return http.StatusForbidden
	case dorm.KindNotFound:
		return http.StatusNotFound
	case dorm.KindCapacity, dorm.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, dorm.CodeOf(err), err.Error(), errorDetails(err))
}

func errorDetails(err error) any {
	var ve *dorm.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		return map[string]string{"field": ve.Field}
	}
	var ce *dorm.CapacityError
	if errors.As(err, &ce) {
		return map[string]int{"capacity": ce.Capacity, "occupants": ce.Occupants, "incoming": ce.Incoming}
	}
	var ue *dorm.UnavailableError
	if errors.As(err, &ue) {
		return map[string]string{"status": string(ue.Status), "reason": ue.Reason}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
