/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the dorm domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Rooms:     RoomDTO, CreateRoomRequest, MaintenanceRequest
  Tenants:   TenantDTO, CreateTenantRequest, AssignRequest, CoOccupantRequest
  Billing:   BillDTO, GenerateBillsRequest, BatchReportDTO, OverdueRequest
  Repairs:   RepairDTO, FileRepairRequest, EditRepairRequest, RepairStatusRequest
  Scenarios: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags. Handlers run
  Handler.decode, which rejects unknown JSON and failed tags with 400.
  Money travels as decimal strings ("3500.00") and dates as YYYY-MM-DD.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/occupancy"
)

// =============================================================================
// ROOMS
// =============================================================================

// RoomDTO represents a room with its live occupancy.
type RoomDTO struct {
	ID                 string          `json:"id"`
	RoomNumber         string          `json:"room_number"`
	Floor              int             `json:"floor"`
	RoomType           string          `json:"room_type,omitempty"`
	Capacity           int             `json:"capacity"`
	EffectiveCapacity  int             `json:"effective_capacity"`
	Occupants          int             `json:"occupants"`
	FreeBeds           int             `json:"free_beds"`
	Price              decimal.Decimal `json:"price"`
	Status             string          `json:"status"`
	LatestMeterReading decimal.Decimal `json:"latest_meter_reading"`
	OldMeter           decimal.Decimal `json:"old_meter"`
	UpdatedAt          string          `json:"updated_at,omitempty"`
}

// CreateRoomRequest is the request to register a room.
type CreateRoomRequest struct {
	RoomNumber string          `json:"room_number" validate:"required,max=20"`
	Floor      int             `json:"floor" validate:"min=0,max=200"`
	RoomType   string          `json:"room_type" validate:"max=40"`
	Capacity   int             `json:"capacity" validate:"min=0,max=50"`
	Price      decimal.Decimal `json:"price"`
}

// MaintenanceRequest toggles maintenance on a room.
type MaintenanceRequest struct {
	On bool `json:"on"`
}

// =============================================================================
// TENANTS
// =============================================================================

// TenantDTO represents a tenant in API responses.
type TenantDTO struct {
	ID               string `json:"id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name,omitempty"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
	RoomID           string `json:"room_id,omitempty"`
	RoomNumber       string `json:"room_number,omitempty"`
	Residency        string `json:"residency,omitempty"`
	State            string `json:"state"`
}

// CreateTenantRequest is the request to register a primary tenant.
type CreateTenantRequest struct {
	FirstName        string `json:"first_name" validate:"required,max=100"`
	LastName         string `json:"last_name" validate:"max=100"`
	Email            string `json:"email" validate:"omitempty,email"`
	Phone            string `json:"phone" validate:"max=30"`
	Address          string `json:"address" validate:"max=300"`
	EmergencyContact string `json:"emergency_contact" validate:"max=200"`
}

// AssignRequest moves a tenant into a room.
type AssignRequest struct {
	RoomID string `json:"room_id" validate:"required"`
}

// CoOccupantRequest adds or resubmits a roommate.
type CoOccupantRequest struct {
	ID               string `json:"id"`
	FirstName        string `json:"first_name" validate:"required,max=100"`
	LastName         string `json:"last_name" validate:"max=100"`
	Email            string `json:"email" validate:"omitempty,email"`
	Phone            string `json:"phone" validate:"max=30"`
	Address          string `json:"address" validate:"max=300"`
	EmergencyContact string `json:"emergency_contact" validate:"max=200"`
}

// OccupancyDTO is one stay.
type OccupancyDTO struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	RoomID       string  `json:"room_id"`
	CheckInDate  string  `json:"check_in_date"`
	CheckOutDate *string `json:"check_out_date,omitempty"`
	IsCurrent    bool    `json:"is_current"`
}

// TenantDetailDTO is a tenant with its stay history.
type TenantDetailDTO struct {
	TenantDTO
	History []OccupancyDTO `json:"history"`
}

// =============================================================================
// BILLING
// =============================================================================

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID               string          `json:"id"`
	RoomID           string          `json:"room_id"`
	TenantID         string          `json:"tenant_id"`
	BillingMonth     string          `json:"billing_month"`
	RoomRent         decimal.Decimal `json:"room_rent"`
	WaterUnits       decimal.Decimal `json:"water_units"`
	WaterCost        decimal.Decimal `json:"water_cost"`
	ElectricityUnits decimal.Decimal `json:"electricity_units"`
	ElectricityCost  decimal.Decimal `json:"electricity_cost"`
	Sum              decimal.Decimal `json:"sum"`
	Status           string          `json:"status"`
	DueDate          string          `json:"due_date"`
	PaidDate         *string         `json:"paid_date,omitempty"`
	ReceiptNumber    string          `json:"receipt_number"`
}

// GenerateBillsRequest runs a monthly billing batch. Readings are keyed by
// room id.
type GenerateBillsRequest struct {
	Month    string                     `json:"month" validate:"required"`
	DueDate  string                     `json:"due_date" validate:"required"`
	Readings map[string]decimal.Decimal `json:"readings" validate:"required"`
}

// RoomResultDTO is one room's outcome in a batch.
type RoomResultDTO struct {
	RoomID     string   `json:"room_id"`
	RoomNumber string   `json:"room_number,omitempty"`
	Outcome    string   `json:"outcome"`
	Bill       *BillDTO `json:"bill,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// BatchReportDTO is the response of a billing batch.
type BatchReportDTO struct {
	Month   string          `json:"month"`
	Summary string          `json:"summary"`
	Counts  map[string]int  `json:"counts"`
	Results []RoomResultDTO `json:"results"`
}

// OverdueRequest marks pending bills overdue. AsOf defaults to today.
type OverdueRequest struct {
	AsOf string `json:"as_of"`
}

// CountResponse reports how many records an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// =============================================================================
// REPAIRS
// =============================================================================

// RepairDTO represents a repair ticket in API responses.
type RepairDTO struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"room_id"`
	RoomNumber    string    `json:"room_number"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	ReportedDate  string    `json:"reported_date"`
	CompletedDate *string   `json:"completed_date,omitempty"`
	ProfileID     string    `json:"profile_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// FileRepairRequest files a ticket. Tenants may omit room_id.
type FileRepairRequest struct {
	RoomID       string `json:"room_id"`
	Description  string `json:"description" validate:"required"`
	Status       string `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
	ReportedDate string `json:"reported_date"`
}

// EditRepairRequest changes ticket fields; absent fields are kept.
type EditRepairRequest struct {
	RoomID       *string `json:"room_id"`
	Description  *string `json:"description"`
	ReportedDate *string `json:"reported_date"`
}

// RepairStatusRequest moves a ticket to another status.
type RepairStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRoomDTO(s occupancy.RoomSummary) RoomDTO {
	r := s.Room
	dto := RoomDTO{
		ID:                 r.ID,
		RoomNumber:         r.RoomNumber,
		Floor:              r.Floor,
		RoomType:           r.RoomType,
		Capacity:           r.Capacity,
		EffectiveCapacity:  s.EffectiveCapacity,
		Occupants:          s.Occupants,
		FreeBeds:           s.FreeBeds(),
		Price:              r.Price,
		Status:             string(r.Status),
		LatestMeterReading: r.LatestMeterReading,
		OldMeter:           r.OldMeter,
	}
	if !r.UpdatedAt.IsZero() {
		dto.UpdatedAt = r.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toTenantDTO(t dorm.Tenant) TenantDTO {
	return TenantDTO{
		ID:               t.ID,
		FirstName:        t.FirstName,
		LastName:         t.LastName,
		Email:            t.Email,
		Phone:            t.Phone,
		Address:          t.Address,
		EmergencyContact: t.EmergencyContact,
		RoomID:           t.RoomID,
		RoomNumber:       t.RoomNumber,
		Residency:        string(t.Residency),
		State:            t.State.String(),
	}
}

func toOccupancyDTO(o dorm.Occupancy) OccupancyDTO {
	dto := OccupancyDTO{
		ID:          o.ID,
		TenantID:    o.TenantID,
		RoomID:      o.RoomID,
		CheckInDate: dorm.FormatDate(o.CheckInDate),
		IsCurrent:   o.IsCurrent,
	}
	if o.CheckOutDate != nil {
		out := dorm.FormatDate(*o.CheckOutDate)
		dto.CheckOutDate = &out
	}
	return dto
}

func toBillDTO(b dorm.Bill) BillDTO {
	dto := BillDTO{
		ID:               b.ID,
		RoomID:           b.RoomID,
		TenantID:         b.TenantID,
		BillingMonth:     dorm.FormatMonth(b.BillingMonth),
		RoomRent:         b.RoomRent,
		WaterUnits:       b.WaterUnits,
		WaterCost:        b.WaterCost,
		ElectricityUnits: b.ElectricityUnits,
		ElectricityCost:  b.ElectricityCost,
		Sum:              b.Sum,
		Status:           string(b.Status),
		DueDate:          dorm.FormatDate(b.DueDate),
		ReceiptNumber:    b.ReceiptNumber,
	}
	if b.PaidDate != nil {
		paid := dorm.FormatDate(*b.PaidDate)
		dto.PaidDate = &paid
	}
	return dto
}

func toRepairDTO(rp dorm.Repair) RepairDTO {
	dto := RepairDTO{
		ID:           rp.ID,
		RoomID:       rp.RoomID,
		RoomNumber:   rp.RoomNumber,
		Description:  rp.Description,
		Status:       string(rp.Status),
		ReportedDate: dorm.FormatDate(rp.ReportedDate),
		ProfileID:    rp.ProfileID,
		CreatedAt:    rp.CreatedAt,
	}
	if rp.CompletedDate != nil {
		done := dorm.FormatDate(*rp.CompletedDate)
		dto.CompletedDate = &done
	}
	return dto
}

func toBatchReportDTO(rep *billing.BatchReport) BatchReportDTO {
	dto := BatchReportDTO{
		Month:   dorm.FormatMonth(rep.Month),
		Summary: rep.Summary(),
		Counts:  map[string]int{},
		Results: make([]RoomResultDTO, len(rep.Results)),
	}
	for outcome, n := range rep.Counts() {
		dto.Counts[string(outcome)] = n
	}
	for i, res := range rep.Results {
		r := RoomResultDTO{RoomID: res.RoomID, RoomNumber: res.RoomNumber, Outcome: string(res.Outcome)}
		if res.Bill != nil {
			b := toBillDTO(*res.Bill)
			r.Bill = &b
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		dto.Results[i] = r
	}
	return dto
}
