/*
types.go - Dormitory domain records

PURPOSE:
  Plain records for the seven persisted tables plus the small enums that
  drive the occupancy state machine. Conversion to and from storage rows
  lives in repository/, not here.

KEY RULES:
  - A room's effective capacity is max(capacity, 2).
  - A tenant is either Active or Removed; removal is a soft delete.
  - A tenant lives in a room as the primary renter or as a co-occupant.
  - Money and meter values are decimals; dates are day granular (UTC).

SEE ALSO:
  - errors.go: Error taxonomy
  - repository/: Row codecs
*/
package dorm

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TABLE NAMES
// =============================================================================

const (
	TableRooms     = "rooms"
	TableTenants   = "tenants"
	TableOccupancy = "occupancy"
	TableBilling   = "billing"
	TableProfiles  = "profiles"
	TableSettings  = "system_settings"
	TableRepairs   = "repairs"
)

// =============================================================================
// ROOMS
// =============================================================================

// RoomStatus is the room state machine: vacant <-> occupied, vacant <-> maintenance.
type RoomStatus string

const (
	RoomVacant      RoomStatus = "vacant"
	RoomOccupied    RoomStatus = "occupied"
	RoomMaintenance RoomStatus = "maintenance"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomVacant, RoomOccupied, RoomMaintenance:
		return true
	}
	return false
}

// MinEffectiveCapacity is the floor applied to every room's declared capacity.
const MinEffectiveCapacity = 2

type Room struct {
	ID                 string
	RoomNumber         string
	Floor              int
	RoomType           string
	Capacity           int
	Price              decimal.Decimal
	Status             RoomStatus
	LatestMeterReading decimal.Decimal
	OldMeter           decimal.Decimal
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EffectiveCapacity is max(Capacity, 2).
func (r Room) EffectiveCapacity() int {
	return EffectiveCapacity(r.Capacity)
}

// EffectiveCapacity applies the minimum capacity floor.
func EffectiveCapacity(declared int) int {
	if declared < MinEffectiveCapacity {
		return MinEffectiveCapacity
	}
	return declared
}

// StatusFor is the status a non-maintenance room should carry for a given
// number of current occupants.
func StatusFor(occupants int) RoomStatus {
	if occupants > 0 {
		return RoomOccupied
	}
	return RoomVacant
}

// =============================================================================
// TENANTS
// =============================================================================

// Residency tags how a tenant lives in its room.
type Residency string

const (
	ResidencyPrimary    Residency = "primary"
	ResidencyCoOccupant Residency = "co-occupant"
)

// TenantState is the lifecycle of a tenant record.
type TenantState int

const (
	TenantActive  TenantState = 1
	TenantRemoved TenantState = 2
)

func (s TenantState) String() string {
	switch s {
	case TenantActive:
		return "active"
	case TenantRemoved:
		return "removed"
	}
	return "unknown"
}

type Tenant struct {
	ID               string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Address          string
	EmergencyContact string
	RoomID           string // empty when unassigned
	RoomNumber       string
	Residency        Residency
	State            TenantState
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (t Tenant) Active() bool { return t.State == TenantActive }

func (t Tenant) IsCoOccupant() bool { return t.Residency == ResidencyCoOccupant }

func (t Tenant) FullName() string {
	if t.LastName == "" {
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// =============================================================================
// OCCUPANCY
// =============================================================================

// Occupancy is one stay of a tenant in a room. At most one row per tenant
// has IsCurrent set.
type Occupancy struct {
	ID           string
	TenantID     string
	RoomID       string
	CheckInDate  time.Time
	CheckOutDate *time.Time
	IsCurrent    bool
	CreatedAt    time.Time
}

// =============================================================================
// BILLING
// =============================================================================

type BillStatus string

const (
	BillPending BillStatus = "pending"
	BillPaid    BillStatus = "paid"
	BillOverdue BillStatus = "overdue"
)

func (s BillStatus) Valid() bool {
	switch s {
	case BillPending, BillPaid, BillOverdue:
		return true
	}
	return false
}

// Bill is the monthly charge for one room. BillingMonth is always the first
// day of the month.
type Bill struct {
	ID               string
	RoomID           string
	TenantID         string
	BillingMonth     time.Time
	RoomRent         decimal.Decimal
	WaterUnits       decimal.Decimal
	WaterCost        decimal.Decimal
	ElectricityUnits decimal.Decimal
	ElectricityCost  decimal.Decimal
	Sum              decimal.Decimal
	Status           BillStatus
	DueDate          time.Time
	PaidDate         *time.Time
	ReceiptNumber    string
	CreatedAt        time.Time
}

// =============================================================================
// REPAIRS
// =============================================================================

type RepairStatus string

const (
	RepairPending    RepairStatus = "pending"
	RepairInProgress RepairStatus = "in_progress"
	RepairCompleted  RepairStatus = "completed"
	RepairCancelled  RepairStatus = "cancelled"
)

func (s RepairStatus) Valid() bool {
	switch s {
	case RepairPending, RepairInProgress, RepairCompleted, RepairCancelled:
		return true
	}
	return false
}

// Repair is a maintenance ticket filed against a room. CompletedDate is set
// only while the ticket is completed.
type Repair struct {
	ID            string
	RoomID        string
	RoomNumber    string
	Description   string
	Status        RepairStatus
	ReportedDate  time.Time
	CompletedDate *time.Time
	ProfileID     string // who filed it
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// PROFILES & SETTINGS
// =============================================================================

// Profile is a login account that may point at a tenant or staff record.
type Profile struct {
	ID       string
	TenantID *string
	StaffID  *string
	Role     Role
}

// Settings are the system-wide rates. The core reads them once per batch and
// never writes them.
type Settings struct {
	WaterRate       decimal.Decimal `json:"water_rate"`
	ElectricityRate decimal.Decimal `json:"electricity_rate"`
	DepositRate     decimal.Decimal `json:"deposit_rate"`
	LateFee         decimal.Decimal `json:"late_fee"`
	FloorCount      int             `json:"floor_count"`
}

// Defaults applied when saving settings with zero values.
var (
	DefaultLateFee    = decimal.NewFromInt(5)
	DefaultFloorCount = 4
)
