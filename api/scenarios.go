/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	dormitory data. Every scenario goes through the same domain operations
	the API exposes, so loaded data always satisfies the occupancy rules.

AVAILABLE SCENARIOS:

	empty-dorm:     Settings and eight vacant rooms on two floors
	shared-room:    A primary tenant with a co-occupant, one maintenance room
	billing-month:  shared-room plus last month's bills, one of them paid
	price-drift:    Rooms priced below the system rate, ready for a sync

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Save system settings
 3. Create rooms and tenants
 4. Assign tenants and co-occupants
 5. Optionally run a billing batch

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shared-room"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Domain handlers the loaders mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/occupancy"
	"github.com/warp/dorm-engine/settings"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty-dorm",
		Name:        "Empty Dorm",
		Description: "System settings and eight vacant rooms on two floors",
	},
	{
		ID:          "shared-room",
		Name:        "Shared Room",
		Description: "Room 101 with a primary tenant and a co-occupant, room 104 under maintenance",
	},
	{
		ID:          "billing-month",
		Name:        "Billing Month",
		Description: "Shared room plus last month's bills, one already paid",
	},
	{
		ID:          "price-drift",
		Name:        "Price Drift",
		Description: "Rooms priced below the system rent, ready for a price sync",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"empty-dorm":    (*Handler).loadEmptyDorm,
	"shared-room":   (*Handler).loadSharedRoom,
	"billing-month": (*Handler).loadBillingMonth,
	"price-drift":   (*Handler).loadPriceDrift,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := dorm.RequireRole("load scenario", actor, dorm.RoleAdmin); err != nil {
		h.fail(w, r, err)
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, found := scenarioLoaders[req.ScenarioID]
	if !found {
		h.fail(w, r, dorm.Invalid("scenario_id", "unknown scenario %q", req.ScenarioID))
		return
	}
	if h.Reset == nil {
		writeError(w, http.StatusConflict, "ResetUnsupported", "The configured store cannot be reset", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Reset(ctx); err != nil {
		h.fail(w, r, dorm.Persistence("reset", err))
		return
	}
	h.currentScenario = ""
	if err := load(h, ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadEmptyDorm(ctx context.Context) error {
	if err := h.saveSettings(ctx, 3500, 18, 8); err != nil {
		return err
	}
	for floor := 1; floor <= 2; floor++ {
		for n := 1; n <= 4; n++ {
			if _, err := h.createRoom(ctx, fmt.Sprintf("%d0%d", floor, n), floor, 3500); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadSharedRoom(ctx context.Context) error {
	if err := h.loadEmptyDorm(ctx); err != nil {
		return err
	}
	rooms, err := h.roomsByNumber(ctx)
	if err != nil {
		return err
	}
	actor := dorm.System

	anan, err := h.Occupancy.CreateTenant(ctx, actor, occupancy.TenantInput{
		FirstName: "Anan", LastName: "Kittisak", Email: "anan@example.com", Phone: "081-000-0101",
	})
	if err != nil {
		return err
	}
	if _, err := h.Occupancy.AssignTenant(ctx, actor, anan.ID, rooms["101"]); err != nil {
		return err
	}
	if _, err := h.Occupancy.AddCoOccupant(ctx, actor, rooms["101"], occupancy.CoOccupantInput{
		FirstName: "Bee", LastName: "Kittisak", Phone: "081-000-0102",
	}); err != nil {
		return err
	}

	chai, err := h.Occupancy.CreateTenant(ctx, actor, occupancy.TenantInput{
		FirstName: "Chai", LastName: "Somboon", Email: "chai@example.com",
	})
	if err != nil {
		return err
	}
	if _, err := h.Occupancy.AssignTenant(ctx, actor, chai.ID, rooms["102"]); err != nil {
		return err
	}

	_, err = h.Occupancy.SetMaintenance(ctx, actor, rooms["104"], true)
	return err
}

func (h *Handler) loadBillingMonth(ctx context.Context) error {
	if err := h.loadSharedRoom(ctx); err != nil {
		return err
	}
	rooms, err := h.roomsByNumber(ctx)
	if err != nil {
		return err
	}
	month := dorm.MonthStart(h.Clock.Now()).AddDate(0, -1, 0)
	rep, err := h.Billing.GenerateMonthlyBills(ctx, dorm.System, billing.BatchRequest{
		Month:   month,
		DueDate: month.AddDate(0, 1, 4),
		Readings: map[string]decimal.Decimal{
			rooms["101"]: decimal.NewFromInt(50),
			rooms["102"]: decimal.NewFromInt(120),
		},
	})
	if err != nil {
		return err
	}
	for _, res := range rep.Billed() {
		if res.RoomNumber == "102" {
			_, err := h.Billing.MarkBillPaid(ctx, dorm.System, res.Bill.ID)
			return err
		}
	}
	return nil
}

func (h *Handler) loadPriceDrift(ctx context.Context) error {
	if err := h.saveSettings(ctx, 4000, 18, 8); err != nil {
		return err
	}
	prices := map[string]int64{"101": 3500, "102": 3500, "103": 4000, "201": 3200}
	for _, number := range []string{"101", "102", "103", "201"} {
		floor := int(number[0] - '0')
		if _, err := h.createRoom(ctx, number, floor, prices[number]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) saveSettings(ctx context.Context, rent, water, electricity int64) error {
	deposit := decimal.NewFromInt(rent)
	waterRate := decimal.NewFromInt(water)
	elecRate := decimal.NewFromInt(electricity)
	floors := 2
	_, err := h.Settings.Save(ctx, dorm.System, settings.Input{
		DepositRate:     &deposit,
		WaterRate:       &waterRate,
		ElectricityRate: &elecRate,
		FloorCount:      &floors,
	})
	return err
}

func (h *Handler) createRoom(ctx context.Context, number string, floor int, price int64) (dorm.Room, error) {
	return h.Occupancy.CreateRoom(ctx, dorm.System, occupancy.RoomInput{
		RoomNumber: number,
		Floor:      floor,
		RoomType:   "standard",
		Capacity:   2,
		Price:      decimal.NewFromInt(price),
	})
}

func (h *Handler) roomsByNumber(ctx context.Context) (map[string]string, error) {
	all, err := h.Occupancy.ListRoomSummaries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for _, s := range all {
		out[s.Room.RoomNumber] = s.Room.ID
	}
	return out, nil
}
