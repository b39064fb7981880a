package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/api"
	"github.com/warp/dorm-engine/occupancy"
)

func TestListScenarios(t *testing.T) {
	f := newFixture(t)

	list := decodeBody[[]api.ScenarioDTO](t, f.do(t, http.MethodGet, "/api/scenarios", "", nil))

	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"empty-dorm", "shared-room", "billing-month", "price-drift"}, ids)
}

func TestLoadScenario_EveryScenarioIsConsistent(t *testing.T) {
	for _, id := range []string{"empty-dorm", "shared-room", "billing-month", "price-drift"} {
		t.Run(id, func(t *testing.T) {
			f := newFixture(t)

			// WHEN: the scenario is loaded
			f.load(t, id)

			// THEN: it is reported as current and passes the occupancy audit
			cur := decodeBody[api.ScenarioDTO](t, f.do(t, http.MethodGet, "/api/scenarios/current", "", nil))
			assert.Equal(t, id, cur.ID)
			violations := decodeBody[[]occupancy.Violation](t, f.do(t, http.MethodGet, "/api/audit", "", nil))
			assert.Empty(t, violations)
		})
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	f := newFixture(t)
	f.load(t, "shared-room")
	f.load(t, "price-drift")

	rooms := decodeBody[[]api.RoomDTO](t, f.do(t, http.MethodGet, "/api/rooms", "", nil))
	assert.Len(t, rooms, 4)
	tenants := decodeBody[[]api.TenantDTO](t, f.do(t, http.MethodGet, "/api/tenants", "", nil))
	assert.Empty(t, tenants)
}

func TestLoadScenario_BillingMonth(t *testing.T) {
	f := newFixture(t)
	f.load(t, "billing-month")

	bills := decodeBody[[]api.BillDTO](t, f.do(t, http.MethodGet, "/api/billing?month=2024-06", "", nil))
	require.Len(t, bills, 2)
	status := map[string]string{}
	for _, b := range bills {
		status[b.ReceiptNumber] = b.Status
	}
	assert.Equal(t, map[string]string{"INV-202406-101": "pending", "INV-202406-102": "paid"}, status)
}

func TestLoadScenario_Rejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scenarios/load", "staff", api.LoadScenarioRequest{ScenarioID: "empty-dorm"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/scenarios/load", "admin", api.LoadScenarioRequest{ScenarioID: "castle"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
