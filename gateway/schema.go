package gateway

// =============================================================================
// SCHEMA - Tables, columns and unique indexes every store must honour
// =============================================================================

// Index is a unique index. When Partial is set only rows matching it
// participate (e.g. one *current* occupancy per tenant).
type Index struct {
	Name    string
	Columns []string
	Partial *Filter
}

type TableSchema struct {
	Name    string
	Columns []string
	Unique  []Index
}

// HasColumn reports whether col belongs to the table.
func (t TableSchema) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

var currentOnly = Eq("is_current", true)

// Schema is the dormitory schema shared by all stores.
var Schema = map[string]TableSchema{
	"rooms": {
		Name: "rooms",
		Columns: []string{"id", "room_number", "floor", "room_type", "capacity", "price", "status",
			"latest_meter_reading", "old_meter", "version", "created_at", "updated_at"},
		Unique: []Index{{Name: "idx_rooms_number", Columns: []string{"room_number"}}},
	},
	"tenants": {
		Name: "tenants",
		Columns: []string{"id", "first_name", "last_name", "email", "phone", "address",
			"emergency_contact", "room_id", "room_number", "residents", "action", "created_at", "updated_at"},
	},
	"occupancy": {
		Name:    "occupancy",
		Columns: []string{"id", "tenant_id", "room_id", "check_in_date", "check_out_date", "is_current", "created_at"},
		Unique: []Index{{
			Name:    "idx_occupancy_current_tenant",
			Columns: []string{"tenant_id"},
			Partial: &currentOnly,
		}},
	},
	"billing": {
		Name: "billing",
		Columns: []string{"id", "room_id", "tenant_id", "billing_month", "room_rent", "water_units",
			"water_cost", "electricity_units", "electricity_cost", "sum", "status", "due_date",
			"paid_date", "receipt_number", "created_at"},
		Unique: []Index{{Name: "idx_billing_room_month", Columns: []string{"room_id", "billing_month"}}},
	},
	"profiles": {
		Name:    "profiles",
		Columns: []string{"id", "tenant_id", "staff_id", "role", "created_at"},
	},
	"repairs": {
		Name: "repairs",
		Columns: []string{"id", "room_id", "room_number", "description", "status", "reported_date",
			"completed_date", "profile_id", "created_at", "updated_at"},
	},
	"system_settings": {
		Name: "system_settings",
		Columns: []string{"id", "water_rate", "electricity_rate", "deposit_rate", "late_fee",
			"floor_count", "created_at", "updated_at"},
	},
}

// Lookup returns the schema of table or ErrUnknownTable.
func Lookup(table string) (TableSchema, error) {
	t, ok := Schema[table]
	if !ok {
		return TableSchema{}, ErrUnknownTable
	}
	return t, nil
}
