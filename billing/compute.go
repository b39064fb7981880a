package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
)

// Charges is the priced breakdown of one room-month.
type Charges struct {
	RoomRent         decimal.Decimal
	WaterUnits       decimal.Decimal
	WaterCost        decimal.Decimal
	ElectricityUnits decimal.Decimal
	ElectricityCost  decimal.Decimal
	Sum              decimal.Decimal
}

// Compute prices a room-month:
//
//	water_units       = occupants (billed per head)
//	water_cost        = occupants * water_rate
//	electricity_units = max(reading - previous, 0)
//	electricity_cost  = electricity_units * electricity_rate
//	room_rent         = deposit_rate
//	sum               = room_rent + water_cost + electricity_cost
//
// The late fee is not applied here.
func Compute(occupants int, previous, reading decimal.Decimal, s dorm.Settings) Charges {
	heads := decimal.NewFromInt(int64(occupants))
	units := reading.Sub(previous)
	if units.IsNegative() {
		units = decimal.Zero
	}
	c := Charges{
		RoomRent:         s.DepositRate,
		WaterUnits:       heads,
		WaterCost:        heads.Mul(s.WaterRate),
		ElectricityUnits: units,
		ElectricityCost:  units.Mul(s.ElectricityRate),
	}
	c.Sum = c.RoomRent.Add(c.WaterCost).Add(c.ElectricityCost)
	return c
}
