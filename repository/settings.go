package repository

import (
	"context"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// SYSTEM SETTINGS
// =============================================================================

func settingsFromRow(row gateway.Row) dorm.Settings {
	return dorm.Settings{
		WaterRate:       row.Decimal("water_rate"),
		ElectricityRate: row.Decimal("electricity_rate"),
		DepositRate:     row.Decimal("deposit_rate"),
		LateFee:         row.Decimal("late_fee"),
		FloorCount:      int(row.Int("floor_count")),
	}
}

// LatestSettings returns the newest settings row or dorm.ErrSettingsNotFound.
func (r *Repository) LatestSettings(ctx context.Context) (dorm.Settings, error) {
	rows, err := r.gw.Select(ctx, dorm.TableSettings, gateway.All().Desc("created_at").Take(1))
	if err != nil {
		return dorm.Settings{}, persistence("load settings", err)
	}
	if len(rows) == 0 {
		return dorm.Settings{}, dorm.ErrSettingsNotFound
	}
	return settingsFromRow(rows[0]), nil
}

// CountSettings is the number of settings rows. More than one is legal but
// flagged by validation since only the newest is read.
func (r *Repository) CountSettings(ctx context.Context) (int, error) {
	n, err := r.gw.Count(ctx, dorm.TableSettings)
	if err != nil {
		return 0, persistence("count settings", err)
	}
	return n, nil
}

// SaveSettings overwrites the newest settings row, or inserts the first one.
func (r *Repository) SaveSettings(ctx context.Context, s dorm.Settings) error {
	rows, err := r.gw.Select(ctx, dorm.TableSettings, gateway.All().Desc("created_at").Take(1))
	if err != nil {
		return persistence("load settings", err)
	}
	now := r.stamp()
	row := gateway.Row{
		"water_rate":       money(s.WaterRate),
		"electricity_rate": money(s.ElectricityRate),
		"deposit_rate":     money(s.DepositRate),
		"late_fee":         money(s.LateFee),
		"floor_count":      int64(s.FloorCount),
		"updated_at":       now,
	}
	if len(rows) == 0 {
		row["created_at"] = now
		_, err := r.gw.Insert(ctx, dorm.TableSettings, row)
		return persistence("save settings", err)
	}
	_, err = r.gw.Update(ctx, dorm.TableSettings, row, gateway.Eq("id", rows[0].ID()))
	return persistence("save settings", err)
}

// AppendSettings inserts a new settings row, which becomes the newest.
func (r *Repository) AppendSettings(ctx context.Context, s dorm.Settings) error {
	now := r.stamp()
	_, err := r.gw.Insert(ctx, dorm.TableSettings, gateway.Row{
		"water_rate":       money(s.WaterRate),
		"electricity_rate": money(s.ElectricityRate),
		"deposit_rate":     money(s.DepositRate),
		"late_fee":         money(s.LateFee),
		"floor_count":      int64(s.FloorCount),
		"created_at":       now,
		"updated_at":       now,
	})
	return persistence("append settings", err)
}
