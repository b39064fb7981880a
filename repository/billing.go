package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
)

// =============================================================================
// BILLING
// =============================================================================

func billFromRow(row gateway.Row) dorm.Bill {
	return dorm.Bill{
		ID:               row.ID(),
		RoomID:           row.String("room_id"),
		TenantID:         row.String("tenant_id"),
		BillingMonth:     dorm.MonthStart(row.Time("billing_month")),
		RoomRent:         row.Decimal("room_rent"),
		WaterUnits:       row.Decimal("water_units"),
		WaterCost:        row.Decimal("water_cost"),
		ElectricityUnits: row.Decimal("electricity_units"),
		ElectricityCost:  row.Decimal("electricity_cost"),
		Sum:              row.Decimal("sum"),
		Status:           dorm.BillStatus(row.String("status")),
		DueDate:          row.Time("due_date"),
		PaidDate:         row.NullableTime("paid_date"),
		ReceiptNumber:    row.String("receipt_number"),
		CreatedAt:        row.Time("created_at"),
	}
}

func billRow(b dorm.Bill) gateway.Row {
	return gateway.Row{
		"id":                b.ID,
		"room_id":           b.RoomID,
		"tenant_id":         nullableText(b.TenantID),
		"billing_month":     day(dorm.MonthStart(b.BillingMonth)),
		"room_rent":         money(b.RoomRent),
		"water_units":       money(b.WaterUnits),
		"water_cost":        money(b.WaterCost),
		"electricity_units": money(b.ElectricityUnits),
		"electricity_cost":  money(b.ElectricityCost),
		"sum":               money(b.Sum),
		"status":            string(b.Status),
		"due_date":          day(b.DueDate),
		"paid_date":         nullableDay(b.PaidDate),
		"receipt_number":    nullableText(b.ReceiptNumber),
	}
}

// BillFilter narrows ListBills. Zero fields are ignored.
type BillFilter struct {
	Month  time.Time
	RoomID string
	Status dorm.BillStatus
}

func (f BillFilter) filters() []gateway.Filter {
	var out []gateway.Filter
	if !f.Month.IsZero() {
		out = append(out, gateway.Eq("billing_month", day(dorm.MonthStart(f.Month))))
	}
	if f.RoomID != "" {
		out = append(out, gateway.Eq("room_id", f.RoomID))
	}
	if f.Status != "" {
		out = append(out, gateway.Eq("status", string(f.Status)))
	}
	return out
}

// GetBill loads a bill or returns dorm.ErrBillNotFound.
func (r *Repository) GetBill(ctx context.Context, id string) (dorm.Bill, error) {
	row, err := gateway.SelectOne(ctx, r.gw, dorm.TableBilling, gateway.Eq("id", id))
	if err != nil {
		return dorm.Bill{}, persistence("load bill", err)
	}
	if row == nil {
		return dorm.Bill{}, dorm.NotFound(dorm.ErrBillNotFound, id)
	}
	return billFromRow(row), nil
}

// ListBills returns bills newest month first.
func (r *Repository) ListBills(ctx context.Context, f BillFilter) ([]dorm.Bill, error) {
	rows, err := r.gw.Select(ctx, dorm.TableBilling,
		gateway.Where(f.filters()...).Desc("billing_month").Asc("receipt_number"))
	if err != nil {
		return nil, persistence("list bills", err)
	}
	out := make([]dorm.Bill, len(rows))
	for i, row := range rows {
		out[i] = billFromRow(row)
	}
	return out, nil
}

// BillExists reports whether the room was already billed for month.
func (r *Repository) BillExists(ctx context.Context, roomID string, month time.Time) (bool, error) {
	n, err := r.gw.Count(ctx, dorm.TableBilling,
		gateway.Eq("room_id", roomID), gateway.Eq("billing_month", day(dorm.MonthStart(month))))
	if err != nil {
		return false, persistence("check bill", err)
	}
	return n > 0, nil
}

// CreateBill inserts a bill. A duplicate (room, month) is dorm.ErrAlreadyBilled.
func (r *Repository) CreateBill(ctx context.Context, b dorm.Bill) (dorm.Bill, error) {
	row := billRow(b)
	row["created_at"] = r.stamp()
	if b.ID == "" {
		delete(row, "id")
	}
	stored, err := r.gw.Insert(ctx, dorm.TableBilling, row)
	if err != nil {
		if IsUniqueViolation(err) {
			return dorm.Bill{}, fmt.Errorf("room %s month %s: %w", b.RoomID, dorm.FormatMonth(b.BillingMonth), dorm.ErrAlreadyBilled)
		}
		return dorm.Bill{}, persistence("create bill", err)
	}
	return billFromRow(stored), nil
}

// MarkBillPaid flips a bill to paid unless it already is. It returns false
// when no unpaid bill with that id exists.
func (r *Repository) MarkBillPaid(ctx context.Context, id string, paidOn time.Time) (bool, error) {
	n, err := r.gw.Update(ctx, dorm.TableBilling, gateway.Row{
		"status":    string(dorm.BillPaid),
		"paid_date": day(paidOn),
	}, gateway.Eq("id", id), gateway.Neq("status", string(dorm.BillPaid)))
	if err != nil {
		return false, persistence("pay bill", err)
	}
	return n > 0, nil
}

// MarkOverdue flips pending bills due strictly before asOf to overdue.
func (r *Repository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	n, err := r.gw.Update(ctx, dorm.TableBilling, gateway.Row{
		"status": string(dorm.BillOverdue),
	}, gateway.Eq("status", string(dorm.BillPending)), gateway.Lt("due_date", day(asOf)))
	if err != nil {
		return 0, persistence("mark overdue", err)
	}
	return n, nil
}
