// Package report renders bills as spreadsheet exports.
package report

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/dorm-engine/dorm"
	"github.com/xuri/excelize/v2"
)

const (
	BillsSheet   = "Bills"
	SummarySheet = "Summary"
)

// BillsHeader is the column order of the bills sheet.
var BillsHeader = []string{
	"Receipt",
	"Month",
	"Room",
	"Tenant",
	"Rent",
	"Water Units",
	"Water Cost",
	"Electricity Units",
	"Electricity Cost",
	"Total",
	"Status",
	"Due Date",
	"Paid Date",
}

var columnWidths = []float64{18, 10, 8, 24, 12, 12, 12, 16, 16, 12, 10, 12, 12}

// BillLine is one bill with display names resolved.
type BillLine struct {
	Bill       dorm.Bill
	RoomNumber string
	TenantName string
}

// BillsWorkbook builds an xlsx with one row per bill plus a per-status
// summary sheet.
func BillsWorkbook(lines []BillLine) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", BillsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	if err := writeRow(f, BillsSheet, 1, toAny(BillsHeader)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(BillsHeader), 1)
	if err := f.SetCellStyle(BillsSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	for i, w := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(BillsSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	type tally struct {
		count int
		sum   decimal.Decimal
	}
	totals := map[dorm.BillStatus]*tally{}
	for i, l := range lines {
		b := l.Bill
		paid := ""
		if b.PaidDate != nil {
			paid = dorm.FormatDate(*b.PaidDate)
		}
		values := []any{
			b.ReceiptNumber,
			dorm.FormatMonth(b.BillingMonth),
			l.RoomNumber,
			l.TenantName,
			b.RoomRent.InexactFloat64(),
			b.WaterUnits.InexactFloat64(),
			b.WaterCost.InexactFloat64(),
			b.ElectricityUnits.InexactFloat64(),
			b.ElectricityCost.InexactFloat64(),
			b.Sum.InexactFloat64(),
			string(b.Status),
			dorm.FormatDate(b.DueDate),
			paid,
		}
		if err := writeRow(f, BillsSheet, i+2, values); err != nil {
			return nil, err
		}
		t, ok := totals[b.Status]
		if !ok {
			t = &tally{}
			totals[b.Status] = t
		}
		t.count++
		t.sum = t.sum.Add(b.Sum)
	}

	if err := f.SetPanes(BillsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze panes: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeRow(f, SummarySheet, 1, []any{"Status", "Bills", "Total"}); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "C1", headerStyle); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	row := 2
	grand := decimal.Zero
	for _, status := range []dorm.BillStatus{dorm.BillPending, dorm.BillOverdue, dorm.BillPaid} {
		t := totals[status]
		if t == nil {
			t = &tally{}
		}
		if err := writeRow(f, SummarySheet, row, []any{string(status), t.count, t.sum.InexactFloat64()}); err != nil {
			return nil, err
		}
		grand = grand.Add(t.sum)
		row++
	}
	if err := writeRow(f, SummarySheet, row, []any{"all", len(lines), grand.InexactFloat64()}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
