package report

import (
	"bytes"
	"fmt"

	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/xuri/excelize/v2"
)

// BatchSheet holds one row per room of a billing run.
const BatchSheet = "Batch"

// BatchHeader is the column order of the batch sheet.
var BatchHeader = []string{"Room", "Outcome", "Receipt", "Total", "Error"}

// BatchWorkbook renders a billing run: every room with its outcome.
func BatchWorkbook(rep *billing.BatchReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", BatchSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, BatchSheet, 1, toAny(BatchHeader)); err != nil {
		return nil, err
	}
	for i, w := range []float64{10, 28, 18, 12, 48} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(BatchSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	for i, res := range rep.Results {
		room := res.RoomNumber
		if room == "" {
			room = res.RoomID
		}
		values := []any{room, string(res.Outcome), "", "", ""}
		if res.Bill != nil {
			values[2] = res.Bill.ReceiptNumber
			values[3] = res.Bill.Sum.InexactFloat64()
		}
		if res.Err != nil {
			values[4] = res.Err.Error()
		}
		if err := writeRow(f, BatchSheet, i+2, values); err != nil {
			return nil, err
		}
	}

	footer := len(rep.Results) + 3
	if err := writeRow(f, BatchSheet, footer, []any{dorm.FormatMonth(rep.Month), rep.Summary()}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
