package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/report"
	"github.com/xuri/excelize/v2"
)

func TestBillsWorkbook(t *testing.T) {
	june := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	paidOn := time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)
	lines := []report.BillLine{
		{
			RoomNumber: "101",
			TenantName: "Anan K",
			Bill: dorm.Bill{
				ReceiptNumber:    "INV-202406-101",
				BillingMonth:     june,
				RoomRent:         decimal.NewFromInt(3500),
				WaterUnits:       decimal.NewFromInt(2),
				WaterCost:        decimal.NewFromInt(200),
				ElectricityUnits: decimal.NewFromInt(50),
				ElectricityCost:  decimal.NewFromInt(350),
				Sum:              decimal.NewFromInt(4050),
				Status:           dorm.BillPending,
				DueDate:          june.AddDate(0, 0, 9),
			},
		},
		{
			RoomNumber: "102",
			TenantName: "Bee",
			Bill: dorm.Bill{
				ReceiptNumber: "INV-202406-102",
				BillingMonth:  june,
				RoomRent:      decimal.NewFromInt(3500),
				Sum:           decimal.NewFromInt(3600),
				Status:        dorm.BillPaid,
				DueDate:       june.AddDate(0, 0, 9),
				PaidDate:      &paidOn,
			},
		},
	}

	data, err := report.BillsWorkbook(lines)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(report.BillsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, report.BillsHeader, rows[0])
	assert.Equal(t, []string{"INV-202406-101", "2024-06", "101", "Anan K", "3500", "2", "200", "50", "350", "4050", "pending", "2024-06-10"}, rows[1][:12])
	assert.Equal(t, "2024-06-05", rows[2][12])

	summary, err := f.GetRows(report.SummarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 5)
	assert.Equal(t, []string{"pending", "1", "4050"}, summary[1])
	assert.Equal(t, []string{"overdue", "0", "0"}, summary[2])
	assert.Equal(t, []string{"paid", "1", "3600"}, summary[3])
	assert.Equal(t, []string{"all", "2", "7650"}, summary[4])
}

func TestBillsWorkbook_Empty(t *testing.T) {
	data, err := report.BillsWorkbook(nil)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(report.BillsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBatchWorkbook(t *testing.T) {
	june := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	rep := &billing.BatchReport{
		Month: june,
		Results: []billing.RoomResult{
			{RoomID: "r1", RoomNumber: "101", Outcome: billing.OutcomeBilled, Bill: &dorm.Bill{
				ReceiptNumber: "INV-202406-101", Sum: decimal.NewFromInt(4050),
			}},
			{RoomID: "r2", RoomNumber: "102", Outcome: billing.OutcomeAlreadyBilled, Err: dorm.ErrAlreadyBilled},
		},
	}

	data, err := report.BatchWorkbook(rep)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(report.BatchSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, report.BatchHeader, rows[0])
	assert.Equal(t, []string{"101", "Billed", "INV-202406-101", "4050"}, rows[1][:4])
	assert.Equal(t, "AlreadyBilled", rows[2][1])
	assert.Equal(t, "room already billed for month", rows[2][4])
	assert.Equal(t, []string{"2024-06", "1 bills created, 1 skipped (AlreadyBilled: 1)"}, rows[4])
}
