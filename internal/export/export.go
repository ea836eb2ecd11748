// Package export renders an owner's bookings and payments as an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"sort"

	"gearshare/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	BookingsSheet = "Bookings"
	PaymentsSheet = "Payments"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	bookingHeaders = []string{"Booking ID", "Listing", "Renter", "Start", "End", "Days", "Total", "Status", "Paid", "Created"}
	paymentHeaders = []string{"Payment ID", "Booking ID", "Intent", "Amount", "Platform fee", "Owner amount", "Currency", "Status", "Created"}
)

// OwnerWorkbook builds the workbook. Money columns are written in major units.
func OwnerWorkbook(bookings []*models.Booking, payments map[string][]*models.Payment) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(BookingsSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(PaymentsSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})

	writeHeaders(f, BookingsSheet, bookingHeaders, headerStyle)
	writeHeaders(f, PaymentsSheet, paymentHeaders, headerStyle)

	row := 2
	for _, b := range bookings {
		values := []any{
			b.ID, b.ListingID, b.RenterID,
			models.FormatDate(b.StartDate), models.FormatDate(b.EndDate), b.Days(),
			toMajor(b.TotalPrice), string(b.Status), b.Paid, b.CreatedAt.Format("2006-01-02 15:04"),
		}
		if err := writeRow(f, BookingsSheet, row, values); err != nil {
			_ = f.Close()
			return nil, err
		}
		cell, _ := excelize.CoordinatesToCellName(7, row)
		_ = f.SetCellStyle(BookingsSheet, cell, cell, moneyStyle)
		row++
	}

	ids := make([]string, 0, len(payments))
	for id := range payments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	row = 2
	for _, id := range ids {
		for _, p := range payments[id] {
			values := []any{
				p.ID, p.BookingID, p.ExternalIntentID,
				toMajor(p.Amount), toMajor(p.PlatformFee), toMajor(p.OwnerAmount),
				p.Currency, string(p.Status), p.CreatedAt.Format("2006-01-02 15:04"),
			}
			if err := writeRow(f, PaymentsSheet, row, values); err != nil {
				_ = f.Close()
				return nil, err
			}
			first, _ := excelize.CoordinatesToCellName(4, row)
			last, _ := excelize.CoordinatesToCellName(6, row)
			_ = f.SetCellStyle(PaymentsSheet, first, last, moneyStyle)
			row++
		}
	}

	_ = f.SetColWidth(BookingsSheet, "A", "C", 38)
	_ = f.SetColWidth(BookingsSheet, "D", "J", 14)
	_ = f.SetColWidth(PaymentsSheet, "A", "C", 38)
	_ = f.SetColWidth(PaymentsSheet, "D", "I", 14)
	return f, nil
}

// WriteOwnerReport streams the workbook to w.
func WriteOwnerReport(w io.Writer, bookings []*models.Booking, payments map[string][]*models.Payment) error {
	f, err := OwnerWorkbook(bookings, payments)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeHeaders(f *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("error writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toMajor(minor int64) float64 {
	return float64(minor) / 100
}
