package service

import (
	"context"

	"github.com/xuri/excelize/v2"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/dashboard"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportDashboard writes the dashboard snapshot as an xlsx workbook with one
// sheet per table. Failed metrics appear on an Errors sheet.
func (s *Service) ExportDashboard(ctx context.Context, params MetricParams) ([]byte, error) {
	snap, err := s.Dashboard(ctx, params)
	if err != nil {
		return nil, err
	}
	payload, err := buildWorkbook(snap, s.receipts.Currency)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "build dashboard workbook")
	}
	return payload, nil
}

func buildWorkbook(snap dashboard.Snapshot, currency string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}

	writeRows := func(sheet string, headers []string, rows [][]any) error {
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
			if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
				return err
			}
		}
		for r, row := range rows {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return err
				}
			}
		}
		return f.SetPanes(sheet, &excelize.Panes{Freeze: true, Split: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}
	newSheet := func(name string) error {
		_, err := f.NewSheet(name)
		return err
	}

	summary := "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	if err := writeRows(summary, []string{"Metric", "Value (" + currency + ")"}, [][]any{
		{"Total stock value", snap.TotalStockValue.InexactFloat64()},
		{"Inventory turnover rate", snap.InventoryTurnoverRate.InexactFloat64()},
		{"Sales today", snap.TotalSalesToday.InexactFloat64()},
		{"Sales this month", snap.TotalSalesThisMonth.InexactFloat64()},
		{"Out of stock products", len(snap.OutOfStockProducts)},
		{"Low stock products", snap.LowStock.Count},
		{"Dead stock products", len(snap.DeadStock)},
	}); err != nil {
		return nil, err
	}

	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
	}{
		{"Stock By Store", []string{"Branch", "Quantity", "Value"}, stockRows(snap.StockByStore)},
		{"Sales By Store", []string{"Branch", "Total Sales"}, salesRows(snap.SalesByStore)},
		{"Top Products", []string{"Product", "Units Sold"}, topRows(snap.TopSellingProducts)},
		{"Sales Growth", []string{"Period", "Total Sales"}, growthRows(snap.SalesGrowth)},
		{"Low Stock", []string{"Product", "Category", "Quantity", "Price"}, lowStockRows(snap.LowStock)},
	}
	if len(snap.Errors) > 0 {
		var rows [][]any
		for metric, msg := range snap.Errors {
			rows = append(rows, []any{metric, msg})
		}
		sheets = append(sheets, struct {
			name    string
			headers []string
			rows    [][]any
		}{"Errors", []string{"Metric", "Error"}, rows})
	}
	for _, sheet := range sheets {
		if err := newSheet(sheet.name); err != nil {
			return nil, err
		}
		if err := writeRows(sheet.name, sheet.headers, sheet.rows); err != nil {
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stockRows(in []dashboard.StoreStock) [][]any {
	rows := make([][]any, 0, len(in))
	for _, s := range in {
		rows = append(rows, []any{s.BranchName, s.TotalQuantity, s.TotalValue.InexactFloat64()})
	}
	return rows
}

func salesRows(in []dashboard.StoreSales) [][]any {
	rows := make([][]any, 0, len(in))
	for _, s := range in {
		rows = append(rows, []any{s.BranchName, s.TotalSales.InexactFloat64()})
	}
	return rows
}

func topRows(in []dashboard.ProductSales) [][]any {
	rows := make([][]any, 0, len(in))
	for _, p := range in {
		rows = append(rows, []any{p.ProductName, p.TotalSold})
	}
	return rows
}

func growthRows(in []dashboard.PeriodSales) [][]any {
	rows := make([][]any, 0, len(in))
	for _, p := range in {
		rows = append(rows, []any{p.Period, p.TotalSales.InexactFloat64()})
	}
	return rows
}

func lowStockRows(in dashboard.LowStock) [][]any {
	rows := make([][]any, 0, len(in.Products))
	for _, p := range in.Products {
		rows = append(rows, []any{p.Name, string(p.Category), p.Quantity, p.Price.InexactFloat64()})
	}
	return rows
}
