package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/haseebsahi/refinery-po-system/internal/srm/repository"
	"github.com/xuri/excelize/v2"
)

// ExportService 订单导出
type ExportService struct {
	poRepo *repository.PORepository
}

func NewExportService(poRepo *repository.PORepository) *ExportService {
	return &ExportService{poRepo: poRepo}
}

var poLineHeaders = []string{"#", "Catalog Item", "Name", "Supplier", "Quantity", "Unit Price (USD)", "Line Total (USD)"}

var poHistoryHeaders = []string{"Seq", "Status", "Transitioned At", "Operator", "Note"}

// ExportPO 导出PO为xlsx
func (s *ExportService) ExportPO(ctx context.Context, id string) (*excelize.File, string, error) {
	po, err := s.poRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", apperr.NotFound("Purchase order not found")
		}
		return nil, "", apperr.Internal(err, "load purchase order")
	}
	f, err := RenderPO(po)
	if err != nil {
		return nil, "", apperr.Internal(err, "render purchase order")
	}
	return f, fmt.Sprintf("%s.xlsx", po.PONumber), nil
}

// RenderPO 订单工作簿：抬头+行项一页，状态历史一页
func RenderPO(po *entity.PurchaseOrder) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "PO"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	labelStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})

	neededBy := ""
	if po.NeededByDate != nil {
		neededBy = *po.NeededByDate
	}
	header := [][2]string{
		{"PO Number", po.PONumber},
		{"Status", string(po.CurrentStatus)},
		{"Supplier", po.Supplier},
		{"Requestor", po.Requestor},
		{"Cost Center", po.CostCenter},
		{"Needed By", neededBy},
		{"Payment Terms", po.PaymentTerms},
		{"Created At", po.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	for i, kv := range header {
		row := i + 1
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), kv[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), kv[1])
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), labelStyle)
	}

	// 行项表
	start := len(header) + 2
	for i, h := range poLineHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s%d", col, start)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}
	for i, line := range po.LineItems {
		row := start + i + 1
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), i+1)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), line.CatalogItemID)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), line.ItemName)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), line.Supplier)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), line.Quantity)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), line.UnitPrice.StringFixed(2))
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), line.LineTotal().StringFixed(2))
	}

	// 底部汇总行
	summaryRow := start + len(po.LineItems) + 1
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "Total")
	f.SetCellValue(sheet, fmt.Sprintf("G%d", summaryRow), po.TotalAmount.StringFixed(2))
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("G%d", summaryRow), labelStyle)

	colWidths := []float64{16, 18, 30, 22, 10, 16, 16}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	// 状态历史
	historySheet := "History"
	if _, err := f.NewSheet(historySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create history sheet: %w", err)
	}
	for i, h := range poHistoryHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(historySheet, cell, h)
		f.SetCellStyle(historySheet, cell, cell, boldStyle)
	}
	for i, e := range po.StatusHistory {
		row := i + 2
		note := ""
		if e.Note != nil {
			note = *e.Note
		}
		f.SetCellValue(historySheet, fmt.Sprintf("A%d", row), e.Seq)
		f.SetCellValue(historySheet, fmt.Sprintf("B%d", row), string(e.Status))
		f.SetCellValue(historySheet, fmt.Sprintf("C%d", row), e.TransitionedAt.Format("2006-01-02 15:04:05"))
		f.SetCellValue(historySheet, fmt.Sprintf("D%d", row), e.OperatorID)
		f.SetCellValue(historySheet, fmt.Sprintf("E%d", row), note)
	}
	f.SetColWidth(historySheet, "C", "C", 20)
	f.SetColWidth(historySheet, "E", "E", 40)

	return f, nil
}
