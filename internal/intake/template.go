package intake

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Template formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Template kinds.
const (
	KindBatch     = "batch"
	KindReconcile = "reconcile"
)

var batchTemplate = [][]string{
	{"gstin", "party_name", "amount"},
	{"33AAJCG9959L1ZT", "Acme Traders Pvt Ltd", "50000"},
	{"29AABCU9603R1ZX", "Globex Supplies", "75000"},
	{"01AABCU9603R1ZX", "Initech Components", "100000"},
}

var reconcileTemplate = [][]string{
	{"GSTIN", "Vendor Name", "Invoice Number", "Invoice Date", "Taxable Value", "Tax Amount"},
	{"33AAJCG9959L1ZT", "Acme Traders Pvt Ltd", "INV-1001", "2025-10-02", "100000", "18000"},
	{"29AABCU9603R1ZX", "Globex Supplies", "GS/25/778", "2025-10-11", "42000", "7560"},
}

// utf8BOM makes spreadsheet applications open the CSV as UTF-8.
const utf8BOM = "\ufeff"

// WriteTemplate writes a sample upload file of the given kind and format.
func WriteTemplate(w io.Writer, kind, format string) error {
	var rows [][]string
	switch kind {
	case KindBatch:
		rows = batchTemplate
	case KindReconcile:
		rows = reconcileTemplate
	default:
		return fmt.Errorf("intake: unknown template kind %q", kind)
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatXLSX:
		return writeXLSX(w, kind, rows)
	}
	return fmt.Errorf("intake: unknown template format %q", format)
}

func writeCSV(w io.Writer, rows [][]string) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("intake: write template: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("intake: write template: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, sheet string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("intake: name sheet: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("intake: cell name: %w", err)
		}
		vals := make([]interface{}, len(row))
		for j, v := range row {
			vals[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return fmt.Errorf("intake: write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("intake: write workbook: %w", err)
	}
	return nil
}
