package schema

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// templateRows are the example rows included in generated templates.
// Both rows round-trip cleanly through the import pipeline.
var templateRows = [][]string{
	{"Anna Svensson", "anna.svensson@exempel.se", "070-123 45 67", "Storgatan 1", "111 22", "Stockholm", "", "19800101-1234", "Ja", "Nej"},
	{"Bygg & Montage AB", "info@byggmontage.se", "08-123 45 67", "Industrivägen 5", "168 67", "Bromma", "556123-4567", "", "Nej", "Nej"},
}

// TemplateHeaders returns the template header row in column order.
func TemplateHeaders() []string {
	headers := make([]string, len(Fields))
	for i, f := range Fields {
		headers[i] = CanonicalHeader(f)
	}
	return headers
}

// TemplateCSV renders the import template as semicolon-separated UTF-8 text.
// Semicolon is the delimiter Swedish Excel installs produce by default.
func TemplateCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(TemplateHeaders()); err != nil {
		return nil, fmt.Errorf("write template header: %w", err)
	}
	for _, row := range templateRows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write template row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush template: %w", err)
	}
	return buf.Bytes(), nil
}

// TemplateXLSX renders the import template as a single-sheet workbook.
func TemplateXLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	for i, h := range TemplateHeaders() {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("template header cell: %w", err)
		}
		if err := f.SetCellStr(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("set template header: %w", err)
		}
	}

	for r, row := range templateRows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("template cell: %w", err)
			}
			if err := f.SetCellStr(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("set template cell: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write template workbook: %w", err)
	}
	return buf.Bytes(), nil
}
