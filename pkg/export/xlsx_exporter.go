package export

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// XLSXExporter renders tables into a single-sheet workbook.
type XLSXExporter struct {
	now func() time.Time
}

// NewXLSXExporter builds an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{now: time.Now}
}

// Format implements Renderer.
func (e *XLSXExporter) Format() Format { return FormatXLSX }

// Render writes a header row in bold followed by one row per record.
func (e *XLSXExporter) Render(table Table) (*Artifact, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one column")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	sheet := sheetName(table.Name)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := make([]interface{}, len(table.Columns))
	for i, col := range table.Columns {
		headers[i] = col.Header
	}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write xlsx headers: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	lastHeader, err := excelize.CoordinatesToCellName(len(table.Columns), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", lastHeader, style); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}

	widths := make([]int, len(table.Columns))
	for i, col := range table.Columns {
		widths[i] = len(col.Header)
	}

	for r, row := range table.Rows {
		values := make([]interface{}, len(table.Columns))
		for i, col := range table.Columns {
			values[i] = cellValue(col, row)
			if n := len(col.Cell(row)); n > widths[i] {
				widths[i] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", r+1, err)
		}
	}

	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if w > 60 {
			w = 60
		}
		if err := f.SetColWidth(sheet, name, name, float64(w+2)); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return &Artifact{
		Data:     buf.Bytes(),
		MIMEType: xlsxMIME,
		Filename: Filename(table.Name, e.now(), FormatXLSX),
		RowCount: intPtr(len(table.Rows)),
	}, nil
}

// cellValue keeps numbers and booleans typed so spreadsheets can aggregate them.
func cellValue(col Column, row Row) interface{} {
	if col.Format != nil {
		return col.Format(row[col.Key])
	}
	value := row[col.Key]
	switch col.Type {
	case TypeNumber:
		switch v := value.(type) {
		case int, int32, int64, float32, float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		case []byte:
			if f, err := strconv.ParseFloat(string(v), 64); err == nil {
				return f
			}
		}
	case TypeBoolean:
		if b, ok := value.(bool); ok {
			return b
		}
	}
	return FormatValue(value)
}

// Excel caps sheet names at 31 characters.
func sheetName(name string) string {
	if name == "" {
		return "Export"
	}
	if len(name) > 31 {
		return name[:31]
	}
	return name
}
