package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// CSVExporter renders tables into CSV bytes.
type CSVExporter struct {
	now func() time.Time
}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{now: time.Now}
}

// Format implements Renderer.
func (e *CSVExporter) Format() Format { return FormatCSV }

// Render produces CSV encoded bytes for the table.
func (e *CSVExporter) Render(table Table) (*Artifact, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	headers := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		headers[i] = col.Header
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	written := 0
	for _, row := range table.Rows {
		record := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			record[i] = col.Cell(row)
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
		written++
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return &Artifact{
		Data:     buf.Bytes(),
		MIMEType: "text/csv; charset=utf-8",
		Filename: Filename(table.Name, e.now(), FormatCSV),
		RowCount: intPtr(written),
	}, nil
}
