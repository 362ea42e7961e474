package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const pdfRowsPerPage = 28

// PDFExporter renders tables into a landscape tabular PDF.
type PDFExporter struct {
	now func() time.Time
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{now: time.Now}
}

// Format implements Renderer.
func (e *PDFExporter) Format() Format { return FormatPDF }

// Render creates a PDF document with a title and the header row repeated per page.
func (e *PDFExporter) Render(table Table) (*Artifact, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(false, 10)
	colWidth := 277.0 / float64(len(table.Columns))
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	header := func() {
		pdf.AddPage()
		if table.Title != "" {
			pdf.SetFont("Arial", "B", 14)
			pdf.CellFormat(0, 10, tr(strings.ToUpper(table.Title)), "", 1, "C", false, 0, "")
			pdf.Ln(3)
		}
		pdf.SetFont("Arial", "B", 9)
		for _, col := range table.Columns {
			pdf.CellFormat(colWidth, 8, tr(col.Header), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}

	header()
	for i, row := range table.Rows {
		if i > 0 && i%pdfRowsPerPage == 0 {
			header()
		}
		for _, col := range table.Columns {
			align := ""
			if col.Type == TypeNumber {
				align = "R"
			}
			pdf.CellFormat(colWidth, 6, tr(truncateCell(col.Cell(row), colWidth)), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return &Artifact{
		Data:     buf.Bytes(),
		MIMEType: "application/pdf",
		Filename: Filename(table.Name, e.now(), FormatPDF),
	}, nil
}

// roughly 2mm per character at 8pt
func truncateCell(text string, width float64) string {
	limit := int(width / 1.8)
	runes := []rune(text)
	if limit < 4 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}
