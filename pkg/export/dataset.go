package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Format identifies a renderer.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// ColumnType is the semantic type of a column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
)

// Formatter turns a raw cell value into display text.
type Formatter func(value interface{}) string

// Column describes one exported column.
type Column struct {
	Key    string
	Header string
	Type   ColumnType
	Format Formatter
}

// Row is a single record keyed by column key.
type Row map[string]interface{}

// Table is the format-agnostic contract handed to renderers.
type Table struct {
	Title   string
	Name    string
	Columns []Column
	Rows    []Row
}

// Artifact is the output of a renderer.
type Artifact struct {
	Data     []byte
	MIMEType string
	Filename string
	// RowCount is nil when the format cannot report it.
	RowCount *int
}

// Renderer renders a table into a downloadable artifact.
type Renderer interface {
	Format() Format
	Render(table Table) (*Artifact, error)
}

// Cell renders the column value for a row as text.
func (c Column) Cell(row Row) string {
	value := row[c.Key]
	if c.Format != nil {
		return c.Format(value)
	}
	return FormatValue(value)
}

// FormatValue converts driver values into display text.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Filename builds a download name such as leads_20240102_150405.csv.
func Filename(name string, at time.Time, format Format) string {
	base := unsafeFileChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	base = strings.Trim(base, "_.")
	if base == "" {
		base = "export"
	}
	if len(base) > 60 {
		base = base[:60]
	}
	return fmt.Sprintf("%s_%s.%s", base, at.UTC().Format("20060102_150405"), format)
}

// MIMEType returns the content type served for a stored artifact of format.
func MIMEType(format Format) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return xlsxMIME
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func intPtr(v int) *int {
	return &v
}
