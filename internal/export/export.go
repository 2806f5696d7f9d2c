package export

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
)

// ErrUnknownFormat is returned for export formats other than csv and xlsx
var ErrUnknownFormat = errors.New("unknown export format")

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Filename returns the download name used for the format
func (f Format) Filename() string {
	return "invoice_data." + string(f)
}

// Exporter writes invoice records as tables: a header row of field labels and
// one row per record, absent fields as empty cells
type Exporter struct {
	fields   []invoice.Field
	labels   []string
	workbook workbookWriter
}

// New creates an exporter for the fields of an extractor. Workbooks are
// written with excelize unless an option says otherwise.
func New(fieldExtractor *invoice.Extractor, opts ...Option) *Exporter {
	e := &Exporter{
		fields:   fieldExtractor.Fields(),
		labels:   fieldExtractor.Labels(),
		workbook: writeExcelize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Header returns the header row
func (e *Exporter) Header() []string {
	out := make([]string, len(e.labels))
	copy(out, e.labels)
	return out
}

// Row returns the cells of one record in header order
func (e *Exporter) Row(record invoice.Record) []string {
	row := make([]string, len(e.fields))
	for i, f := range e.fields {
		row[i] = record.Value(f)
	}
	return row
}

// Write encodes records in the given format
func (e *Exporter) Write(w io.Writer, format Format, records ...invoice.Record) error {
	switch format {
	case FormatCSV:
		return e.CSV(w, records...)
	case FormatXLSX:
		return e.XLSX(w, records...)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// CSV writes records as comma separated values
func (e *Exporter) CSV(w io.Writer, records ...invoice.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(e.Header()); err != nil {
		return err
	}
	for _, record := range records {
		if err := cw.Write(e.Row(record)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// XLSX writes records to the first sheet of a new workbook
func (e *Exporter) XLSX(w io.Writer, records ...invoice.Record) error {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, e.Header())
	for _, record := range records {
		rows = append(rows, e.Row(record))
	}
	return e.workbook(w, rows)
}

// DataURI encodes records as a base64 data URI suitable for a download link
func (e *Exporter) DataURI(format Format, records ...invoice.Record) (string, error) {
	var buf bytes.Buffer
	if err := e.Write(&buf, format, records...); err != nil {
		return "", err
	}
	return "data:" + format.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
