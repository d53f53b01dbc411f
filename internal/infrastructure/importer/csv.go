package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/equiptrack/station/internal/domain/equipment"
)

// Import errors
var (
	ErrEmptyFile       = equipment.NewDomainError("IMPORT_EMPTY", "Import file is empty")
	ErrInvalidEncoding = equipment.NewDomainError("IMPORT_ENCODING", "Import file is not valid UTF-8")
	ErrMissingHeader   = equipment.NewDomainError("IMPORT_HEADER", "Import file has no header row")
	ErrMissingColumn   = equipment.NewDomainError("IMPORT_COLUMN", "Import file is missing the serial_number column")
)

// Column aliases accepted in the header row, case-insensitive.
var columnAliases = map[string]string{
	"serial_number": "serial_number",
	"serial":        "serial_number",
	"sn":            "serial_number",
	"internal_id":   "internal_id",
	"internal":      "internal_id",
	"inv":           "internal_id",
	"model":         "model",
}

// Row is one parsed import line.
type Row struct {
	Line         int    `json:"line"`
	InternalID   string `json:"internal_id"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

// RowError is one rejected import line.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Result is the outcome of parsing one file.
type Result struct {
	Rows   []Row      `json:"rows"`
	Errors []RowError `json:"errors"`
}

// CSVParser reads equipment rows from a CSV file. The header row names
// the columns; only serial_number is mandatory. A UTF-8 BOM is tolerated,
// other encodings are rejected outright rather than imported as mojibake.
type CSVParser struct {
	delimiter rune
	reader    *csv.Reader
	columns   map[string]int
}

// ParserOption is a functional option for CSVParser configuration
type ParserOption func(*CSVParser)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ParserOption {
	return func(p *CSVParser) { p.delimiter = d }
}

// NewCSVParser creates a parser and consumes the header row.
func NewCSVParser(r io.Reader, opts ...ParserOption) (*CSVParser, error) {
	p := &CSVParser{delimiter: ','}
	for _, opt := range opts {
		opt(p)
	}

	// Import files are small; reading whole lets the encoding check cover
	// every byte, not just the front of the file.
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidEncoding
	}

	p.reader = csv.NewReader(bytes.NewReader(content))
	p.reader.Comma = p.delimiter
	p.reader.LazyQuotes = true
	p.reader.TrimLeadingSpace = true
	p.reader.FieldsPerRecord = -1

	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CSVParser) parseHeader() error {
	record, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	p.columns = map[string]int{}
	for i, name := range record {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			if _, dup := p.columns[canonical]; !dup {
				p.columns[canonical] = i
			}
		}
	}
	if _, ok := p.columns["serial_number"]; !ok {
		return ErrMissingColumn
	}
	return nil
}

// ParseAll reads every data row. Bad lines are collected as row errors
// instead of aborting the whole file.
func (p *CSVParser) ParseAll() (*Result, error) {
	result := &Result{}
	line := 1 // header was line 1
	for {
		line++
		record, err := p.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}

		row := Row{
			Line:         line,
			InternalID:   p.field(record, "internal_id"),
			Model:        p.field(record, "model"),
			SerialNumber: p.field(record, "serial_number"),
		}
		if row.SerialNumber == "" {
			if rowIsEmpty(record) {
				continue
			}
			result.Errors = append(result.Errors, RowError{Line: line, Message: "missing serial number"})
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func (p *CSVParser) field(record []string, name string) string {
	idx, ok := p.columns[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func rowIsEmpty(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
