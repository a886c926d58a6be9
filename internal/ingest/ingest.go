// Package ingest turns uploaded customer files into ordered rows.
//
// Two source formats are supported, selected by file extension: delimited
// UTF-8 text (comma, semicolon or tab separated, header row first) and XLSX
// workbooks (first sheet only). The output is format-agnostic: an ordered
// slice of RawRow values mapping original column headers to cell text,
// numbered by source position with the header as row 1.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultMaxFileSize is the upload cap applied when the caller does not
// supply one. Files above the cap are rejected before any parsing is
// attempted.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// ErrUnsupportedFormat is returned for file extensions that are neither
// delimited text nor a spreadsheet workbook.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrFileTooLarge is returned when the upload exceeds the size cap.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// ParseError wraps a decoder-level failure. The file was recognized but
// could not be decoded; no rows are produced.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RawRow is one data row of the source file before normalization: a mapping
// from the original column header to the raw cell value. Number is the
// 1-based source position; the header row is row 1, so data starts at 2.
// Headers preserves source column order (shared across a file's rows) so
// downstream stages can iterate cells deterministically.
type RawRow struct {
	Number  int
	Headers []string
	Cells   map[string]string
}

// Read decodes fileName's contents into ordered RawRows. The extension
// decides the decoder; fully empty rows are skipped but still consume a
// row number so error reports line up with the source file. maxSize is
// the upload cap; values <= 0 fall back to DefaultMaxFileSize.
func Read(fileName string, data []byte, maxSize int64) ([]RawRow, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w (%d MB limit)", ErrFileTooLarge, maxSize/(1024*1024))
	}

	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv", ".txt", ".tsv":
		return readDelimited(data)
	case ".xlsx", ".xlsm":
		return readWorkbook(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// readDelimited parses comma-, semicolon- or tab-separated UTF-8 text.
// The delimiter is sniffed from the header line, which covers the
// variants Swedish Excel installs produce without a user-facing setting.
func readDelimited(data []byte) ([]RawRow, error) {
	data = stripBOM(data)
	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if len(records) == 0 {
		return nil, nil
	}

	return buildRows(records[0], records[1:]), nil
}

// readWorkbook parses the first sheet of an XLSX workbook. Cells missing
// from short rows are treated as empty strings.
func readWorkbook(data []byte) ([]RawRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if len(records) == 0 {
		return nil, nil
	}

	return buildRows(records[0], records[1:]), nil
}

// buildRows zips the header row with each data row. Later duplicate headers
// overwrite earlier ones, matching the normalizer's last-write-wins policy.
func buildRows(header []string, dataRows [][]string) []RawRow {
	rows := make([]RawRow, 0, len(dataRows))

	for i, record := range dataRows {
		number := i + 2 // header is row 1

		if isEmptyRow(record) {
			continue
		}

		cells := make(map[string]string, len(header))
		for col, h := range header {
			value := ""
			if col < len(record) {
				value = record[col]
			}
			cells[h] = value
		}
		rows = append(rows, RawRow{Number: number, Headers: header, Cells: cells})
	}

	return rows
}

// sniffDelimiter picks the delimiter by counting candidates in the header
// line. The most frequent of tab, semicolon and comma wins; comma is the
// fallback since a comma-separated header never contains the others in
// practice.
func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}

	commas := bytes.Count(line, []byte{','})
	semis := bytes.Count(line, []byte{';'})
	tabs := bytes.Count(line, []byte{'\t'})

	switch {
	case tabs > semis && tabs > commas:
		return '\t'
	case semis > commas:
		return ';'
	default:
		return ','
	}
}

func isEmptyRow(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
