package units

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/weftrun/weft/internal/errs"
)

// TableOptions configures row parsing (spec §4.4 table rows).
type TableOptions struct {
	// TextColumn is the single column, or ordered list of columns joined
	// with a space, that yields row.Text.
	TextColumn []string
	// PassThrough names columns echoed into Row.Values in addition to
	// TextColumn's sources. An empty list echoes every column.
	PassThrough []string
}

// ParseCSV parses r as a CSV table with a header row, yielding Rows with a
// stable 0-based RowIndex starting after the header. Header-name
// collisions are deduplicated deterministically by suffixing "__N".
func ParseCSV(r io.Reader, sourceURI string, opts TableOptions) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Processing, err, "reading header from %s", sourceURI)
	}
	header = dedupeHeader(header)

	var rows []Row
	index := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rows = append(rows, Row{
				RowIndex:   index,
				SourceURI:  sourceURI,
				Filename:   filepath.Base(sourceURI),
				ParseError: "malformed_record",
				Raw:        err.Error(),
			})
			index++
			continue
		}
		rows = append(rows, buildRow(header, record, index, sourceURI, opts))
		index++
	}
	return rows, nil
}

// ParseXLSX parses the first sheet of an .xlsx workbook as a table, using
// the same header/row semantics as ParseCSV.
func ParseXLSX(r io.Reader, sourceURI string, opts TableOptions) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errs.Wrap(errs.Processing, err, "opening workbook %s", sourceURI)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errs.New(errs.Processing, "workbook %s has no sheets", sourceURI)
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errs.Wrap(errs.Processing, err, "reading sheet %s in %s", sheets[0], sourceURI)
	}
	if len(grid) == 0 {
		return nil, nil
	}

	header := dedupeHeader(grid[0])
	var rows []Row
	for i, record := range grid[1:] {
		rows = append(rows, buildRow(header, record, i, sourceURI, opts))
	}
	return rows, nil
}

func buildRow(header, record []string, index int, sourceURI string, opts TableOptions) Row {
	values := make([]KV, 0, len(header))
	for i, name := range header {
		v := ""
		if i < len(record) {
			v = record[i]
		}
		if len(opts.PassThrough) == 0 || containsName(opts.PassThrough, name) || containsName(opts.TextColumn, name) {
			values = append(values, KV{Name: name, Value: v})
		}
	}

	var textParts []string
	for _, col := range opts.TextColumn {
		if v, ok := lookup(header, record, col); ok {
			textParts = append(textParts, v)
		}
	}

	return Row{
		RowIndex:  index,
		Values:    values,
		SourceURI: sourceURI,
		Filename:  filepath.Base(sourceURI),
		Text:      strings.Join(textParts, " "),
	}
}

func lookup(header, record []string, name string) (string, bool) {
	for i, h := range header {
		if h == name && i < len(record) {
			return record[i], true
		}
	}
	return "", false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// dedupeHeader renames repeated header names deterministically: the first
// occurrence of a name keeps it; the Nth subsequent duplicate becomes
// "name__N".
func dedupeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, name := range header {
		n := seen[name]
		if n == 0 {
			out[i] = name
		} else {
			out[i] = name + "__" + strconv.Itoa(n)
		}
		seen[name] = n + 1
	}
	return out
}
