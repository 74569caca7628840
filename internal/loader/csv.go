package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
)

// Table is one parsed CSV file in columnar form.
type Table struct {
	Name    string
	Header  []string
	Columns []dataset.Column
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0])
}

// CSVOptions controls parsing of tabular input files.
type CSVOptions struct {
	// Delimiter for CSV. If 0, ',' is used, or '\t' for .tsv files.
	Delimiter rune
	// Sheet selects the worksheet of .xlsx inputs; empty means the first.
	Sheet string
	Parse dataset.ParseOptions
}

// ReadCSVFile parses a CSV file with a header row.
func ReadCSVFile(ctx context.Context, path string, opt CSVOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, parseErr(path, fmt.Errorf("open csv: %w", err))
	}
	defer f.Close()
	if opt.Delimiter == 0 {
		opt.Delimiter = sniffDelimiter(path)
	}
	t, err := ReadCSV(ctx, f, opt)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) && le.Source == "" {
			le.Source = path
		}
		return nil, err
	}
	t.Name = filepath.Base(path)
	return t, nil
}

// ReadCSV parses CSV text with a header row. Empty lines are skipped; cells
// are typed by dataset.ParseValue. Short rows are padded with nil.
func ReadCSV(ctx context.Context, r io.Reader, opt CSVOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if opt.Delimiter != 0 {
		cr.Comma = opt.Delimiter
	}

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, schemaErr("", "missing header row")
		}
		return nil, parseErr("", fmt.Errorf("read header: %w", err))
	}
	t := &Table{Header: make([]string, len(header))}
	seen := map[string]bool{}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if h == "" {
			h = fmt.Sprintf("column_%d", i)
		}
		if seen[h] {
			return nil, schemaErr("", "duplicate column %q", h)
		}
		seen[h] = true
		t.Header[i] = h
	}
	t.Columns = make([]dataset.Column, len(header))

	for line := 1; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseErr("", fmt.Errorf("read row: %w", err))
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" && len(header) > 1 {
			continue
		}
		if len(rec) > len(header) {
			return nil, parseErr("", fmt.Errorf("row %d has %d fields, header has %d", line, len(rec), len(header)))
		}
		for i := range t.Columns {
			var v dataset.Value
			if i < len(rec) {
				v = dataset.ParseValue(rec[i], opt.Parse)
			}
			t.Columns[i] = append(t.Columns[i], v)
		}
	}
	return t, nil
}

func sniffDelimiter(path string) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}
