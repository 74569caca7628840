package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
)

// ReadFile parses a tabular file, picking the reader by extension: .xlsx
// workbooks are read from their first (or the named) sheet, anything else as
// delimited text.
func ReadFile(ctx context.Context, p string, opt CSVOptions) (*Table, error) {
	if strings.EqualFold(filepath.Ext(p), ".xlsx") {
		return ReadXLSXFile(ctx, p, opt)
	}
	return ReadCSVFile(ctx, p, opt)
}

// ReadXLSXFile reads one worksheet of an .xlsx workbook. The first row is the
// header; cells are typed like CSV cells.
func ReadXLSXFile(ctx context.Context, p string, opt CSVOptions) (*Table, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, parseErr(p, fmt.Errorf("open xlsx: %w", err))
	}
	defer zr.Close()

	sheets, err := workbookSheets(&zr.Reader)
	if err != nil {
		return nil, parseErr(p, err)
	}
	target, err := pickSheet(sheets, opt.Sheet)
	if err != nil {
		return nil, schemaErr(p, "%v", err)
	}
	shared, err := sharedStrings(&zr.Reader)
	if err != nil {
		return nil, parseErr(p, err)
	}
	data, err := readZipEntry(&zr.Reader, target)
	if err != nil {
		return nil, parseErr(p, err)
	}
	if data == nil {
		return nil, parseErr(p, fmt.Errorf("worksheet %s missing", target))
	}

	rows := newRowReader(data, shared)
	header, ok := rows.next()
	if !ok || len(header) == 0 {
		return nil, schemaErr(p, "missing header row")
	}
	t := &Table{Name: filepath.Base(p), Header: make([]string, len(header))}
	seen := map[string]bool{}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i)
		}
		if seen[h] {
			return nil, schemaErr(p, "duplicate column %q", h)
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
		rec, ok := rows.next()
		if !ok {
			break
		}
		if blank(rec) {
			continue
		}
		if len(rec) > len(header) && !blank(rec[len(header):]) {
			return nil, parseErr(p, fmt.Errorf("row %d has %d cells, header has %d", line, len(rec), len(header)))
		}
		for i := range t.Columns {
			var v dataset.Value
			if i < len(rec) {
				v = dataset.ParseValue(rec[i], opt.Parse)
			}
			t.Columns[i] = append(t.Columns[i], v)
		}
	}
	if rows.err != nil {
		return nil, parseErr(p, fmt.Errorf("read sheet: %w", rows.err))
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, s := range rec {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

type sheetRef struct {
	name   string
	target string
}

// workbookSheets lists the sheets in workbook order with their zip paths.
func workbookSheets(zr *zip.Reader) ([]sheetRef, error) {
	wb, err := readZipEntry(zr, "xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, errors.New("not a workbook: xl/workbook.xml missing")
	}
	relsXML, err := readZipEntry(zr, "xl/_rels/workbook.xml.rels")
	if err != nil {
		return nil, err
	}
	rels := map[string]string{}
	err = scanElements(relsXML, "Relationship", func(attrs map[string]string) {
		if attrs["Id"] != "" && attrs["Target"] != "" {
			rels[attrs["Id"]] = attrs["Target"]
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse relationships: %w", err)
	}
	var sheets []sheetRef
	err = scanElements(wb, "sheet", func(attrs map[string]string) {
		s := sheetRef{name: attrs["name"]}
		if rel, ok := rels[attrs["id"]]; ok {
			s.target = relPath(rel)
		} else {
			s.target = fmt.Sprintf("xl/worksheets/sheet%d.xml", len(sheets)+1)
		}
		sheets = append(sheets, s)
	})
	if err != nil {
		return nil, fmt.Errorf("parse workbook: %w", err)
	}
	return sheets, nil
}

func pickSheet(sheets []sheetRef, name string) (string, error) {
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	if name == "" {
		return sheets[0].target, nil
	}
	names := make([]string, len(sheets))
	for i, s := range sheets {
		if strings.EqualFold(s.name, name) {
			return s.target, nil
		}
		names[i] = s.name
	}
	return "", fmt.Errorf("sheet %q not found (have %s)", name, strings.Join(names, ", "))
}

// relPath converts a relationship target to a zip entry path. Targets may
// carry a leading slash and are relative to xl/ unless they name it.
func relPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return b, nil
	}
	return nil, nil
}

// scanElements calls fn with the attributes of every element named local.
func scanElements(data []byte, local string, fn func(map[string]string)) error {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		attrs := make(map[string]string, len(se.Attr))
		for _, a := range se.Attr {
			attrs[a.Name.Local] = a.Value
		}
		fn(attrs)
	}
}

// sharedStrings reads the shared string table. Rich text runs of one entry
// are concatenated.
func sharedStrings(zr *zip.Reader) ([]string, error) {
	data, err := readZipEntry(zr, "xl/sharedStrings.xml")
	if err != nil || len(data) == 0 {
		return nil, err
	}
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var out []string
	var buf strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse shared strings: %w", err)
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inText = false
			case "si":
				out = append(out, buf.String())
			}
		case xml.CharData:
			if inText {
				buf.Write(se)
			}
		}
	}
}

// rowReader streams the rows of a worksheet as string cells, placing each
// cell by its A1 reference so sparse rows keep their columns.
type rowReader struct {
	dec    *xml.Decoder
	shared []string
	err    error
}

func newRowReader(data []byte, shared []string) *rowReader {
	return &rowReader{dec: xml.NewDecoder(strings.NewReader(string(data))), shared: shared}
}

func (r *rowReader) next() ([]string, bool) {
	var row []string
	inRow := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
			return nil, false
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "row":
				inRow = true
				row = row[:0]
			case "c":
				if !inRow {
					continue
				}
				var ref, typ string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				col := colIndex(ref)
				if col < 0 {
					col = len(row)
				}
				val, err := r.cellValue(typ)
				if err != nil {
					r.err = err
					return nil, false
				}
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = val
			}
		case xml.EndElement:
			if se.Name.Local == "row" && inRow {
				return row, true
			}
		}
	}
}

// cellValue reads the <v> or inline <is><t> text of the current cell and
// resolves shared string indices.
func (r *rowReader) cellValue(typ string) (string, error) {
	var val strings.Builder
	inText := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return "", err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "v" || se.Name.Local == "t" {
				inText = true
			}
		case xml.CharData:
			if inText {
				val.Write(se)
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "v", "t":
				inText = false
			case "c":
				s := val.String()
				if typ != "s" {
					return s, nil
				}
				i, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil || i < 0 || i >= len(r.shared) {
					return "", fmt.Errorf("bad shared string index %q", s)
				}
				return r.shared[i], nil
			}
		}
	}
}

// colIndex converts the column letters of an A1 reference to a 0-based
// index; -1 when the reference has none.
func colIndex(ref string) int {
	idx := 0
	n := 0
	for _, c := range strings.ToUpper(ref) {
		if c < 'A' || c > 'Z' {
			break
		}
		idx = idx*26 + int(c-'A'+1)
		n++
	}
	if n == 0 {
		return -1
	}
	return idx - 1
}
