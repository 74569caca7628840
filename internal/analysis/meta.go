package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/feature"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/KaramelBytes/manifold-cli/internal/utils"
	"gonum.org/v1/gonum/stat"
)

// ColumnSummary captures the inferred field and basic statistics of a column.
type ColumnSummary struct {
	Field   dataset.Field `json:"field"`
	NonNull int           `json:"nonNull"`
	Missing int           `json:"missing"`
	Unique  int           `json:"unique"`
	// Numeric stats, set when the column holds numbers
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`
}

// SchemaReport describes every column of one CSV file.
type SchemaReport struct {
	Name     string               `json:"name"`
	Rows     int                  `json:"rows"`
	Cols     []ColumnSummary      `json:"columns"`
	GeoPairs []dataset.LatLngPair `json:"geoPairs,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Meta infers the field metadata of every column of a CSV file.
func Meta(ctx context.Context, path string, opt loader.CSVOptions, resolution int) (*SchemaReport, error) {
	t, err := loader.ReadFile(ctx, path, opt)
	if err != nil {
		return nil, err
	}
	rep := &SchemaReport{Name: t.Name, Rows: t.NumRows()}
	fields := make([]dataset.Field, 0, len(t.Header))
	for i, name := range t.Header {
		col := t.Columns[i]
		f := feature.Infer(name, col, i+1, dataset.RoleFeature, resolution)
		fields = append(fields, f)
		rep.Cols = append(rep.Cols, summarize(f, col))
		switch f.Type {
		case dataset.Invalid:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("Column %q is not usable as a feature (constant, empty or free text).", name))
		case dataset.UUID:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("Column %q identifies rows and is excluded from attribution.", name))
		}
	}
	var geo []dataset.Field
	for _, f := range fields {
		if f.Type == dataset.Geo {
			geo = append(geo, f)
		}
	}
	pairs, rest := dataset.GroupLatLngPairs(geo)
	rep.GeoPairs = pairs
	for _, f := range rest {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("Geo column %q has no lat/lng partner.", f.Name))
	}
	return rep, nil
}

func summarize(f dataset.Field, col dataset.Column) ColumnSummary {
	cs := ColumnSummary{Field: f}
	seen := map[dataset.Value]struct{}{}
	var nums []float64
	for _, v := range col {
		if feature.IsNullLike(v) {
			cs.Missing++
			continue
		}
		cs.NonNull++
		seen[v] = struct{}{}
		if x, ok := v.(float64); ok && !math.IsNaN(x) {
			nums = append(nums, x)
		}
	}
	cs.Unique = len(seen)
	if len(nums) > 0 {
		cs.Min, cs.Max = nums[0], nums[0]
		for _, x := range nums {
			cs.Min = math.Min(cs.Min, x)
			cs.Max = math.Max(cs.Max, x)
		}
		cs.Mean, cs.Std = stat.MeanStdDev(nums, nil)
		if math.IsNaN(cs.Std) {
			cs.Std = 0
		}
	}
	return cs
}

// JSON renders the schema as indented JSON.
func (r *SchemaReport) JSON() ([]byte, error) {
	return utils.PrettyJSON(r)
}

// Markdown renders the schema report.
func (r *SchemaReport) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if r.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", r.Name))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(r.Cols)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range r.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		kind := string(c.Field.Type)
		if kind == "" {
			kind = "invalid"
		}
		b.WriteString(fmt.Sprintf("- %s: %s/%s (non-null %d, missing %.1f%%, unique %d)",
			safeName(c.Field.Name), kind, c.Field.DataType, c.NonNull, missPct, c.Unique))
		switch {
		case c.Field.Type == dataset.Numerical:
			b.WriteString(fmt.Sprintf(" — min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std))
		case c.Field.Type.Discrete() && len(c.Field.Domain) > 0:
			b.WriteString(" — values: ")
			b.WriteString(domainText(c.Field.Domain, 8))
		}
		b.WriteString("\n")
	}
	if len(r.GeoPairs) > 0 {
		b.WriteString("\n[GEO]\n")
		for _, p := range r.GeoPairs {
			b.WriteString(fmt.Sprintf("- %s: %s, %s\n", p.Prefix, p.Lat.Name, p.Lng.Name))
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}
