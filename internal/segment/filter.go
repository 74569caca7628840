// Package segment partitions dataset rows into segments, either by manual
// filters or by clustering, and validates segment groups.
package segment

import (
	"fmt"
	"math"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
)

// FilterType selects how a Filter tests a column value.
type FilterType string

const (
	Range   FilterType = "range"
	Include FilterType = "include"
	Exclude FilterType = "exclude"
	Func    FilterType = "func"
)

// Filter is one predicate on one column. Key is the column index. Range uses
// Bounds (inclusive on both ends), Include and Exclude use Values, Func uses
// Predicate.
type Filter struct {
	Name      string                   `json:"name"`
	Key       int                      `json:"key"`
	Type      FilterType               `json:"type"`
	Bounds    [2]float64               `json:"range,omitempty"`
	Values    []dataset.Value          `json:"values,omitempty"`
	Predicate func(dataset.Value) bool `json:"-"`
}

// Match reports whether v passes the filter. Unknown filter types never match.
func (f Filter) Match(v dataset.Value) bool {
	switch f.Type {
	case Range:
		x, ok := dataset.AsFloat(v)
		return ok && !math.IsNaN(x) && f.Bounds[0] <= x && x <= f.Bounds[1]
	case Include:
		return contains(f.Values, v)
	case Exclude:
		return !contains(f.Values, v)
	case Func:
		return f.Predicate != nil && f.Predicate(v)
	}
	return false
}

// String renders the filter in the syntax accepted by Parse.
func (f Filter) String() string {
	switch f.Type {
	case Range:
		return fmt.Sprintf("%s:range:%g,%g", f.Name, f.Bounds[0], f.Bounds[1])
	case Include, Exclude:
		return fmt.Sprintf("%s:%s:%s", f.Name, f.Type, joinValues(f.Values))
	}
	return fmt.Sprintf("%s:%s", f.Name, f.Type)
}

func contains(vals []dataset.Value, v dataset.Value) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

// Rows returns the ids of the rows that pass every filter. A dataset without
// columns yields nil; an empty filter list yields every row.
func Rows(d *dataset.Dataset, filters []Filter) ([]int, error) {
	if d.NumCols() == 0 {
		return nil, nil
	}
	for _, f := range filters {
		if f.Key < 0 || f.Key >= d.NumCols() {
			return nil, fmt.Errorf("filter %q: column %d out of range", f.Name, f.Key)
		}
	}
	n := d.NumRows()
	ids := make([]int, 0, n)
rows:
	for r := 0; r < n; r++ {
		for _, f := range filters {
			if !f.Match(d.Columns[f.Key][r]) {
				continue rows
			}
		}
		ids = append(ids, r)
	}
	return ids, nil
}

// Manual returns the rows of every filter list. Rows may fall into several
// segments or none.
func Manual(d *dataset.Dataset, segments [][]Filter) ([][]int, error) {
	out := make([][]int, len(segments))
	for i, filters := range segments {
		ids, err := Rows(d, filters)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out[i] = ids
	}
	return out, nil
}
