package segment

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/manifold-cli/internal/cluster"
	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"go.uber.org/zap"
)

// DefaultClusters is the default number of automatic segments.
const DefaultClusters = 4

// Auto clusters the rows of the numeric clustering input into k segments
// and returns the row ids per non-empty segment.
func Auto(input *dataset.Dataset, k int, rng cluster.RandomSource, opt cluster.Options) ([][]int, error) {
	if input.NumCols() == 0 || input.NumRows() == 0 {
		return nil, cluster.ErrEmptyInput
	}
	cols := make([][]float64, input.NumCols())
	for i, c := range input.Columns {
		cols[i] = c.Floats()
	}
	samples, err := cluster.FromColumns(cols)
	if err != nil {
		return nil, err
	}
	ids, err := cluster.Compute(samples, k, rng, opt)
	if err != nil {
		return nil, err
	}
	return cluster.Groups(ids, k), nil
}

// DefaultFilters splits a field into two filters. Numerical fields split
// their range at the midpoint, or at zero for a score field whose domain
// straddles zero. Discrete fields include the first and second domain value.
func DefaultFilters(f dataset.Field) ([]Filter, error) {
	key := f.TableFieldIndex - 1
	switch {
	case f.Type == dataset.Numerical:
		edges := f.Edges()
		if len(edges) < 2 {
			return nil, fmt.Errorf("field %q: numerical domain has %d edges", f.Name, len(edges))
		}
		lo, hi := edges[0], edges[len(edges)-1]
		mid := lo + (hi-lo)/2
		if f.Role == dataset.RoleScore && lo < 0 && hi > 0 {
			mid = 0
		}
		return []Filter{
			{Name: f.Name, Key: key, Type: Range, Bounds: [2]float64{lo, mid}},
			{Name: f.Name, Key: key, Type: Range, Bounds: [2]float64{mid, hi}},
		}, nil
	case f.Type.Discrete():
		if len(f.Domain) < 2 {
			return nil, fmt.Errorf("field %q: categorical domain has %d values", f.Name, len(f.Domain))
		}
		return []Filter{
			{Name: f.Name, Key: key, Type: Include, Values: []dataset.Value{f.Domain[0]}},
			{Name: f.Name, Key: key, Type: Include, Values: []dataset.Value{f.Domain[1]}},
		}, nil
	}
	return nil, fmt.Errorf("field %q: no default filters for type %q", f.Name, f.Type)
}

// DefaultFiltersFromBaseCols builds one segment per combination of the
// default filters of the given columns.
func DefaultFiltersFromBaseCols(d *dataset.Dataset, baseCols []int) ([][]Filter, error) {
	lists := make([][]Filter, 0, len(baseCols))
	for _, c := range baseCols {
		if c < 0 || c >= d.NumCols() {
			return nil, fmt.Errorf("base column %d out of range", c)
		}
		fs, err := DefaultFilters(d.Fields[c])
		if err != nil {
			return nil, err
		}
		lists = append(lists, fs)
	}
	if len(lists) == 0 {
		return nil, errors.New("no base columns")
	}
	return dataset.Product(lists), nil
}

// ValidGroups reports whether groups holds exactly two non-empty, disjoint
// lists of segment ids in [0, nSegments).
func ValidGroups(groups [][]int, nSegments int) bool {
	if len(groups) != 2 {
		return false
	}
	owner := map[int]int{}
	for g, ids := range groups {
		if len(ids) == 0 {
			return false
		}
		for _, id := range ids {
			if id < 0 || id >= nSegments {
				return false
			}
			if o, ok := owner[id]; ok && o != g {
				return false
			}
			owner[id] = g
		}
	}
	return true
}

// DefaultGroups puts the last segment (two when there are at least four) in
// the treatment group and the rest in the control group.
func DefaultGroups(nSegments int) [][]int {
	nTreatment := 2
	if nSegments < 4 {
		nTreatment = 1
	}
	treatment := []int{}
	control := []int{}
	for i := 0; i < nSegments; i++ {
		if i >= nSegments-nTreatment {
			treatment = append(treatment, i)
		} else {
			control = append(control, i)
		}
	}
	return [][]int{treatment, control}
}

// GroupRows concatenates the row ids of the segments in each group.
func GroupRows(segments [][]int, groups [][]int, log *zap.Logger) [][]int {
	out := make([][]int, len(groups))
	for g, ids := range groups {
		rows := []int{}
		for _, s := range ids {
			if s < 0 || s >= len(segments) {
				if log != nil {
					log.Warn("segment group references missing segment", zap.Int("group", g), zap.Int("segment", s))
				}
				continue
			}
			rows = append(rows, segments[s]...)
		}
		out[g] = rows
	}
	return out
}
