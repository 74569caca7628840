// Package histogram bins numeric and categorical values and summarises
// numeric samples by density and percentiles.
package histogram

import (
	"math"
	"sort"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"gonum.org/v1/gonum/floats"
)

// DefaultPercentiles are the quantiles reported per segment and model.
var DefaultPercentiles = []float64{0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99}

// MedianIndex is the position of the median in DefaultPercentiles.
const MedianIndex = 3

// Histogram is a pair of counts and the edges they were binned with.
// len(Edges) == len(Counts)+1.
type Histogram struct {
	Counts []float64 `json:"counts"`
	Edges  []float64 `json:"binEdges"`
}

// Compute bins values into nBins equal-width bins spanning their minimum and
// maximum. NaN values are ignored.
func Compute(values []float64, nBins int) Histogram {
	if nBins <= 0 {
		nBins = 1
	}
	lo, hi := bounds(values)
	edges := floats.Span(make([]float64, nBins+1), lo, hi)
	edges[0], edges[nBins] = lo, hi
	return WithEdges(values, edges)
}

// WithEdges bins values by explicit, ascending edges. Bins are half-open
// [e_i, e_i+1) except the last, which also holds values equal to the final
// edge. Values outside the edges are ignored.
func WithEdges(values []float64, edges []float64) Histogram {
	h := Histogram{Edges: append([]float64(nil), edges...)}
	if len(edges) < 2 {
		h.Counts = []float64{}
		return h
	}
	nBins := len(edges) - 1
	h.Counts = make([]float64, nBins)
	first, last := edges[0], edges[nBins]
	for _, v := range values {
		if math.IsNaN(v) || v < first || v > last {
			continue
		}
		if v == last {
			h.Counts[nBins-1]++
			continue
		}
		// first edge strictly greater than v, minus one
		i := sort.Search(len(edges), func(i int) bool { return edges[i] > v }) - 1
		if i >= nBins {
			i = nBins - 1
		}
		h.Counts[i]++
	}
	return h
}

// Categorical is a histogram over a list of categories.
type Categorical struct {
	Counts     []float64       `json:"counts"`
	Categories []dataset.Value `json:"categories"`
}

// ComputeCategorical counts values per category. When categories is nil the
// distinct values are used in first-appearance order. Values that are not a
// category are ignored.
func ComputeCategorical(values []dataset.Value, categories []dataset.Value) Categorical {
	if categories == nil {
		seen := map[dataset.Value]bool{}
		for _, v := range values {
			if !seen[v] {
				seen[v] = true
				categories = append(categories, v)
			}
		}
	}
	pos := make(map[dataset.Value]int, len(categories))
	for i, c := range categories {
		if _, ok := pos[c]; !ok {
			pos[c] = i
		}
	}
	out := Categorical{Counts: make([]float64, len(categories)), Categories: categories}
	for _, v := range values {
		if i, ok := pos[v]; ok {
			out.Counts[i]++
		}
	}
	return out
}

// Density is a histogram whose counts are scaled by 1/(last edge - first
// edge). A zero-width range leaves the counts unscaled.
func Density(values []float64, nBins int) Histogram {
	return ToDensity(Compute(values, nBins))
}

// ToDensity rescales an existing histogram.
func ToDensity(h Histogram) Histogram {
	if len(h.Edges) < 2 {
		return h
	}
	width := h.Edges[len(h.Edges)-1] - h.Edges[0]
	counts := append([]float64(nil), h.Counts...)
	if width > 0 {
		floats.Scale(1/width, counts)
	}
	return Histogram{Counts: counts, Edges: h.Edges}
}

// Percentiles returns one linearly interpolated quantile per entry of qs,
// in order. NaN values are ignored; an empty sample yields zeros.
func Percentiles(values []float64, qs []float64) []float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = Quantile(sorted, q)
	}
	return out
}

// Quantile interpolates between the two closest ranks of an ascending
// sample, placing q at position q*(n-1).
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}
