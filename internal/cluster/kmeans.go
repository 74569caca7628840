// Package cluster implements the k-means variant used for automatic
// segmentation: random distinct-row initialisation, a fixed iteration budget
// and empty-cluster repair after every assignment step.
package cluster

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultMaxIterations is the fixed iteration budget.
const DefaultMaxIterations = 300

var (
	ErrEmptyInput          = errors.New("clustering input is empty")
	ErrInvalidClusterCount = errors.New("invalid cluster count")
)

// RandomSource picks centroid seeds. *math/rand/v2.Rand satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// Options tunes Compute.
type Options struct {
	MaxIterations int
	// MinCount is the smallest population a cluster may end an assignment
	// step with before it is repaired.
	MinCount int
	Logger   *zap.Logger
}

// FromColumns builds a rows x features matrix from column-major data.
func FromColumns(cols [][]float64) (*mat.Dense, error) {
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil, ErrEmptyInput
	}
	n := len(cols[0])
	m := mat.NewDense(n, len(cols), nil)
	for c, col := range cols {
		if len(col) != n {
			return nil, fmt.Errorf("clustering column %d has %d rows, want %d", c, len(col), n)
		}
		m.SetCol(c, col)
	}
	return m, nil
}

// Compute partitions the rows of samples into k clusters and returns one
// cluster id per row. k must be in [1, rows].
func Compute(samples *mat.Dense, k int, rng RandomSource, opt Options) ([]int, error) {
	if samples == nil || samples.IsEmpty() {
		return nil, ErrEmptyInput
	}
	n, _ := samples.Dims()
	if k <= 0 || k > n {
		return nil, fmt.Errorf("%w: %d clusters for %d rows", ErrInvalidClusterCount, k, n)
	}
	iters := opt.MaxIterations
	if iters <= 0 {
		iters = DefaultMaxIterations
	}
	minCount := opt.MinCount
	if minCount <= 0 {
		minCount = 1
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}

	centroids := InitCentroids(samples, k, rng)
	var ids []int
	for i := 0; i < iters; i++ {
		ids = AssignClusterIDs(samples, centroids, minCount)
		centroids = UpdateCentroids(samples, ids, centroids)
	}
	log.Debug("kmeans finished",
		zap.Int("rows", n),
		zap.Int("clusters", k),
		zap.Int("iterations", iters))
	return ids, nil
}

// InitCentroids picks k distinct random rows as the initial centroids.
func InitCentroids(samples *mat.Dense, k int, rng RandomSource) *mat.Dense {
	n, d := samples.Dims()
	picked := make(map[int]bool, k)
	centroids := mat.NewDense(k, d, nil)
	for c := 0; c < k; {
		r := rng.IntN(n)
		if picked[r] {
			continue
		}
		picked[r] = true
		centroids.SetRow(c, samples.RawRowView(r))
		c++
	}
	return centroids
}

// Distances returns the k x n matrix of squared Euclidean distances between
// every centroid and every row.
func Distances(samples, centroids *mat.Dense) *mat.Dense {
	n, _ := samples.Dims()
	k, _ := centroids.Dims()
	out := mat.NewDense(k, n, nil)
	for c := 0; c < k; c++ {
		cr := centroids.RawRowView(c)
		for r := 0; r < n; r++ {
			dist := floats.Distance(samples.RawRowView(r), cr, 2)
			out.Set(c, r, dist*dist)
		}
	}
	return out
}

// AssignClusterIDs assigns every row to its nearest centroid and then
// repairs clusters left with fewer than minCount rows.
func AssignClusterIDs(samples, centroids *mat.Dense, minCount int) []int {
	return FillEmptyClusters(Distances(samples, centroids), minCount)
}

// FillEmptyClusters takes a k x n distance matrix and returns the nearest
// cluster per row, except that while some cluster has fewer than minCount
// members the least populated cluster (lowest id on ties) takes the row
// closest to its centroid. A row is moved at most once, only out of a cluster
// that can spare it, and at most k rows are moved in total.
func FillEmptyClusters(distances *mat.Dense, minCount int) []int {
	k, n := distances.Dims()
	ids := make([]int, n)
	for r := 0; r < n; r++ {
		ids[r] = floats.MinIdx(mat.Col(nil, r, distances))
	}
	moved := make([]bool, n)
	counts := make([]float64, k)
	for step := 0; step < k; step++ {
		for c := range counts {
			counts[c] = 0
		}
		for _, c := range ids {
			counts[c]++
		}
		target := floats.MinIdx(counts)
		if counts[target] >= float64(minCount) {
			break
		}
		masked := mat.Row(nil, target, distances)
		for r := range masked {
			if moved[r] || counts[ids[r]] <= float64(minCount) {
				masked[r] = math.Inf(1)
			}
		}
		r := floats.MinIdx(masked)
		if math.IsInf(masked[r], 1) {
			break
		}
		ids[r] = target
		moved[r] = true
	}
	return ids
}

// UpdateCentroids moves each centroid to the mean of its rows. A cluster
// without rows keeps its previous centroid.
func UpdateCentroids(samples *mat.Dense, ids []int, prev *mat.Dense) *mat.Dense {
	k, d := prev.Dims()
	sums := mat.NewDense(k, d, nil)
	counts := make([]float64, k)
	for r, c := range ids {
		floats.Add(sums.RawRowView(c), samples.RawRowView(r))
		counts[c]++
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			sums.SetRow(c, prev.RawRowView(c))
			continue
		}
		floats.Scale(1/counts[c], sums.RawRowView(c))
	}
	return sums
}

// Groups lists row ids per cluster id, dropping empty clusters.
func Groups(ids []int, k int) [][]int {
	groups := make([][]int, k)
	for r, c := range ids {
		if c >= 0 && c < k {
			groups[c] = append(groups[c], r)
		}
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
