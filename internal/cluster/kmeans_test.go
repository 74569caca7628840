package cluster

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// seq returns the queued values in order, wrapping around.
type seq struct {
	vals []int
	i    int
}

func (s *seq) IntN(n int) int {
	v := s.vals[s.i%len(s.vals)] % n
	s.i++
	return v
}

func column(vals ...float64) *mat.Dense {
	return mat.NewDense(len(vals), 1, vals)
}

func TestFillEmptyClusters(t *testing.T) {
	d := mat.NewDense(3, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	})
	assert.Equal(t, []int{1, 2, 0, 0}, FillEmptyClusters(d, 1))
}

func TestFillEmptyClustersNoop(t *testing.T) {
	d := mat.NewDense(2, 3, []float64{
		0, 5, 5,
		5, 0, 0,
	})
	assert.Equal(t, []int{0, 1, 1}, FillEmptyClusters(d, 1))
}

func TestAssignClusterIDs(t *testing.T) {
	samples := column(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	centroids := column(0, 5.5, 10)
	got := AssignClusterIDs(samples, centroids, 1)
	assert.Equal(t, []int{0, 0, 1, 1, 1, 1, 1, 2, 2, 2}, got)
}

func TestUpdateCentroids(t *testing.T) {
	samples := column(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	ids := []int{0, 0, 1, 2, 1, 2, 1, 2, 1, 2}
	got := UpdateCentroids(samples, ids, mat.NewDense(3, 1, nil))
	assert.Equal(t, []float64{1.5, 6, 7}, mat.Col(nil, 0, got))
}

func TestUpdateCentroidsKeepsEmptyCluster(t *testing.T) {
	samples := column(1, 3)
	prev := column(0, 42)
	got := UpdateCentroids(samples, []int{0, 0}, prev)
	assert.Equal(t, []float64{2, 42}, mat.Col(nil, 0, got))
}

func TestInitCentroidsDistinctRows(t *testing.T) {
	samples := column(10, 20, 30)
	got := InitCentroids(samples, 3, &seq{vals: []int{1, 1, 1, 0, 2}})
	assert.Equal(t, []float64{20, 10, 30}, mat.Col(nil, 0, got))
}

func TestComputeSeparatesObviousClusters(t *testing.T) {
	samples := mat.NewDense(6, 2, []float64{
		0, 0,
		0.1, 0,
		0, 0.1,
		10, 10,
		10.1, 10,
		10, 10.1,
	})
	ids, err := Compute(samples, 2, &seq{vals: []int{0, 3}}, Options{MaxIterations: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, ids)
}

func TestComputePartitionsRows(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 20; trial++ {
		n := 5 + rng.IntN(40)
		k := 1 + rng.IntN(n)
		data := make([]float64, n*2)
		for i := range data {
			// heavy duplication makes empty clusters likely
			data[i] = float64(rng.IntN(3))
		}
		ids, err := Compute(mat.NewDense(n, 2, data), k, rng, Options{MaxIterations: 5})
		require.NoError(t, err)
		require.Len(t, ids, n)

		groups := Groups(ids, k)
		require.Len(t, groups, k, "trial %d: n=%d k=%d", trial, n, k)
		seen := make([]bool, n)
		for _, g := range groups {
			require.NotEmpty(t, g)
			for _, r := range g {
				require.False(t, seen[r], "row %d assigned twice", r)
				seen[r] = true
			}
		}
		for r, ok := range seen {
			require.True(t, ok, "row %d unassigned", r)
		}
	}
}

func TestComputePreconditions(t *testing.T) {
	samples := column(1, 2)
	_, err := Compute(samples, 3, &seq{vals: []int{0}}, Options{})
	require.ErrorIs(t, err, ErrInvalidClusterCount)
	_, err = Compute(samples, 0, &seq{vals: []int{0}}, Options{})
	require.ErrorIs(t, err, ErrInvalidClusterCount)
	_, err = FromColumns(nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestFromColumns(t *testing.T) {
	m, err := FromColumns([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, m.RawRowView(1))

	_, err = FromColumns([][]float64{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestGroupsDropsEmpty(t *testing.T) {
	assert.Equal(t, [][]int{{0, 2}, {1}}, Groups([]int{0, 2, 0}, 3))
}
