package metric

import (
	"math"
	"testing"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLoss(t *testing.T) {
	targets := dataset.Column{"true", "false", "true"}
	preds := [][]float64{{0.1, 0.9}, {0.9, 0.1}, {0.5, 0.5}}
	got, err := LogLoss(targets, preds, []string{"false", "true"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.105, 2.303, 0.693}, got, 1e-3)
}

func TestLogLossClipsAndMatchesNumericLabels(t *testing.T) {
	got, err := LogLoss(dataset.Column{1.0, 0.0}, [][]float64{{1, 0}, {1, 0}}, []string{"0", "1"})
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(Epsilon), got[0], 1e-6)
	assert.InDelta(t, 0, got[1], 1e-9)

	_, err = LogLoss(dataset.Column{"maybe"}, [][]float64{{0.5, 0.5}}, []string{"no", "yes"})
	assert.Error(t, err)
}

func TestRegressionMetrics(t *testing.T) {
	targets := dataset.Column{1.0, 3.0}
	preds := [][]float64{{2}, {1}}

	got, err := AbsoluteError(targets, preds, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)

	got, err = Residual(targets, preds, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2}, got)

	got, err = SquaredLogError(targets, preds, nil)
	require.NoError(t, err)
	d := math.Log1p(2) - math.Log1p(1)
	assert.InDelta(t, d*d, got[0], 1e-12)

	_, err = AbsoluteError(dataset.Column{"x"}, [][]float64{{1}}, nil)
	assert.Error(t, err)
	_, err = AbsoluteError(dataset.Column{1.0}, nil, nil)
	assert.Error(t, err)
}

func TestLookupAndDefault(t *testing.T) {
	m, ok := Lookup("Log_Loss")
	require.True(t, ok)
	assert.Same(t, LogLossMetric, m)
	_, ok = Lookup("accuracy")
	assert.False(t, ok)

	assert.Same(t, AbsoluteErrorMetric, Default(1))
	assert.Same(t, LogLossMetric, Default(3))
}

func TestScoreColumns(t *testing.T) {
	d := &dataset.Dataset{
		Columns: []dataset.Column{
			{10.0, 20.0},
			{1.0, 5.0},
			{2.0, 2.0},
			{2.0, 4.0},
		},
		Fields: []dataset.Field{
			{Name: "x", TableFieldIndex: 1},
			{Name: dataset.PredName(0, "value"), TableFieldIndex: 2},
			{Name: dataset.PredName(1, "value"), TableFieldIndex: 3},
			{Name: dataset.GroundTruthName, TableFieldIndex: 4},
		},
	}
	ranges := dataset.ColumnTypeRanges{
		X:     dataset.Range{Start: 0, End: 1},
		YPred: dataset.Range{Start: 1, End: 3},
		YTrue: dataset.Range{Start: 3, End: 4},
		Score: dataset.Range{Start: 4, End: 6},
	}
	meta := dataset.ModelsMeta{NModels: 2, NClasses: 1, ClassLabels: []string{"value"}}

	got, err := ScoreColumns(d, ranges, meta, ResidualMetric, 4)
	require.NoError(t, err)
	require.Equal(t, 2, got.NumCols())
	assert.Equal(t, dataset.Column{-1.0, 1.0}, got.Columns[0])
	assert.Equal(t, dataset.Column{0.0, -2.0}, got.Columns[1])
	assert.Equal(t, "@score:model_1", got.Fields[1].Name)
	assert.Equal(t, 6, got.Fields[1].TableFieldIndex)
	assert.Equal(t, dataset.RoleScore, got.Fields[0].Role)
	assert.Equal(t, []float64{-1, -0.5, 0, 0.5, 1}, got.Fields[0].Edges())

	_, err = ScoreColumns(d, ranges, dataset.ModelsMeta{NModels: 3, NClasses: 1}, ResidualMetric, 4)
	assert.Error(t, err)
}
