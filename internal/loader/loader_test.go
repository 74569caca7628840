package loader

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTable(t *testing.T, text string) *Table {
	t.Helper()
	tbl, err := ReadCSV(context.Background(), strings.NewReader(text), CSVOptions{})
	require.NoError(t, err)
	return tbl
}

func TestReadCSVTypesCells(t *testing.T) {
	tbl := readTable(t, "\ufeffa, b,c\n1,x,true\n\n2.5,,false\n3,y\n")
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Header)
	require.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, dataset.Column{1.0, 2.5, 3.0}, tbl.Columns[0])
	assert.Equal(t, dataset.Column{"x", nil, "y"}, tbl.Columns[1])
	assert.Equal(t, dataset.Column{true, false, nil}, tbl.Columns[2])
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = ReadCSV(context.Background(), strings.NewReader("a,a\n1,2\n"), CSVOptions{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = ReadCSV(context.Background(), strings.NewReader("a,b\n1,2,3\n"), CSVOptions{})
	assert.ErrorIs(t, err, ErrParseFailure)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ParseFailure, le.Kind)
}

func TestReadCSVFileSetsSource(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(p, []byte("a,a\n1,2\n"), 0o644))
	_, err := ReadCSVFile(context.Background(), p, CSVOptions{})
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, p, le.Source)

	tsv := filepath.Join(dir, "x.tsv")
	require.NoError(t, os.WriteFile(tsv, []byte("a\tb\n1\t2\n"), 0o644))
	tbl, err := ReadCSVFile(context.Background(), tsv, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, "x.tsv", tbl.Name)
	assert.Equal(t, []string{"a", "b"}, tbl.Header)
}

const (
	featuresCSV = "age,city,constant\n10,a,1\n20,b,1\n30,a,1\n40,b,1\n50,a,1\n60,b,1\n70,a,1\n80,b,1\n90,a,1\n100,b,1\n"
	truthCSV    = "label\nyes\nno\nyes\nno\nyes\nno\nyes\nno\nyes\nno\n"
	predACSV    = "no,yes\n0.1,0.9\n0.8,0.2\n0.3,0.7\n0.6,0.4\n0.2,0.8\n0.9,0.1\n0.4,0.6\n0.7,0.3\n0.5,0.5\n0.6,0.4\n"
	predBCSV    = "yes,no\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n0.5,0.5\n"
)

func TestBuildClassification(t *testing.T) {
	x := readTable(t, featuresCSV)
	preds := []*Table{readTable(t, predACSV), readTable(t, predBCSV)}
	yTrue := readTable(t, truthCSV)

	res, err := Build(x, preds, yTrue, Options{Resolution: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, []string{"constant"}, res.Dropped)
	assert.Equal(t, dataset.ModelsMeta{NModels: 2, NClasses: 2, ClassLabels: []string{"no", "yes"}}, res.Models)
	assert.Same(t, metric.LogLossMetric, res.Metric)

	r := res.Ranges
	assert.True(t, r.Contiguous())
	assert.Equal(t, dataset.Range{Start: 0, End: 2}, r.X)
	assert.Equal(t, dataset.Range{Start: 2, End: 6}, r.YPred)
	assert.Equal(t, dataset.Range{Start: 6, End: 7}, r.YTrue)
	assert.Equal(t, dataset.Range{Start: 7, End: 9}, r.Score)

	d := res.Data
	require.NoError(t, d.Validate())
	for i, f := range d.Fields {
		assert.Equal(t, i+1, f.TableFieldIndex, f.Name)
	}
	assert.Equal(t, "@pred:model_1_class_yes", d.Fields[5].Name)
	// columns of the second file are reordered to the first file's labels
	assert.Equal(t, dataset.Column{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, d.Columns[5])
	assert.Equal(t, dataset.GroundTruthName, d.Fields[6].Name)
	assert.Equal(t, dataset.RoleScore, d.Fields[7].Role)
	assert.InDelta(t, 0.10536, d.Columns[7][0].(float64), 1e-4) // -ln(0.9)
}

func TestBuildRegressionWithMetric(t *testing.T) {
	x := readTable(t, featuresCSV)
	preds := []*Table{readTable(t, "y\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n")}
	yTrue := readTable(t, "y\n2\n2\n2\n2\n2\n2\n2\n2\n2\n2\n")

	res, err := Build(x, preds, yTrue, Options{Metric: metric.ResidualMetric})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Models.NClasses)
	score := res.Data.Columns[res.Ranges.Score.Start]
	assert.Equal(t, -1.0, score[0])
	assert.Equal(t, 8.0, score[9])

	_, err = Build(x, preds, yTrue, Options{Metric: metric.LogLossMetric})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestValidate(t *testing.T) {
	x := readTable(t, featuresCSV)
	yTrue := readTable(t, truthCSV)
	predA := readTable(t, predACSV)
	regression := readTable(t, "y\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n")
	// floats builds a 10 row single column table whose last cell is v
	floats := func(v float64) *Table {
		col := dataset.Column{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, v}
		return &Table{Header: []string{"y"}, Columns: []dataset.Column{col}}
	}

	tests := []struct {
		name  string
		x     *Table
		preds []*Table
		yTrue *Table
		want  error
	}{
		{"ok", x, []*Table{predA}, yTrue, nil},
		{"no preds", x, nil, yTrue, ErrSchemaMismatch},
		{"short truth", x, []*Table{predA}, readTable(t, "label\nyes\n"), ErrRowCountMismatch},
		{"two truth columns", x, []*Table{predA}, readTable(t, "a,b\n1,2\n"), ErrSchemaMismatch},
		{"short preds", x, []*Table{readTable(t, "no,yes\n0.5,0.5\n")}, yTrue, ErrRowCountMismatch},
		{"class keys differ", x, []*Table{predA, readTable(t, strings.Replace(predBCSV, "yes,no", "yes,maybe", 1))}, yTrue, ErrSchemaMismatch},
		{"unknown label", x, []*Table{predA}, readTable(t, strings.Replace(truthCSV, "no\n", "maybe\n", 1)), ErrSchemaMismatch},
		{"non numeric prediction", x, []*Table{readTable(t, strings.Replace(predACSV, "0.1", "high", 1))}, yTrue, ErrSchemaMismatch},
		{"non numeric regression target", x, []*Table{readTable(t, "y\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n")}, yTrue, ErrSchemaMismatch},
		{"NaN prediction", x, []*Table{readTable(t, strings.Replace(predACSV, "0.1", "NaN", 1))}, yTrue, ErrSchemaMismatch},
		{"infinite prediction", x, []*Table{readTable(t, strings.Replace(predACSV, "0.1", "inf", 1))}, yTrue, ErrSchemaMismatch},
		{"NaN regression target", x, []*Table{regression}, readTable(t, "y\n1\n2\n3\nnan\n5\n6\n7\n8\n9\n10\n"), ErrSchemaMismatch},
		{"infinite regression target", x, []*Table{regression}, floats(math.Inf(1)), ErrSchemaMismatch},
		{"NaN float prediction", x, []*Table{floats(math.NaN())}, readTable(t, "y\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"), ErrSchemaMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.x, tt.preds, tt.yTrue)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, text string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(text), 0o644))
		return p
	}
	src := Sources{
		X:     write("x.csv", featuresCSV),
		YPred: []string{write("a.csv", predACSV), write("b.csv", predBCSV)},
		YTrue: write("y.csv", truthCSV),
	}
	res, err := Load(context.Background(), src, Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Data.NumRows())
	assert.Equal(t, 9, res.Data.NumCols())

	src.YPred = append(src.YPred, filepath.Join(dir, "missing.csv"))
	_, err = Load(context.Background(), src, Options{})
	assert.ErrorIs(t, err, ErrParseFailure)

	_, err = Load(context.Background(), Sources{X: src.X}, Options{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
