// Package loader reads the feature, prediction and ground truth files of a
// model comparison, validates them against each other and assembles the
// columnar dataset the pipeline works on.
package loader

import (
	"context"
	"fmt"
	"math"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/feature"
	"github.com/KaramelBytes/manifold-cli/internal/metric"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sources names the input files: one feature file, one prediction file per
// model and one ground truth file.
type Sources struct {
	X     string   `json:"x"`
	YPred []string `json:"yPred"`
	YTrue string   `json:"yTrue"`
}

// Options controls loading.
type Options struct {
	CSV CSVOptions
	// Resolution is the number of bins of numerical domains.
	Resolution int
	// Metric scores predictions; nil picks metric.Default for the task.
	Metric *metric.Metric
	Logger *zap.Logger
}

// Result is a loaded model comparison.
type Result struct {
	BatchID string                   `json:"batchId"`
	Data    *dataset.Dataset         `json:"-"`
	Ranges  dataset.ColumnTypeRanges `json:"columnTypeRanges"`
	Models  dataset.ModelsMeta       `json:"modelsMeta"`
	Metric  *metric.Metric           `json:"metric"`
	// Dropped lists feature columns rejected as invalid.
	Dropped []string `json:"dropped,omitempty"`
}

// Load reads every source concurrently and builds the dataset.
func Load(ctx context.Context, src Sources, opt Options) (*Result, error) {
	if src.X == "" {
		return nil, schemaErr("x", "no feature file")
	}
	if len(src.YPred) == 0 {
		return nil, schemaErr("yPred", "no prediction files")
	}
	if src.YTrue == "" {
		return nil, schemaErr("yTrue", "no ground truth file")
	}

	var x, yTrue *Table
	preds := make([]*Table, len(src.YPred))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		x, err = ReadFile(gctx, src.X, opt.CSV)
		return err
	})
	g.Go(func() (err error) {
		yTrue, err = ReadFile(gctx, src.YTrue, opt.CSV)
		return err
	})
	for i, p := range src.YPred {
		g.Go(func() (err error) {
			preds[i], err = ReadFile(gctx, p, opt.CSV)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Build(x, preds, yTrue, opt)
}

// Validate checks that the tables describe one comparison: non-empty, equal
// row counts, the same class columns in every prediction file, numeric
// targets for regression and known labels for classification.
func Validate(x *Table, preds []*Table, yTrue *Table) error {
	if x == nil || len(x.Columns) == 0 {
		return schemaErr("x", "no feature columns")
	}
	n := x.NumRows()
	if n == 0 {
		return schemaErr("x", "no rows")
	}
	if len(preds) == 0 {
		return schemaErr("yPred", "no prediction files")
	}
	if yTrue == nil || len(yTrue.Columns) != 1 {
		cols := 0
		if yTrue != nil {
			cols = len(yTrue.Columns)
		}
		return schemaErr("yTrue", "want exactly one ground truth column, got %d", cols)
	}
	if yTrue.NumRows() != n {
		return rowCountErr("yTrue", yTrue.NumRows(), n)
	}

	labels := preds[0].Header
	if len(labels) == 0 {
		return schemaErr(predSource(0, preds[0]), "no prediction columns")
	}
	for i, p := range preds {
		if p.NumRows() != n {
			return rowCountErr(predSource(i, p), p.NumRows(), n)
		}
		if !sameKeys(labels, p.Header) {
			return schemaErr(predSource(i, p), "prediction columns %v do not match %v", p.Header, labels)
		}
		for c, col := range p.Columns {
			for r, v := range col {
				if !finite(v) {
					return schemaErr(predSource(i, p), "column %q row %d: prediction %v is not a finite number", p.Header[c], r+1, v)
				}
			}
		}
	}

	known := map[string]bool{}
	for _, l := range labels {
		known[l] = true
	}
	for r, v := range yTrue.Columns[0] {
		if metric.TaskFor(len(labels)) == metric.Regression {
			if !finite(v) {
				return schemaErr("yTrue", "row %d: regression target %v is not a finite number", r+1, v)
			}
			continue
		}
		if !known[dataset.FormatValue(v)] {
			return schemaErr("yTrue", "row %d: label %q is not one of %v", r+1, dataset.FormatValue(v), labels)
		}
	}
	return nil
}

// Build validates the tables and assembles the dataset: valid feature
// columns, then prediction, ground truth and score columns.
func Build(x *Table, preds []*Table, yTrue *Table, opt Options) (*Result, error) {
	if err := Validate(x, preds, yTrue); err != nil {
		return nil, err
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	res := opt.Resolution
	if res <= 0 {
		res = feature.DefaultResolution
	}

	out := &Result{BatchID: uuid.NewString(), Data: &dataset.Dataset{}}
	d := out.Data
	add := func(col dataset.Column, f dataset.Field) {
		f.TableFieldIndex = len(d.Columns) + 1
		d.Columns = append(d.Columns, col)
		d.Fields = append(d.Fields, f)
	}

	for i, name := range x.Header {
		f := feature.Infer(name, x.Columns[i], 0, dataset.RoleFeature, res)
		if f.Type == dataset.Invalid {
			out.Dropped = append(out.Dropped, name)
			log.Debug("dropping invalid feature", zap.String("feature", name))
			continue
		}
		add(x.Columns[i], f)
	}
	out.Ranges.X = dataset.Range{Start: 0, End: len(d.Columns)}

	labels := preds[0].Header
	out.Models = dataset.ModelsMeta{NModels: len(preds), NClasses: len(labels), ClassLabels: labels}
	for m, p := range preds {
		for _, label := range labels {
			col := p.Columns[indexOf(p.Header, label)]
			add(col, dataset.Field{
				Name:     dataset.PredName(m, label),
				Type:     dataset.Numerical,
				Domain:   floatValues(feature.NumericDomain(col, res)),
				DataType: feature.DataTypeOf(col),
				Role:     dataset.RolePrediction,
			})
		}
	}
	out.Ranges.YPred = dataset.Range{Start: out.Ranges.X.End, End: len(d.Columns)}

	add(yTrue.Columns[0], feature.Infer(dataset.GroundTruthName, yTrue.Columns[0], 0, dataset.RoleGroundTruth, res))
	out.Ranges.YTrue = dataset.Range{Start: out.Ranges.YPred.End, End: len(d.Columns)}

	m := opt.Metric
	if m == nil {
		m = metric.Default(out.Models.NClasses)
	} else if m.Task != metric.TaskFor(out.Models.NClasses) {
		return nil, schemaErr("yPred", "metric %s needs a %s task, predictions have %d classes",
			m.Name, m.Task, out.Models.NClasses)
	}
	out.Metric = m
	out.Ranges.Score = dataset.Range{Start: out.Ranges.YTrue.End, End: out.Ranges.YTrue.End + out.Models.NModels}
	scores, err := metric.ScoreColumns(d, out.Ranges, out.Models, m, res)
	if err != nil {
		return nil, fmt.Errorf("compute scores: %w", err)
	}
	for i := range scores.Columns {
		add(scores.Columns[i], scores.Fields[i])
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	log.Info("loaded dataset",
		zap.String("batch", out.BatchID),
		zap.Int("rows", d.NumRows()),
		zap.Int("features", out.Ranges.X.Len()),
		zap.Int("models", out.Models.NModels),
		zap.Int("classes", out.Models.NClasses),
		zap.String("metric", m.Name))
	return out, nil
}

func predSource(i int, t *Table) string {
	if t != nil && t.Name != "" {
		return fmt.Sprintf("yPred[%d] (%s)", i, t.Name)
	}
	return fmt.Sprintf("yPred[%d]", i)
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, k := range a {
		if indexOf(b, k) < 0 {
			return false
		}
	}
	return true
}

func indexOf(xs []string, s string) int {
	for i, x := range xs {
		if x == s {
			return i
		}
	}
	return -1
}

func floatValues(xs []float64) []dataset.Value {
	if xs == nil {
		return nil
	}
	out := make([]dataset.Value, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func finite(v dataset.Value) bool {
	f, ok := dataset.AsFloat(v)
	return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}
