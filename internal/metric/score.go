package metric

import (
	"fmt"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/feature"
)

// ScoreColumns computes one score column per model from the prediction and
// ground truth columns of d. The returned fields are numerical score fields
// with TableFieldIndex continuing after ranges.YTrue.
func ScoreColumns(d *dataset.Dataset, ranges dataset.ColumnTypeRanges, meta dataset.ModelsMeta, m *Metric, resolution int) (*dataset.Dataset, error) {
	if m == nil {
		return nil, fmt.Errorf("score columns: no metric")
	}
	if ranges.YTrue.Len() != 1 {
		return nil, fmt.Errorf("score columns: want one ground truth column, got %d", ranges.YTrue.Len())
	}
	if ranges.YPred.Len() != meta.NModels*meta.NClasses {
		return nil, fmt.Errorf("score columns: %d prediction columns for %d models x %d classes",
			ranges.YPred.Len(), meta.NModels, meta.NClasses)
	}
	targets := d.Columns[ranges.YTrue.Start]
	n := d.NumRows()
	out := &dataset.Dataset{}
	for model := 0; model < meta.NModels; model++ {
		cols := meta.PredColumns(ranges.YPred, model)
		preds := make([][]float64, n)
		for r := 0; r < n; r++ {
			row := make([]float64, len(cols))
			for i, c := range cols {
				v, ok := dataset.AsFloat(d.Columns[c][r])
				if !ok {
					return nil, fmt.Errorf("score columns: %s row %d is not numeric", d.Fields[c].Name, r)
				}
				row[i] = v
			}
			preds[r] = row
		}
		scores, err := m.Score(targets, preds, meta.ClassLabels)
		if err != nil {
			return nil, fmt.Errorf("score %s with %s: %w", dataset.ModelName(model), m.Name, err)
		}
		col := dataset.FromFloats(scores)
		field := dataset.Field{
			Name:            dataset.ScoreName(model),
			Type:            dataset.Numerical,
			TableFieldIndex: ranges.YTrue.End + model + 1,
			Domain:          floatValues(feature.NumericDomain(col, resolution)),
			DataType:        dataset.Real,
			Role:            dataset.RoleScore,
		}
		out.Columns = append(out.Columns, col)
		out.Fields = append(out.Fields, field)
	}
	return out, nil
}

func floatValues(xs []float64) []dataset.Value {
	out := make([]dataset.Value, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
