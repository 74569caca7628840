// Package metric computes per-row model performance scores from predictions
// and ground truth.
package metric

import (
	"fmt"
	"math"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
)

// Epsilon clips probabilities away from 0 and 1 before taking logs.
const Epsilon = 1e-15

// Task is the kind of model being compared.
type Task string

const (
	Regression     Task = "regression"
	Classification Task = "classification"
)

// ScoreFunc scores every row. preds is row-major: preds[row][class].
type ScoreFunc func(targets dataset.Column, preds [][]float64, labels []string) ([]float64, error)

// Metric is a named ScoreFunc for one task.
type Metric struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Task        Task      `json:"task"`
	Score       ScoreFunc `json:"-"`
}

var (
	LogLossMetric = &Metric{
		Name:        "log_loss",
		Description: "negative log of the probability assigned to the true class",
		Task:        Classification,
		Score:       LogLoss,
	}
	AbsoluteErrorMetric = &Metric{
		Name:        "absolute_error",
		Description: "absolute difference between prediction and target",
		Task:        Regression,
		Score:       AbsoluteError,
	}
	SquaredLogErrorMetric = &Metric{
		Name:        "squared_log_error",
		Description: "squared difference of log1p(prediction) and log1p(target)",
		Task:        Regression,
		Score:       SquaredLogError,
	}
	ResidualMetric = &Metric{
		Name:        "residual",
		Description: "signed prediction minus target; negative means under-prediction",
		Task:        Regression,
		Score:       Residual,
	}
)

// All lists the registered metrics.
func All() []*Metric {
	return []*Metric{LogLossMetric, AbsoluteErrorMetric, SquaredLogErrorMetric, ResidualMetric}
}

// Lookup finds a metric by name, case-insensitively.
func Lookup(name string) (*Metric, bool) {
	for _, m := range All() {
		if strings.EqualFold(m.Name, strings.TrimSpace(name)) {
			return m, true
		}
	}
	return nil, false
}

// TaskFor infers the task from the number of prediction classes.
func TaskFor(nClasses int) Task {
	if nClasses <= 1 {
		return Regression
	}
	return Classification
}

// Default returns the metric used when none is configured.
func Default(nClasses int) *Metric {
	if TaskFor(nClasses) == Regression {
		return AbsoluteErrorMetric
	}
	return LogLossMetric
}

// LogLoss scores each row by -log(p) where p is the clipped probability of
// the row's target label.
func LogLoss(targets dataset.Column, preds [][]float64, labels []string) ([]float64, error) {
	if err := checkShape(targets, preds); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	out := make([]float64, len(targets))
	for r, t := range targets {
		c, ok := index[dataset.FormatValue(t)]
		if !ok {
			return nil, fmt.Errorf("row %d: target %q is not a class label", r, dataset.FormatValue(t))
		}
		if c >= len(preds[r]) {
			return nil, fmt.Errorf("row %d: %d predictions for class %d", r, len(preds[r]), c)
		}
		p := math.Min(math.Max(preds[r][c], Epsilon), 1-Epsilon)
		out[r] = -math.Log(p)
	}
	return out, nil
}

// AbsoluteError scores |prediction - target|.
func AbsoluteError(targets dataset.Column, preds [][]float64, _ []string) ([]float64, error) {
	return regression(targets, preds, func(t, p float64) float64 { return math.Abs(p - t) })
}

// SquaredLogError scores (log1p(prediction) - log1p(target))^2.
func SquaredLogError(targets dataset.Column, preds [][]float64, _ []string) ([]float64, error) {
	return regression(targets, preds, func(t, p float64) float64 {
		d := math.Log1p(p) - math.Log1p(t)
		return d * d
	})
}

// Residual scores prediction - target.
func Residual(targets dataset.Column, preds [][]float64, _ []string) ([]float64, error) {
	return regression(targets, preds, func(t, p float64) float64 { return p - t })
}

func regression(targets dataset.Column, preds [][]float64, fn func(t, p float64) float64) ([]float64, error) {
	if err := checkShape(targets, preds); err != nil {
		return nil, err
	}
	out := make([]float64, len(targets))
	for r, tv := range targets {
		t, ok := dataset.AsFloat(tv)
		if !ok {
			return nil, fmt.Errorf("row %d: target %v is not numeric", r, tv)
		}
		if len(preds[r]) == 0 {
			return nil, fmt.Errorf("row %d: no prediction", r)
		}
		out[r] = fn(t, preds[r][0])
	}
	return out, nil
}

func checkShape(targets dataset.Column, preds [][]float64) error {
	if len(targets) != len(preds) {
		return fmt.Errorf("%d targets but %d prediction rows", len(targets), len(preds))
	}
	return nil
}
