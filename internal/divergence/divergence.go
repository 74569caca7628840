// Package divergence ranks features by how differently they are distributed
// between two segment groups.
package divergence

import (
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/histogram"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MaxDivergence is returned when two distributions cannot be compared.
const MaxDivergence = float64(1<<53 - 1)

// Epsilon is subtracted from the shared minimum before rescaling so that no
// normalized value is exactly zero.
const Epsilon = 1e-9

// Pair holds the treatment (index 0) and control (index 1) distributions.
type Pair [2][]float64

// Feature is the attribution result of one feature.
type Feature struct {
	Name                    string            `json:"name"`
	Type                    dataset.FieldType `json:"type"`
	Domain                  []dataset.Value   `json:"domain"`
	Distributions           Pair              `json:"distributions"`
	DistributionsNormalized Pair              `json:"distributionsNormalized"`
	Divergence              float64           `json:"divergence"`
}

// Distributions bins the treatment and control values over the field's
// domain. Discrete fields count per domain value; numerical fields bin by
// the domain edges.
func Distributions(field dataset.Field, treatment, control dataset.Column) (Pair, error) {
	switch {
	case field.Type.Discrete():
		return Pair{
			histogram.ComputeCategorical(treatment, field.Domain).Counts,
			histogram.ComputeCategorical(control, field.Domain).Counts,
		}, nil
	case field.Type == dataset.Numerical:
		edges := field.Edges()
		return Pair{
			histogram.WithEdges(treatment.Floats(), edges).Counts,
			histogram.WithEdges(control.Floats(), edges).Counts,
		}, nil
	}
	return Pair{}, fmt.Errorf("feature %q: no distribution for type %q", field.Name, field.Type)
}

// Normalize turns counts into proportions and then rescales both arrays by
// their joint minimum (less Epsilon) and maximum into (0, 1].
func Normalize(p Pair) Pair {
	var out Pair
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, d := range p {
		out[i] = append([]float64(nil), d...)
		if s := floats.Sum(out[i]); s != 0 {
			floats.Scale(1/s, out[i])
		}
		if len(out[i]) > 0 {
			lo = math.Min(lo, floats.Min(out[i]))
			hi = math.Max(hi, floats.Max(out[i]))
		}
	}
	if math.IsInf(lo, 1) {
		return out
	}
	lo -= Epsilon
	for i := range out {
		floats.AddConst(-lo, out[i])
		floats.Scale(1/(hi-lo), out[i])
	}
	return out
}

// Compute returns the Kullback-Leibler divergence of the treatment from the
// control distribution after both are rescaled to sum to one. Mismatched
// lengths or a distribution without mass yield MaxDivergence.
func Compute(p Pair) float64 {
	t, c := p[0], p[1]
	if len(t) != len(c) || len(t) == 0 {
		return MaxDivergence
	}
	st, sc := floats.Sum(t), floats.Sum(c)
	if st <= 0 || sc <= 0 {
		return MaxDivergence
	}
	pt := append([]float64(nil), t...)
	pc := append([]float64(nil), c...)
	floats.Scale(1/st, pt)
	floats.Scale(1/sc, pc)
	kl := stat.KullbackLeibler(pt, pc)
	if math.IsNaN(kl) || math.IsInf(kl, 0) {
		return MaxDivergence
	}
	return kl
}

// Attribute computes the distributions and divergence of one feature.
func Attribute(field dataset.Field, treatment, control dataset.Column) (Feature, error) {
	dist, err := Distributions(field, treatment, control)
	if err != nil {
		return Feature{}, err
	}
	norm := Normalize(dist)
	return Feature{
		Name:                    field.Name,
		Type:                    field.Type,
		Domain:                  field.Domain,
		Distributions:           dist,
		DistributionsNormalized: norm,
		Divergence:              Compute(norm),
	}, nil
}

// Rank sorts features by divergence, highest first. Ties keep input order.
func Rank(features []Feature) []Feature {
	out := append([]Feature(nil), features...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Divergence > out[j].Divergence })
	return out
}

// Threshold keeps the features whose divergence is at least cutoff.
func Threshold(features []Feature, cutoff float64) []Feature {
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if f.Divergence >= cutoff {
			out = append(out, f)
		}
	}
	return out
}
