package dataset

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregator reduces the numeric values of one group to a single number.
type Aggregator struct {
	Name string
	Func func([]float64) float64
}

// Built-in aggregators. Non-numeric cells are dropped before Func is called;
// a group without numeric values yields NaN.
var (
	Mean   = Aggregator{Name: "mean", Func: func(x []float64) float64 { return stat.Mean(x, nil) }}
	Max    = Aggregator{Name: "max", Func: floats.Max}
	Min    = Aggregator{Name: "min", Func: floats.Min}
	Sum    = Aggregator{Name: "sum", Func: floats.Sum}
	Median = Aggregator{Name: "median", Func: median}
	Count  = Aggregator{Name: "count", Func: func(x []float64) float64 { return float64(len(x)) }}
)

// AggregateFuncs selects the aggregators per column. When ByField is set it
// must contain an entry for every included column name; otherwise All is
// applied to every column.
type AggregateFuncs struct {
	All     []Aggregator
	ByField map[string][]Aggregator
}

func (a AggregateFuncs) forField(name string) ([]Aggregator, error) {
	if a.ByField == nil {
		return a.All, nil
	}
	fns, ok := a.ByField[name]
	if !ok {
		return nil, fmt.Errorf("aggregate: no aggregators for column %q", name)
	}
	return fns, nil
}

// Aggregate groups rows by the column of groupBy and reduces each included
// column per group. Groups appear in first-appearance order. The result
// holds the group-by column first (TableFieldIndex 1) followed by one
// column per (included column, aggregator) named "<column>_<aggregator>".
func Aggregate(d *Dataset, groupBy Field, funcs AggregateFuncs, include []int) (*Dataset, error) {
	if !groupBy.Type.Discrete() && groupBy.DataType != String {
		return nil, fmt.Errorf("aggregate: group-by field %q must be categorical or string, got %s/%s",
			groupBy.Name, groupBy.Type, groupBy.DataType)
	}
	gi := groupBy.TableFieldIndex - 1
	if gi < 0 || gi >= d.NumCols() {
		return nil, fmt.Errorf("aggregate: group-by field %q has no column %d", groupBy.Name, gi)
	}

	var keys []Value
	members := map[Value][]int{}
	for row, v := range d.Columns[gi] {
		// NaN never equals itself; group those rows with the nulls
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			v = nil
		}
		if _, ok := members[v]; !ok {
			keys = append(keys, v)
		}
		members[v] = append(members[v], row)
	}

	keyField := groupBy
	keyField.TableFieldIndex = 1
	out := &Dataset{
		Columns: []Column{append(Column(nil), keys...)},
		Fields:  []Field{keyField},
	}

	next := 2
	for _, ci := range include {
		if ci < 0 || ci >= d.NumCols() {
			return nil, fmt.Errorf("aggregate: column %d out of bounds", ci)
		}
		field := d.Fields[ci]
		fns, err := funcs.forField(field.Name)
		if err != nil {
			return nil, err
		}
		for _, fn := range fns {
			col := make(Column, len(keys))
			for k, key := range keys {
				col[k] = fn.apply(d.Columns[ci], members[key])
			}
			out.Columns = append(out.Columns, col)
			out.Fields = append(out.Fields, Field{
				Name:            field.Name + "_" + fn.Name,
				Type:            Numerical,
				TableFieldIndex: next,
				DataType:        Real,
			})
			next++
		}
	}
	return out, nil
}

func (a Aggregator) apply(col Column, rows []int) float64 {
	vals := make([]float64, 0, len(rows))
	for _, r := range rows {
		if f, ok := AsFloat(col[r]); ok && !math.IsNaN(f) {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	return a.Func(vals)
}

func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
