// Package dataset holds the in-memory columnar table that flows through the
// segmentation pipeline, together with the immutable transformations applied
// to it (slice, concat, gather, aggregate).
package dataset

import (
	"errors"
	"fmt"
	"math"
)

// Value is a single cell. It is one of float64, string, bool or nil.
// Integers are carried as float64; Field.DataType records integrality.
type Value = any

// Column is one column of cells.
type Column []Value

// Floats converts the column to float64. Non-numeric cells become NaN.
func (c Column) Floats() []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		if f, ok := AsFloat(v); ok {
			out[i] = f
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// AsFloat reports the numeric value of v, if it has one.
func AsFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// FromFloats builds a column from numbers.
func FromFloats(vals []float64) Column {
	out := make(Column, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

// FieldType classifies a column.
type FieldType string

const (
	Invalid     FieldType = ""
	Categorical FieldType = "categorical"
	Numerical   FieldType = "numerical"
	Geo         FieldType = "geo"
	Boolean     FieldType = "boolean"
	UUID        FieldType = "uuid"
)

// Discrete reports whether values of this type are binned by category.
func (t FieldType) Discrete() bool { return t == Categorical || t == Boolean }

// DataType is the primitive type of the values in a column.
type DataType string

const (
	Null    DataType = "null"
	Integer DataType = "integer"
	Real    DataType = "real"
	String  DataType = "string"
	Bool    DataType = "boolean"
)

// Role is the logical group a field belongs to.
type Role string

const (
	RoleFeature     Role = "feature"
	RolePrediction  Role = "prediction"
	RoleGroundTruth Role = "groundTruth"
	RoleScore       Role = "score"
)

// Field is the metadata of one column. Domain holds the sorted distinct
// values for discrete fields and the bin edges (float64) for numerical ones;
// it is nil for uuid and invalid fields.
type Field struct {
	Name            string    `json:"name"`
	Type            FieldType `json:"type"`
	TableFieldIndex int       `json:"tableFieldIndex"`
	Domain          []Value   `json:"domain"`
	DataType        DataType  `json:"dataType"`
	Role            Role      `json:"role,omitempty"`
}

// Edges returns a numerical field's domain as float64 bin edges.
func (f Field) Edges() []float64 {
	out := make([]float64, 0, len(f.Domain))
	for _, v := range f.Domain {
		if x, ok := AsFloat(v); ok {
			out = append(out, x)
		}
	}
	return out
}

// Dataset is a set of equally long columns and their field metadata.
type Dataset struct {
	Columns []Column `json:"columns"`
	Fields  []Field  `json:"fields"`
}

var (
	ErrShape      = errors.New("dataset shape mismatch")
	ErrEmptyInput = errors.New("no datasets to concatenate")
)

// NumRows returns the shared column length.
func (d *Dataset) NumRows() int {
	if d == nil || len(d.Columns) == 0 {
		return 0
	}
	return len(d.Columns[0])
}

// NumCols returns the number of columns.
func (d *Dataset) NumCols() int {
	if d == nil {
		return 0
	}
	return len(d.Columns)
}

// Validate checks that the dataset is rectangular and that every column has
// a field.
func (d *Dataset) Validate() error {
	if len(d.Columns) != len(d.Fields) {
		return fmt.Errorf("%w: %d columns but %d fields", ErrShape, len(d.Columns), len(d.Fields))
	}
	n := d.NumRows()
	for i, c := range d.Columns {
		if len(c) != n {
			return fmt.Errorf("%w: column %q has %d rows, want %d", ErrShape, d.Fields[i].Name, len(c), n)
		}
	}
	return nil
}

// FieldIndex returns the column index of the named field, or -1.
func (d *Dataset) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Range is a half-open column index interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns End-Start.
func (r Range) Len() int { return r.End - r.Start }

// Indices lists every index in the range.
func (r Range) Indices() []int {
	out := make([]int, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		out = append(out, i)
	}
	return out
}

// ColumnTypeRanges maps each logical column group to its place in a dataset.
type ColumnTypeRanges struct {
	X     Range `json:"x"`
	YPred Range `json:"yPred"`
	YTrue Range `json:"yTrue"`
	Score Range `json:"score"`
}

// Contiguous reports whether the ranges tile [0, Score.End) in order.
func (r ColumnTypeRanges) Contiguous() bool {
	return r.X.Start == 0 &&
		r.X.End == r.YPred.Start &&
		r.YPred.End == r.YTrue.Start &&
		r.YTrue.End == r.Score.Start &&
		r.X.Len() >= 0 && r.YPred.Len() >= 0 && r.YTrue.Len() >= 0 && r.Score.Len() >= 0
}
