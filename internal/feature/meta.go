// Package feature infers field metadata (type, data type and domain) from
// raw column values.
package feature

import (
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"gonum.org/v1/gonum/floats"
)

const (
	// Categorical when distinct count is below both thresholds.
	CategoricalUniqueCount = 8
	CategoricalUniqueRatio = 0.1
	// Invalid when non-numeric and distinct count is above both thresholds.
	InvalidUniqueCount = 100
	InvalidUniqueRatio = 0.5
	// DefaultResolution is the number of bins of a numerical domain.
	DefaultResolution = 100
	// UUIDFieldName is the reserved name of the row id column.
	UUIDFieldName = "uuid"
)

var (
	geoSuffixes = []string{"lat", "latitude", "lng", "lon", "long", "longitude"}
	geoTokens   = []string{"hexagon", "hex", "h3"}
	geoDelims   = "_- ."
)

// IsNullLike reports whether v counts as missing: nil, "" or NaN.
func IsNullLike(v dataset.Value) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return math.IsNaN(x)
	}
	return false
}

// IsGeoName reports whether a column name denotes a coordinate or hexagon id.
func IsGeoName(name string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return strings.ContainsRune(geoDelims, r)
	})
	if len(tokens) == 0 {
		return false
	}
	for _, s := range geoSuffixes {
		if tokens[len(tokens)-1] == s {
			return true
		}
	}
	for _, tok := range tokens {
		for _, s := range geoTokens {
			if tok == s {
				return true
			}
		}
	}
	return false
}

// DataTypeOf returns the primitive type of a column. Null-like values are
// ignored; if nothing else remains the column is null.
func DataTypeOf(values []dataset.Value) dataset.DataType {
	var nums, integral, strs, bools int
	for _, v := range values {
		if IsNullLike(v) {
			continue
		}
		switch x := v.(type) {
		case bool:
			bools++
		case string:
			strs++
		default:
			if f, ok := dataset.AsFloat(x); ok {
				nums++
				if f == math.Trunc(f) && !math.IsInf(f, 0) {
					integral++
				}
			}
		}
	}
	switch {
	case bools > 0:
		return dataset.Bool
	case strs > 0:
		return dataset.String
	case nums == 0:
		return dataset.Null
	case integral == nums:
		return dataset.Integer
	default:
		return dataset.Real
	}
}

type profile struct {
	distinct   int
	nonNumeric bool
	allBool    bool
}

func profileOf(values []dataset.Value) profile {
	seen := map[dataset.Value]struct{}{}
	p := profile{allBool: true}
	nonNull := 0
	sawNaN := false
	for _, v := range values {
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			// NaN != NaN, count it once
			if !sawNaN {
				sawNaN = true
				p.distinct++
			}
			p.nonNumeric = true
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			p.distinct++
		}
		if IsNullLike(v) {
			p.nonNumeric = true
			continue
		}
		nonNull++
		if _, ok := v.(bool); !ok {
			p.allBool = false
		}
		if _, ok := dataset.AsFloat(v); !ok {
			p.nonNumeric = true
		}
	}
	if nonNull == 0 {
		p.allBool = false
	}
	return p
}

// TypeOf classifies a column. Geo names win over statistics; uuid needs the
// reserved name and one distinct string per row; columns with fewer than two
// distinct values or free-text-like cardinality are Invalid.
func TypeOf(name string, values []dataset.Value) dataset.FieldType {
	if IsGeoName(name) {
		return dataset.Geo
	}
	n := len(values)
	p := profileOf(values)
	dt := DataTypeOf(values)
	if name == UUIDFieldName && dt == dataset.String && p.distinct == n {
		return dataset.UUID
	}
	if dt == dataset.Null || p.distinct < 2 {
		return dataset.Invalid
	}
	if p.nonNumeric && float64(p.distinct) > InvalidUniqueRatio*float64(n) && p.distinct > InvalidUniqueCount {
		return dataset.Invalid
	}
	if p.allBool {
		return dataset.Boolean
	}
	if p.nonNumeric || (p.distinct < CategoricalUniqueCount && float64(p.distinct) < CategoricalUniqueRatio*float64(n)) {
		return dataset.Categorical
	}
	return dataset.Numerical
}

// NumericDomain returns resolution+1 evenly spaced edges from the minimum to
// the maximum of the numeric values. It returns nil when no value is numeric.
func NumericDomain(values []dataset.Value, resolution int) []float64 {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		f, ok := dataset.AsFloat(v)
		if !ok || math.IsNaN(f) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	if math.IsInf(lo, 1) {
		return nil
	}
	return floats.Span(make([]float64, resolution+1), lo, hi)
}

// CategoricalDomain returns the distinct non-null values, sorted with numbers
// first, then strings, then booleans.
func CategoricalDomain(values []dataset.Value) []dataset.Value {
	seen := map[dataset.Value]struct{}{}
	var out []dataset.Value
	for _, v := range values {
		if IsNullLike(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Less orders values: numbers ascending, then strings, then false before true.
func Less(a, b dataset.Value) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	switch x := a.(type) {
	case string:
		return x < b.(string)
	case bool:
		return !x && b.(bool)
	}
	fa, _ := dataset.AsFloat(a)
	fb, _ := dataset.AsFloat(b)
	return fa < fb
}

func rank(v dataset.Value) int {
	switch v.(type) {
	case string:
		return 1
	case bool:
		return 2
	}
	if _, ok := dataset.AsFloat(v); ok {
		return 0
	}
	return 3
}

// Infer computes the full field metadata of a column.
func Infer(name string, values []dataset.Value, tableFieldIndex int, role dataset.Role, resolution int) dataset.Field {
	f := dataset.Field{
		Name:            name,
		Type:            TypeOf(name, values),
		TableFieldIndex: tableFieldIndex,
		DataType:        DataTypeOf(values),
		Role:            role,
	}
	switch f.Type {
	case dataset.Numerical:
		f.Domain = toValues(NumericDomain(values, resolution))
	case dataset.Categorical, dataset.Boolean:
		f.Domain = CategoricalDomain(values)
	case dataset.Geo:
		if f.DataType == dataset.Integer || f.DataType == dataset.Real {
			f.Domain = toValues(NumericDomain(values, resolution))
		} else {
			f.Domain = CategoricalDomain(values)
		}
	case dataset.Invalid:
		f.DataType = dataset.Null
	}
	return f
}

func toValues(xs []float64) []dataset.Value {
	if xs == nil {
		return nil
	}
	out := make([]dataset.Value, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
