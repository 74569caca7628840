package feature

import (
	"fmt"
	"math"
	"testing"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nums(xs ...float64) []dataset.Value {
	out := make([]dataset.Value, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func TestDataTypeOf(t *testing.T) {
	tests := []struct {
		name   string
		values []dataset.Value
		want   dataset.DataType
	}{
		{"integers", nums(0, 1, 2, 3), dataset.Integer},
		{"reals", nums(0.1, 1, 2.5), dataset.Real},
		{"strings", []dataset.Value{"a", "b"}, dataset.String},
		{"null-like", []dataset.Value{nil, nil, math.NaN(), ""}, dataset.Null},
		{"boolean with nulls", []dataset.Value{nil, nil, math.NaN(), "", true}, dataset.Bool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DataTypeOf(tt.values))
		})
	}
}

func TestTypeOfCategoricalByCount(t *testing.T) {
	var vals []dataset.Value
	for i := 0; i < 77; i++ {
		vals = append(vals, float64(i%7+1))
	}
	f := Infer("catFeature", vals, 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.Categorical, f.Type)
	assert.Equal(t, dataset.Integer, f.DataType)
	assert.Equal(t, nums(1, 2, 3, 4, 5, 6, 7), f.Domain)
}

func TestTypeOfNumerical(t *testing.T) {
	var vals []dataset.Value
	for i := 0; i <= 100; i++ {
		vals = append(vals, float64(i))
	}
	f := Infer("numFeature", vals, 1, dataset.RoleFeature, 100)
	assert.Equal(t, dataset.Numerical, f.Type)
	edges := f.Edges()
	require.Len(t, edges, 101)
	for i, e := range edges {
		assert.InDelta(t, float64(i), e, 1e-9)
	}
}

func TestTypeOfHybridIsCategorical(t *testing.T) {
	f := Infer("hybridFeature", []dataset.Value{1.0, 1.0, 2.0, "a"}, 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.Categorical, f.Type)
	assert.Equal(t, dataset.String, f.DataType)
	assert.Equal(t, []dataset.Value{1.0, 2.0, "a"}, f.Domain)
}

func TestTypeOfNullsForceCategorical(t *testing.T) {
	var vals []dataset.Value
	for i := 0; i < 50; i++ {
		vals = append(vals, float64(i))
	}
	vals = append(vals, nil)
	assert.Equal(t, dataset.Categorical, TypeOf("withNull", vals))
}

func TestTypeOfGeo(t *testing.T) {
	for _, name := range []string{"feature_lat", "pickup_lng", "feature_hexagon", "h3 cell", "lat"} {
		assert.Equal(t, dataset.Geo, TypeOf(name, nums(1, 2, 3)), name)
	}
	for _, name := range []string{"flat", "format", "width3"} {
		assert.False(t, IsGeoName(name), name)
	}
}

func TestTypeOfUUIDAndInvalid(t *testing.T) {
	var ids []dataset.Value
	for i := 0; i <= 100; i++ {
		ids = append(ids, fmt.Sprintf("a%d", i))
	}
	uuid := Infer(UUIDFieldName, ids, 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.UUID, uuid.Type)
	assert.Equal(t, dataset.String, uuid.DataType)
	assert.Nil(t, uuid.Domain)

	free := Infer("comment", ids, 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.Invalid, free.Type)
	assert.Equal(t, dataset.Null, free.DataType)
	assert.Nil(t, free.Domain)

	nulls := Infer("nullFeature", []dataset.Value{nil, "", math.NaN()}, 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.Invalid, nulls.Type)

	constant := Infer("constant", nums(1, 1, 1), 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.Invalid, constant.Type)
}

func TestTypeOfBoolean(t *testing.T) {
	f := Infer("flag", []dataset.Value{true, false, true}, 1, dataset.RoleFeature, 0)
	assert.Equal(t, dataset.Boolean, f.Type)
	assert.Equal(t, []dataset.Value{false, true}, f.Domain)
}

func TestCategoricalDomainOrdering(t *testing.T) {
	got := CategoricalDomain([]dataset.Value{"b", true, 3.0, "a", nil, 1.0, false, "b"})
	assert.Equal(t, []dataset.Value{1.0, 3.0, "a", "b", false, true}, got)
}

func TestNumericDomainEmpty(t *testing.T) {
	assert.Nil(t, NumericDomain([]dataset.Value{"x"}, 10))
	d := NumericDomain(nums(2, 2), 4)
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, d)
}
