package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/manifold-cli/internal/analysis"
	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSources writes 20 rows where the single regression model errs on the
// rows with c = b.
func writeSources(t *testing.T) loader.Sources {
	t.Helper()
	dir := t.TempDir()
	var x, pred, truth strings.Builder
	x.WriteString("f,c\n")
	pred.WriteString("y\n")
	truth.WriteString("y\n")
	for r := 0; r < 20; r++ {
		c, p := "a", 0.1+float64(r)*0.01
		if r >= 10 {
			c, p = "b", 4+float64(r)*0.01
		}
		fmt.Fprintf(&x, "%d,%s\n", r%10, c)
		fmt.Fprintf(&pred, "%g\n", p)
		truth.WriteString("0\n")
	}
	write := func(name, text string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(text), 0o644))
		return p
	}
	return loader.Sources{
		X:     write("x.csv", x.String()),
		YPred: []string{write("pred.csv", pred.String())},
		YTrue: write("y.csv", truth.String()),
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	opt := analysis.DefaultOptions()
	opt.NClusters = 2
	opt.Seed = 11
	s := New(opt, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, ts *httptest.Server, path string, params any, out any) int {
	t.Helper()
	u := ts.URL + path
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		u += "?params=" + url.QueryEscape(string(b))
	}
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestEndpointsRequireData(t *testing.T) {
	_, ts := newTestServer(t)
	for _, path := range []string{"/load_data", "/models_performance", "/features_distribution"} {
		var body map[string]string
		assert.Equal(t, http.StatusConflict, get(t, ts, path, nil, &body), path)
		assert.Equal(t, "no data loaded", body["error"])
	}

	resp, err := http.Post(ts.URL+"/models_performance", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLoadData(t *testing.T) {
	_, ts := newTestServer(t)
	src := writeSources(t)

	var meta DataMeta
	code := get(t, ts, "/load_data", LoadParams{X: src.X, YPred: src.YPred, YTrue: src.YTrue}, &meta)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, meta.BatchID)
	assert.Equal(t, 20, meta.Rows)
	assert.Len(t, meta.Features, 2)
	assert.Equal(t, 1, meta.Models.NModels)
	assert.Equal(t, "absolute_error", meta.Metric.Name)
	require.Len(t, meta.Predictions, 1)
	assert.Equal(t, dataset.RolePrediction, meta.Predictions[0].Role)
	require.Len(t, meta.GroundTruth, 1)
	assert.Equal(t, dataset.GroundTruthName, meta.GroundTruth[0].Name)

	// without params the loaded data is described again
	var again DataMeta
	require.Equal(t, http.StatusOK, get(t, ts, "/load_data", nil, &again))
	assert.Equal(t, meta.BatchID, again.BatchID)

	var body map[string]string
	code = get(t, ts, "/load_data", LoadParams{X: src.X}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["error"], "schema mismatch")

	code = get(t, ts, "/load_data", LoadParams{X: src.X, YPred: src.YPred, YTrue: src.X}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// failed loads keep the previous data
	require.Equal(t, http.StatusOK, get(t, ts, "/load_data", nil, &again))
	assert.Equal(t, meta.BatchID, again.BatchID)
}

func TestModelsPerformanceAndFeatures(t *testing.T) {
	s, ts := newTestServer(t)
	require.NoError(t, s.Load(t.Context(), writeSources(t)))

	var perf ModelsPerformance
	require.Equal(t, http.StatusOK, get(t, ts, "/models_performance", nil, &perf))
	assert.False(t, perf.Manual)
	require.Len(t, perf.Segments, 2)
	assert.Len(t, perf.Segments[0].DataIDs, 10)
	assert.Less(t, perf.Segments[0].Data[0].Median, perf.Segments[1].Data[0].Median)

	var feats FeaturesDistribution
	require.Equal(t, http.StatusOK, get(t, ts, "/features_distribution", nil, &feats))
	require.Len(t, feats.Groups, 2)
	assert.Equal(t, []int{1}, feats.Groups[0].Segments)
	require.NotEmpty(t, feats.Attribution)
	assert.Equal(t, "c", feats.Attribution[0].Name)

	filters := []string{"c:include:b", "c:include:a", "f:range:0,4"}
	require.Equal(t, http.StatusOK, get(t, ts, "/models_performance", Params{SegmentFilters: &filters}, &perf))
	assert.True(t, perf.Manual)
	require.Len(t, perf.Segments, 3)
	assert.Equal(t, "c:include:b", perf.Segments[0].Filters)

	// the manual state is kept; groups refer to filter order
	threshold := 0.5
	require.Equal(t, http.StatusOK, get(t, ts, "/features_distribution",
		Params{SegmentGroups: [][]int{{0}, {1}}, DivergenceThreshold: &threshold}, &feats))
	assert.Equal(t, 10, feats.Groups[0].Rows)
	assert.Equal(t, 0.5, feats.Threshold)
	require.Len(t, feats.Attribution, 1)
	assert.Equal(t, "c", feats.Attribution[0].Name)

	empty := []string{}
	k := 3
	require.Equal(t, http.StatusOK, get(t, ts, "/models_performance", Params{SegmentFilters: &empty, NClusters: &k}, &perf))
	assert.False(t, perf.Manual)
	assert.Len(t, perf.Segments, 3)
}

func TestInvalidParams(t *testing.T) {
	s, ts := newTestServer(t)
	require.NoError(t, s.Load(t.Context(), writeSources(t)))

	cases := []struct {
		name   string
		params any
		want   string
	}{
		{"groups overlap", Params{SegmentGroups: [][]int{{0, 1}, {1}}}, "segment groups"},
		{"unknown metric", Params{Metric: "accuracy"}, "unknown metric"},
		{"task mismatch", Params{Metric: "log_loss"}, "log_loss"},
		{"bad filter", Params{SegmentFilters: &[]string{"nope:include:a"}}, "segment 0"},
		{"bad base cols", Params{BaseCols: []int{99}}, "base"},
		{"unknown field", map[string]any{"clusters": 3}, "invalid params"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]string
			assert.Equal(t, http.StatusBadRequest, get(t, ts, "/models_performance", tc.params, &body))
			assert.Contains(t, body["error"], tc.want)
		})
	}

	// rejected params leave the state alone
	var perf ModelsPerformance
	require.Equal(t, http.StatusOK, get(t, ts, "/models_performance", nil, &perf))
	assert.Len(t, perf.Segments, 2)
}

func TestWriteJSONReportsEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"median": math.Inf(1)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "encode response")

	rec = httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]int{"rows": 3})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"rows":3}`, rec.Body.String())
}
