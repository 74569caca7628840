// Package server exposes a loaded dataset and its segmentation pipeline over
// HTTP. Each request may change pipeline parameters; the resulting state is
// kept for the next request, so the memoized graph only recomputes what the
// change touches.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KaramelBytes/manifold-cli/internal/analysis"
	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/divergence"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/KaramelBytes/manifold-cli/internal/metric"
	"github.com/KaramelBytes/manifold-cli/internal/pipeline"
	"github.com/KaramelBytes/manifold-cli/internal/segment"
	"go.uber.org/zap"
)

// Params are the pipeline settings a request may change. Absent fields keep
// the current value; an empty segment_filters list switches back to automatic
// segmentation.
type Params struct {
	NClusters           *int      `json:"n_clusters,omitempty"`
	SegmentFilters      *[]string `json:"segment_filters,omitempty"`
	SegmentGroups       [][]int   `json:"segment_groups,omitempty"`
	Metric              string    `json:"metric,omitempty"`
	DivergenceThreshold *float64  `json:"divergence_threshold,omitempty"`
	BaseCols            []int     `json:"base_cols,omitempty"`
}

// LoadParams name the files to (re)load. All three groups must be set
// together.
type LoadParams struct {
	X     string   `json:"x"`
	YPred []string `json:"y_pred"`
	YTrue string   `json:"y_true"`
}

// DataMeta describes the loaded dataset.
type DataMeta struct {
	BatchID  string             `json:"batchId"`
	Sources  loader.Sources     `json:"sources"`
	Rows     int                `json:"rows"`
	Features []dataset.Field    `json:"features"`
	Dropped  []string           `json:"dropped,omitempty"`
	Models   dataset.ModelsMeta `json:"models"`
	Metric   *metric.Metric     `json:"metric"`

	// Predictions holds one field per model and class.
	Predictions []dataset.Field `json:"predictions"`
	GroundTruth []dataset.Field `json:"groundTruth"`
}

// ModelsPerformance is the /models_performance payload.
type ModelsPerformance struct {
	Manual   bool                      `json:"manual"`
	Metric   *metric.Metric            `json:"metric"`
	Segments []analysis.SegmentSummary `json:"segments"`
}

// FeaturesDistribution is the /features_distribution payload.
type FeaturesDistribution struct {
	Groups      []analysis.GroupSummary `json:"segmentGroups"`
	Threshold   float64                 `json:"divergenceThreshold"`
	Attribution []divergence.Feature    `json:"featureAttribution"`
}

// Server holds one loaded dataset and the pipeline state derived from it.
type Server struct {
	log *zap.Logger
	opt analysis.Options

	mu    sync.Mutex
	src   loader.Sources
	res   *loader.Result
	state *pipeline.State
	graph *pipeline.Graph
}

// New returns a server with nothing loaded. opt supplies the initial
// pipeline settings of every load.
func New(opt analysis.Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, opt: opt}
}

// Load reads the sources and resets the pipeline state. On error the
// previously loaded data is kept.
func (s *Server) Load(ctx context.Context, src loader.Sources) error {
	var m *metric.Metric
	if s.opt.Metric != "" {
		var err error
		if m, err = analysis.LookupMetric(s.opt.Metric); err != nil {
			return err
		}
	}
	res, err := loader.Load(ctx, src, loader.Options{
		CSV:        s.opt.CSV,
		Resolution: s.opt.FeatureResolution,
		Metric:     m,
		Logger:     s.log,
	})
	if err != nil {
		return err
	}
	state, err := analysis.NewState(res, s.opt, s.log)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src, s.res, s.state = src, res, state
	s.graph = pipeline.NewGraph(s.log)
	return nil
}

// Handler routes the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/load_data", s.handleLoadData)
	mux.HandleFunc("/models_performance", s.handleModelsPerformance)
	mux.HandleFunc("/features_distribution", s.handleFeaturesDistribution)
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleLoadData(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	var p LoadParams
	if !decodeParams(w, r, &p) {
		return
	}
	if p.X != "" || len(p.YPred) > 0 || p.YTrue != "" {
		src := loader.Sources{X: p.X, YPred: p.YPred, YTrue: p.YTrue}
		if err := s.Load(r.Context(), src); err != nil {
			s.log.Warn("load failed", zap.Error(err))
			writeJSON(w, loadStatus(err), map[string]string{"error": err.Error()})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no data loaded"})
		return
	}
	meta := DataMeta{
		BatchID:  s.res.BatchID,
		Sources:  s.src,
		Rows:     s.state.Data.NumRows(),
		Features: s.graph.X(s.state).Fields,
		Dropped:  s.res.Dropped,
		Models:   s.state.Models,
		Metric:   s.state.Metric,
	}
	if d := s.graph.YPred(s.state); d != nil {
		meta.Predictions = d.Fields
	}
	if d := s.graph.YTrue(s.state); d != nil {
		meta.GroundTruth = d.Fields
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleModelsPerformance(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ModelsPerformance{
		Manual:   rep.Manual,
		Metric:   rep.Metric,
		Segments: rep.Segments,
	})
}

func (s *Server) handleFeaturesDistribution(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FeaturesDistribution{
		Groups:      rep.Groups,
		Threshold:   rep.Threshold,
		Attribution: rep.Attribution,
	})
}

// report applies the request params to the current state, keeps the result
// and renders it. It writes the error response itself when ok is false.
func (s *Server) report(w http.ResponseWriter, r *http.Request) (rep *analysis.Report, ok bool) {
	if !allowGet(w, r) {
		return nil, false
	}
	var p Params
	if !decodeParams(w, r, &p) {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no data loaded"})
		return nil, false
	}
	next, err := apply(s.state, p)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	rep, err = analysis.Build(s.graph, next, s.src, s.res, 0)
	if err != nil {
		s.log.Error("build report", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	s.state = next
	return rep, true
}

// apply runs the transitions the params ask for. Metric and base columns go
// first since manual filters derived from base columns depend on them.
func apply(s *pipeline.State, p Params) (*pipeline.State, error) {
	var err error
	if p.Metric != "" {
		m, lerr := analysis.LookupMetric(p.Metric)
		if lerr != nil {
			return nil, lerr
		}
		if s, err = s.WithMetric(m); err != nil {
			return nil, err
		}
	}
	if p.BaseCols != nil {
		if s, err = s.WithBaseCols(p.BaseCols); err != nil {
			return nil, err
		}
	}
	if p.NClusters != nil {
		if s, err = s.WithNClusters(*p.NClusters); err != nil {
			return nil, err
		}
	}
	if p.SegmentFilters != nil {
		var filters [][]segment.Filter
		for i, text := range *p.SegmentFilters {
			fs, err := segment.ParseSegment(text, s.Data)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
			filters = append(filters, fs)
		}
		if s, err = s.WithSegmentFilters(filters); err != nil {
			return nil, err
		}
	}
	if p.SegmentGroups != nil {
		if s, err = s.WithSegmentGroups(p.SegmentGroups); err != nil {
			return nil, err
		}
	}
	if p.DivergenceThreshold != nil {
		s = s.WithDivergenceThreshold(*p.DivergenceThreshold)
	}
	return s, nil
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

// decodeParams reads the JSON "params" query value into v. A missing value
// leaves v untouched.
func decodeParams(w http.ResponseWriter, r *http.Request, v any) bool {
	raw := r.URL.Query().Get("params")
	if raw == "" {
		return true
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid params: %v", err)})
		return false
	}
	return true
}

func loadStatus(err error) int {
	switch {
	case errors.Is(err, loader.ErrSchemaMismatch),
		errors.Is(err, loader.ErrRowCountMismatch),
		errors.Is(err, loader.ErrParseFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrInvalidGroups):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSON encodes before writing the status line, so an unencodable
// payload turns into a 500 rather than a truncated 200.
func writeJSON(w http.ResponseWriter, code int, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		code = http.StatusInternalServerError
		b, _ = json.Marshal(map[string]string{"error": "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(b, '\n'))
}
