// Package pipeline holds the segmentation state of one loaded comparison and
// the memoized graph that derives performance histograms and feature
// attribution from it.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/manifold-cli/internal/cluster"
	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/feature"
	"github.com/KaramelBytes/manifold-cli/internal/histogram"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/KaramelBytes/manifold-cli/internal/metric"
	"github.com/KaramelBytes/manifold-cli/internal/segment"
	"go.uber.org/zap"
)

// DefaultResolution is the number of bins of performance histograms.
const DefaultResolution = 50

// ErrInvalidGroups is returned when segment groups are not two non-empty,
// disjoint lists of existing segment ids.
var ErrInvalidGroups = errors.New("invalid segment groups")

// State is an immutable snapshot. Transitions return a new State that shares
// every unchanged field with its parent, so derived values keyed on those
// fields stay cached.
type State struct {
	Data   *dataset.Dataset
	Ranges dataset.ColumnTypeRanges
	Models dataset.ModelsMeta
	Metric *metric.Metric

	IsManual       bool
	BaseCols       []int
	SegmentFilters [][]segment.Filter
	NClusters      int
	SegmentGroups  [][]int

	DivergenceThreshold float64
	// Resolution is the bin count of performance histograms.
	Resolution int
	// FeatureResolution is the bin count of numerical domains.
	FeatureResolution int
	Percentiles       []float64
	MaxIterations     int
	Seed              uint64
}

// Config seeds a State. Zero values fall back to defaults.
type Config struct {
	Metric              *metric.Metric
	BaseCols            []int
	SegmentFilters      [][]segment.Filter
	NClusters           int
	SegmentGroups       [][]int
	DivergenceThreshold float64
	Resolution          int
	FeatureResolution   int
	Percentiles         []float64
	MaxIterations       int
	Seed                uint64
}

// New builds the initial state of a loaded comparison and runs the default
// chain over it.
func New(res *loader.Result, cfg Config, log *zap.Logger) (*State, error) {
	if res == nil || res.Data == nil {
		return nil, dataset.ErrEmptyInput
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &State{
		Data:                res.Data,
		Ranges:              res.Ranges,
		Models:              res.Models,
		Metric:              res.Metric,
		BaseCols:            cfg.BaseCols,
		SegmentFilters:      cfg.SegmentFilters,
		IsManual:            len(cfg.SegmentFilters) > 0,
		NClusters:           cfg.NClusters,
		SegmentGroups:       cfg.SegmentGroups,
		DivergenceThreshold: cfg.DivergenceThreshold,
		Resolution:          cfg.Resolution,
		FeatureResolution:   cfg.FeatureResolution,
		Percentiles:         cfg.Percentiles,
		MaxIterations:       cfg.MaxIterations,
		Seed:                cfg.Seed,
	}
	if s.Resolution <= 0 {
		s.Resolution = DefaultResolution
	}
	if s.FeatureResolution <= 0 {
		s.FeatureResolution = feature.DefaultResolution
	}
	if len(s.Percentiles) == 0 {
		s.Percentiles = histogram.DefaultPercentiles
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = cluster.DefaultMaxIterations
	}
	if cfg.Metric != nil && cfg.Metric != s.Metric {
		if cfg.Metric.Task != metric.TaskFor(s.Models.NClasses) {
			log.Warn("metric does not fit the task, keeping default",
				zap.String("metric", cfg.Metric.Name), zap.String("default", s.Metric.Name))
		} else {
			next, err := s.WithMetric(cfg.Metric)
			if err != nil {
				return nil, err
			}
			s = next
		}
	}
	return s.withDefaults(log), nil
}

// defaultStep validates one key and resets it when invalid. Steps run in
// order since later keys depend on earlier ones.
type defaultStep struct {
	key   string
	apply func(s *State) (reset bool)
}

var defaultChain = []defaultStep{
	{"baseCols", func(s *State) bool {
		if len(s.BaseCols) > 0 && validCols(s.BaseCols, s.Data.NumCols()) {
			return false
		}
		reset := s.BaseCols != nil
		s.BaseCols = s.Ranges.Score.Indices()
		return reset
	}},
	{"nClusters", func(s *State) bool {
		n := s.Data.NumRows()
		if s.NClusters >= 1 && s.NClusters <= n {
			return false
		}
		reset := s.NClusters != 0
		s.NClusters = min(segment.DefaultClusters, n)
		return reset
	}},
	{"segmentFilters", func(s *State) bool {
		if !s.IsManual {
			s.SegmentFilters = nil
			return false
		}
		if validFilters(s.SegmentFilters, s.Data.NumCols()) {
			return false
		}
		s.IsManual = false
		s.SegmentFilters = nil
		return true
	}},
	{"segmentGroups", func(s *State) bool {
		if segment.ValidGroups(s.SegmentGroups, s.NSegments()) {
			return false
		}
		reset := s.SegmentGroups != nil
		s.SegmentGroups = segment.DefaultGroups(s.NSegments())
		return reset
	}},
}

func (s *State) withDefaults(log *zap.Logger) *State {
	next := *s
	for _, step := range defaultChain {
		if step.apply(&next) {
			log.Warn("invalid state value reset to default", zap.String("key", step.key))
		}
	}
	return &next
}

// NSegments is the number of segments the state asks for.
func (s *State) NSegments() int {
	if s.IsManual {
		return len(s.SegmentFilters)
	}
	return s.NClusters
}

// WithNClusters switches to automatic segmentation with k clusters and
// resets the segment groups.
func (s *State) WithNClusters(k int) (*State, error) {
	if k < 1 || k > s.Data.NumRows() {
		return nil, fmt.Errorf("%w: %d clusters for %d rows", cluster.ErrInvalidClusterCount, k, s.Data.NumRows())
	}
	next := *s
	next.IsManual = false
	next.SegmentFilters = nil
	next.NClusters = k
	next.SegmentGroups = segment.DefaultGroups(k)
	return &next, nil
}

// WithAutoSegmentation switches to automatic segmentation, keeping the
// cluster count.
func (s *State) WithAutoSegmentation() *State {
	next := *s
	next.IsManual = false
	next.SegmentFilters = nil
	next.SegmentGroups = segment.DefaultGroups(next.NClusters)
	return &next
}

// WithManualSegmentation switches to manual segmentation using the default
// filters of the base columns.
func (s *State) WithManualSegmentation() (*State, error) {
	filters, err := segment.DefaultFiltersFromBaseCols(s.Data, s.BaseCols)
	if err != nil {
		return nil, fmt.Errorf("default filters: %w", err)
	}
	return s.WithSegmentFilters(filters)
}

// WithSegmentFilters switches to manual segmentation with one segment per
// filter list. An empty list switches back to automatic segmentation.
func (s *State) WithSegmentFilters(filters [][]segment.Filter) (*State, error) {
	if len(filters) == 0 {
		return s.WithAutoSegmentation(), nil
	}
	if !validFilters(filters, s.Data.NumCols()) {
		return nil, fmt.Errorf("segment filters reference columns outside [0,%d)", s.Data.NumCols())
	}
	next := *s
	next.IsManual = true
	next.SegmentFilters = filters
	next.SegmentGroups = segment.DefaultGroups(len(filters))
	return &next, nil
}

// WithSegmentGroups sets the treatment and control groups.
func (s *State) WithSegmentGroups(groups [][]int) (*State, error) {
	if !segment.ValidGroups(groups, s.NSegments()) {
		return nil, fmt.Errorf("%w: %v for %d segments", ErrInvalidGroups, groups, s.NSegments())
	}
	next := *s
	next.SegmentGroups = groups
	return &next, nil
}

// WithBaseCols sets the columns manual default filters are built from. In
// manual mode the filters are rebuilt.
func (s *State) WithBaseCols(cols []int) (*State, error) {
	if len(cols) == 0 || !validCols(cols, s.Data.NumCols()) {
		return nil, fmt.Errorf("base columns %v outside [0,%d)", cols, s.Data.NumCols())
	}
	next := *s
	next.BaseCols = cols
	if !next.IsManual {
		return &next, nil
	}
	return next.WithManualSegmentation()
}

// WithDivergenceThreshold sets the feature cutoff.
func (s *State) WithDivergenceThreshold(t float64) *State {
	next := *s
	next.DivergenceThreshold = t
	return &next
}

// WithMetric rescores every model with m. The feature, prediction and ground
// truth columns are shared with the parent state.
func (s *State) WithMetric(m *metric.Metric) (*State, error) {
	if m == nil {
		return nil, errors.New("no metric")
	}
	if m.Task != metric.TaskFor(s.Models.NClasses) {
		return nil, fmt.Errorf("metric %s needs a %s task, got %d classes", m.Name, m.Task, s.Models.NClasses)
	}
	head, err := dataset.Slice(s.Data, dataset.Range{Start: 0, End: s.Ranges.YTrue.End})
	if err != nil {
		return nil, err
	}
	scores, err := metric.ScoreColumns(s.Data, s.Ranges, s.Models, m, s.FeatureResolution)
	if err != nil {
		return nil, err
	}
	data, err := dataset.Concat(head, scores)
	if err != nil {
		return nil, err
	}
	next := *s
	next.Data = data
	next.Metric = m
	return &next, nil
}

func validCols(cols []int, n int) bool {
	for _, c := range cols {
		if c < 0 || c >= n {
			return false
		}
	}
	return true
}

func validFilters(segments [][]segment.Filter, nCols int) bool {
	if len(segments) == 0 {
		return false
	}
	for _, fs := range segments {
		for _, f := range fs {
			if f.Key < 0 || f.Key >= nCols {
				return false
			}
			if f.Type == segment.Func && f.Predicate == nil {
				return false
			}
		}
	}
	return true
}
