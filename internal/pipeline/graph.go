package pipeline

import (
	"errors"
	"math/rand/v2"

	"github.com/KaramelBytes/manifold-cli/internal/cluster"
	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/divergence"
	"github.com/KaramelBytes/manifold-cli/internal/histogram"
	"github.com/KaramelBytes/manifold-cli/internal/segment"
	"github.com/KaramelBytes/manifold-cli/internal/selector"
	"go.uber.org/zap"
)

// ModelPerformance summarises one model's scores within a segment.
type ModelPerformance struct {
	Model       string              `json:"model"`
	Density     histogram.Histogram `json:"density"`
	Percentiles []float64           `json:"percentiles"`
	Median      float64             `json:"median"`
}

// SegmentPerformance is the performance histogram of one segment.
type SegmentPerformance struct {
	SegmentID     int                `json:"segmentId"`
	NumDataPoints int                `json:"numDataPoints"`
	DataIDs       []int              `json:"dataIds"`
	Data          []ModelPerformance `json:"data"`
}

// Segments holds the row ids per segment, or the error that prevented
// segmenting.
type Segments struct {
	Rows [][]int
	Err  error
}

// Performance holds the performance histograms of every segment.
type Performance struct {
	Segments []SegmentPerformance
	Err      error
}

type clusterConfig struct {
	k       int
	maxIter int
	seed    uint64
}

type lineKey struct {
	segment int
	model   string
}

// Graph derives segments, performance histograms and feature attribution
// from a State. Every node is memoized on the identity of its inputs, so a
// Graph should live as long as the sequence of states it serves.
type Graph struct {
	log *zap.Logger

	x, yPred, yTrue, score *selector.Node[*State, *dataset.Dataset]
	clusteringInput        *selector.Node[*State, *dataset.Dataset]
	segmentsUnsorted       *selector.Node[*State, *Segments]
	perfUnsorted           *selector.Node[*State, *Performance]
	sortedOrder            *selector.Node[*State, []int]
	perf                   *selector.Node[*State, *Performance]
	segments               *selector.Node[*State, *Segments]
	groupRows              *selector.Node[*State, [][]int]
	features               *selector.Node[*State, []divergence.Feature]
	thresholded            *selector.Node[*State, []divergence.Feature]
	lines                  *selector.Factory[*State, lineKey, *histogram.Histogram]
}

var (
	getData       = selector.Func[*State, *dataset.Dataset](func(s *State) *dataset.Dataset { return s.Data })
	getRanges     = selector.Func[*State, dataset.ColumnTypeRanges](func(s *State) dataset.ColumnTypeRanges { return s.Ranges })
	getIsManual   = selector.Func[*State, bool](func(s *State) bool { return s.IsManual })
	getGroups     = selector.Func[*State, [][]int](func(s *State) [][]int { return s.SegmentGroups })
	getThreshold  = selector.Func[*State, float64](func(s *State) float64 { return s.DivergenceThreshold })
	getResolution = selector.Func[*State, int](func(s *State) int { return s.Resolution })
	getPercentile = selector.Func[*State, []float64](func(s *State) []float64 { return s.Percentiles })
)

// getFilters yields filters only in manual mode, so stale ones never shadow
// clustering.
var getFilters = selector.Func[*State, [][]segment.Filter](func(s *State) [][]segment.Filter {
	if !s.IsManual {
		return nil
	}
	return s.SegmentFilters
})

var getCluster = selector.Func[*State, clusterConfig](func(s *State) clusterConfig {
	return clusterConfig{k: s.NClusters, maxIter: s.MaxIterations, seed: s.Seed}
})

// NewGraph wires the derived-state nodes.
func NewGraph(log *zap.Logger) *Graph {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Graph{log: log}

	slicer := func(pick func(dataset.ColumnTypeRanges) dataset.Range) *selector.Node[*State, *dataset.Dataset] {
		return selector.New2(getData, getRanges, func(d *dataset.Dataset, r dataset.ColumnTypeRanges) *dataset.Dataset {
			if d == nil {
				return nil
			}
			out, err := dataset.Slice(d, pick(r))
			if err != nil {
				log.Warn("slice dataset", zap.Error(err))
				return nil
			}
			return out
		})
	}
	g.x = slicer(func(r dataset.ColumnTypeRanges) dataset.Range { return r.X })
	g.yPred = slicer(func(r dataset.ColumnTypeRanges) dataset.Range { return r.YPred })
	g.yTrue = slicer(func(r dataset.ColumnTypeRanges) dataset.Range { return r.YTrue })
	g.score = slicer(func(r dataset.ColumnTypeRanges) dataset.Range { return r.Score })

	// segments are clustered on model performance
	g.clusteringInput = selector.New2(getData, getRanges, func(d *dataset.Dataset, r dataset.ColumnTypeRanges) *dataset.Dataset {
		if d == nil {
			return nil
		}
		out, err := dataset.Gather(d, r.Score.Indices())
		if err != nil {
			log.Warn("gather clustering input", zap.Error(err))
			return nil
		}
		return out
	})

	g.segmentsUnsorted = selector.New4(g.clusteringInput, getData, getCluster, getFilters,
		func(input, all *dataset.Dataset, cfg clusterConfig, filters [][]segment.Filter) *Segments {
			if all == nil {
				return &Segments{Err: dataset.ErrEmptyInput}
			}
			if len(filters) > 0 {
				rows, err := segment.Manual(all, filters)
				return &Segments{Rows: rows, Err: err}
			}
			if input == nil {
				return &Segments{Err: cluster.ErrEmptyInput}
			}
			rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed))
			rows, err := segment.Auto(input, cfg.k, rng, cluster.Options{MaxIterations: cfg.maxIter, Logger: log})
			return &Segments{Rows: rows, Err: err}
		})

	g.perfUnsorted = selector.New4(g.clusteringInput, g.segmentsUnsorted, getResolution, getPercentile,
		func(scores *dataset.Dataset, segs *Segments, res int, qs []float64) *Performance {
			if segs.Err != nil {
				return &Performance{Err: segs.Err}
			}
			if scores == nil {
				return &Performance{Err: cluster.ErrEmptyInput}
			}
			return &Performance{Segments: performance(scores, segs.Rows, res, qs)}
		})

	// ascending by the median score of the first model
	g.sortedOrder = selector.New1(g.perfUnsorted, func(p *Performance) []int {
		if p.Err != nil {
			return nil
		}
		return dataset.SortedOrder(p.Segments, func(s SegmentPerformance) float64 {
			if len(s.Data) == 0 {
				return 0
			}
			return s.Data[0].Median
		})
	})

	// manual segments keep the order of their filters
	g.perf = selector.New3(g.perfUnsorted, getIsManual, g.sortedOrder, func(p *Performance, manual bool, order []int) *Performance {
		if p.Err != nil || manual {
			return p
		}
		sorted := dataset.Apply(p.Segments, order)
		for i := range sorted {
			sorted[i].SegmentID = i
		}
		return &Performance{Segments: sorted}
	})

	g.segments = selector.New3(g.segmentsUnsorted, getIsManual, g.sortedOrder, func(segs *Segments, manual bool, order []int) *Segments {
		if segs.Err != nil || manual {
			return segs
		}
		return &Segments{Rows: dataset.Apply(segs.Rows, order)}
	})

	g.groupRows = selector.New2(g.segments, getGroups, func(segs *Segments, groups [][]int) [][]int {
		if segs.Err != nil {
			return nil
		}
		return segment.GroupRows(segs.Rows, groups, log)
	})

	g.features = selector.New2(g.x, g.groupRows, func(x *dataset.Dataset, rows [][]int) []divergence.Feature {
		if x == nil || len(rows) != 2 {
			return nil
		}
		out := make([]divergence.Feature, 0, x.NumCols())
		for i, f := range x.Fields {
			if !f.Type.Discrete() && f.Type != dataset.Numerical {
				continue
			}
			col := x.Columns[i]
			feat, err := divergence.Attribute(f, dataset.Rows(col, rows[0]), dataset.Rows(col, rows[1]))
			if err != nil {
				log.Warn("feature attribution", zap.String("feature", f.Name), zap.Error(err))
				continue
			}
			out = append(out, feat)
		}
		return divergence.Rank(out)
	})

	g.thresholded = selector.New2(g.features, getThreshold, divergence.Threshold)

	g.lines = selector.NewFactory(func(k lineKey) *selector.Node[*State, *histogram.Histogram] {
		return selector.New1(g.perf, func(p *Performance) *histogram.Histogram {
			if p.Err != nil || k.segment < 0 || k.segment >= len(p.Segments) {
				return nil
			}
			for _, m := range p.Segments[k.segment].Data {
				if m.Model == k.model {
					h := m.Density
					return &h
				}
			}
			return nil
		})
	})
	return g
}

func performance(scores *dataset.Dataset, segs [][]int, res int, qs []float64) []SegmentPerformance {
	cols := make([][]float64, scores.NumCols())
	for i, c := range scores.Columns {
		cols[i] = c.Floats()
	}
	out := make([]SegmentPerformance, len(segs))
	for s, ids := range segs {
		sp := SegmentPerformance{SegmentID: s, NumDataPoints: len(ids), DataIDs: ids}
		for m, col := range cols {
			vals := make([]float64, len(ids))
			for i, id := range ids {
				vals[i] = col[id]
			}
			sp.Data = append(sp.Data, ModelPerformance{
				Model:       dataset.ModelName(m),
				Density:     histogram.Density(vals, res),
				Percentiles: histogram.Percentiles(vals, qs),
				Median:      histogram.Percentiles(vals, []float64{0.5})[0],
			})
		}
		out[s] = sp
	}
	return out
}

// X returns the feature columns.
func (g *Graph) X(s *State) *dataset.Dataset { return g.x.Select(s) }

// YPred returns the prediction columns.
func (g *Graph) YPred(s *State) *dataset.Dataset { return g.yPred.Select(s) }

// YTrue returns the ground truth column.
func (g *Graph) YTrue(s *State) *dataset.Dataset { return g.yTrue.Select(s) }

// Score returns the score columns.
func (g *Graph) Score(s *State) *dataset.Dataset { return g.score.Select(s) }

// Segments returns the row ids of every segment: automatic segments in
// ascending order of the first model's median score, manual segments in
// filter order.
func (g *Graph) Segments(s *State) ([][]int, error) {
	segs := g.segments.Select(s)
	return segs.Rows, segs.Err
}

// Performance returns the performance histograms in the order of Segments,
// so index i and SegmentID i describe the rows of Segments(s)[i].
func (g *Graph) Performance(s *State) ([]SegmentPerformance, error) {
	p := g.perf.Select(s)
	return p.Segments, p.Err
}

// GroupRows returns the row ids of the treatment and control groups.
func (g *Graph) GroupRows(s *State) ([][]int, error) {
	if _, err := g.Segments(s); err != nil {
		return nil, err
	}
	rows := g.groupRows.Select(s)
	if len(rows) != 2 {
		return nil, ErrInvalidGroups
	}
	return rows, nil
}

// Features returns every attributable feature ranked by divergence.
func (g *Graph) Features(s *State) ([]divergence.Feature, error) {
	if _, err := g.GroupRows(s); err != nil {
		return nil, err
	}
	return g.features.Select(s), nil
}

// TopFeatures returns the ranked features at or above the divergence
// threshold.
func (g *Graph) TopFeatures(s *State) ([]divergence.Feature, error) {
	if _, err := g.GroupRows(s); err != nil {
		return nil, err
	}
	return g.thresholded.Select(s), nil
}

// Line returns the performance density of one model in segment segmentID,
// indexed as in Segments.
// Repeated calls with the same key share one memoized node.
func (g *Graph) Line(s *State, segmentID int, model string) (*histogram.Histogram, error) {
	if _, err := g.Performance(s); err != nil {
		return nil, err
	}
	h := g.lines.Get(lineKey{segment: segmentID, model: model}).Select(s)
	if h == nil {
		return nil, errors.New("no such segment or model")
	}
	return h, nil
}
