package analysis

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/dataset"
	"github.com/KaramelBytes/manifold-cli/internal/divergence"
	"github.com/KaramelBytes/manifold-cli/internal/feature"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/KaramelBytes/manifold-cli/internal/metric"
	"github.com/KaramelBytes/manifold-cli/internal/pipeline"
	"github.com/KaramelBytes/manifold-cli/internal/segment"
	"github.com/KaramelBytes/manifold-cli/internal/utils"
	"go.uber.org/zap"
)

// Options controls a segmentation run.
type Options struct {
	CSV loader.CSVOptions
	// NClusters is the number of automatic segments.
	NClusters     int
	MaxIterations int
	// Segments switches to manual segmentation: one filter expression per
	// segment, filters joined by ';' (see segment.ParseSegment).
	Segments []string
	// Groups are the treatment and control segment ids. Empty means the
	// default split.
	Groups [][]int
	// Metric names the score function; empty picks the task default.
	Metric              string
	DivergenceThreshold float64
	// Resolution is the bin count of performance histograms.
	Resolution int
	// FeatureResolution is the bin count of numerical feature domains.
	FeatureResolution int
	Percentiles       []float64
	// TopFeatures limits the attribution section of the markdown report;
	// 0 means all.
	TopFeatures int
	// Seed for centroid initialisation; 0 picks a random seed.
	Seed uint64
}

// DefaultOptions returns reasonable defaults for a segmentation run.
func DefaultOptions() Options {
	return Options{
		NClusters:         segment.DefaultClusters,
		Resolution:        pipeline.DefaultResolution,
		FeatureResolution: feature.DefaultResolution,
		TopFeatures:       10,
	}
}

// ScoreStat summarises one model's scores over a set of rows.
type ScoreStat struct {
	Model  string  `json:"model"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// SegmentSummary is one segment of the report.
type SegmentSummary struct {
	pipeline.SegmentPerformance
	Filters string      `json:"filters,omitempty"`
	Scores  []ScoreStat `json:"scores"`
}

// GroupSummary is the treatment or control group.
type GroupSummary struct {
	Name     string      `json:"name"`
	Segments []int       `json:"segments"`
	Rows     int         `json:"rows"`
	Scores   []ScoreStat `json:"scores"`
}

// Report is a markdown-friendly summary of one segmentation run.
type Report struct {
	BatchID     string               `json:"batchId"`
	Sources     loader.Sources       `json:"sources"`
	Rows        int                  `json:"rows"`
	Features    []dataset.Field      `json:"features"`
	Dropped     []string             `json:"dropped,omitempty"`
	Models      dataset.ModelsMeta   `json:"models"`
	Metric      *metric.Metric       `json:"metric"`
	Manual      bool                 `json:"manual"`
	NClusters   int                  `json:"nClusters"`
	Seed        uint64               `json:"seed"`
	Percentiles []float64            `json:"percentiles"`
	Segments    []SegmentSummary     `json:"segments"`
	Groups      []GroupSummary       `json:"segmentGroups"`
	Threshold   float64              `json:"divergenceThreshold"`
	Attribution []divergence.Feature `json:"featureAttribution"`
	TopFeatures int                  `json:"-"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// Run loads the sources, segments the rows and attributes the difference
// between the segment groups to features.
func Run(ctx context.Context, src loader.Sources, opt Options, log *zap.Logger) (*Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var m *metric.Metric
	if opt.Metric != "" {
		var err error
		if m, err = LookupMetric(opt.Metric); err != nil {
			return nil, err
		}
	}
	res, err := loader.Load(ctx, src, loader.Options{
		CSV:        opt.CSV,
		Resolution: opt.FeatureResolution,
		Metric:     m,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	return FromResult(res, src, opt, log)
}

// FromResult runs the segmentation over already loaded data.
func FromResult(res *loader.Result, src loader.Sources, opt Options, log *zap.Logger) (*Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s, err := NewState(res, opt, log)
	if err != nil {
		return nil, err
	}
	return Build(pipeline.NewGraph(log), s, src, res, opt.TopFeatures)
}

// NewState builds the initial pipeline state of a run: segment filters are
// parsed against the loaded data and a zero seed is replaced by a random one.
func NewState(res *loader.Result, opt Options, log *zap.Logger) (*pipeline.State, error) {
	seed := opt.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	var filters [][]segment.Filter
	for i, text := range opt.Segments {
		fs, err := segment.ParseSegment(text, res.Data)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		filters = append(filters, fs)
	}
	if opt.NClusters > res.Data.NumRows() {
		return nil, fmt.Errorf("%d clusters for %d rows", opt.NClusters, res.Data.NumRows())
	}
	s, err := pipeline.New(res, pipeline.Config{
		SegmentFilters:      filters,
		NClusters:           opt.NClusters,
		DivergenceThreshold: opt.DivergenceThreshold,
		Resolution:          opt.Resolution,
		FeatureResolution:   opt.FeatureResolution,
		Percentiles:         opt.Percentiles,
		MaxIterations:       opt.MaxIterations,
		Seed:                seed,
	}, log)
	if err != nil {
		return nil, err
	}
	if len(opt.Groups) > 0 {
		return s.WithSegmentGroups(opt.Groups)
	}
	return s, nil
}

// Build renders the report of one pipeline state.
func Build(g *pipeline.Graph, s *pipeline.State, src loader.Sources, res *loader.Result, top int) (*Report, error) {
	perf, err := g.Performance(s)
	if err != nil {
		return nil, fmt.Errorf("segment rows: %w", err)
	}
	groupRows, err := g.GroupRows(s)
	if err != nil {
		return nil, err
	}
	attribution, err := g.TopFeatures(s)
	if err != nil {
		return nil, err
	}

	r := &Report{
		BatchID:     res.BatchID,
		Sources:     src,
		Rows:        s.Data.NumRows(),
		Features:    g.X(s).Fields,
		Dropped:     res.Dropped,
		Models:      s.Models,
		Metric:      s.Metric,
		Manual:      s.IsManual,
		NClusters:   s.NClusters,
		Seed:        s.Seed,
		Percentiles: s.Percentiles,
		Threshold:   s.DivergenceThreshold,
		Attribution: attribution,
		TopFeatures: top,
	}
	scores := g.Score(s)

	perfRows := make([][]int, len(perf))
	for i, p := range perf {
		perfRows[i] = p.DataIDs
	}
	segScores, err := scoreStats(scores, perfRows)
	if err != nil {
		return nil, err
	}
	for i, p := range perf {
		r.Segments = append(r.Segments, SegmentSummary{SegmentPerformance: p, Scores: segScores[i]})
	}
	if s.IsManual {
		for i := range r.Segments {
			if i < len(s.SegmentFilters) {
				r.Segments[i].Filters = filterText(s.SegmentFilters[i])
			}
		}
	}

	groupScores, err := scoreStats(scores, groupRows)
	if err != nil {
		return nil, err
	}
	for i, name := range []string{"treatment", "control"} {
		r.Groups = append(r.Groups, GroupSummary{
			Name:     name,
			Segments: s.SegmentGroups[i],
			Rows:     len(groupRows[i]),
			Scores:   groupScores[i],
		})
	}
	r.Warnings = notes(r, perfRows)
	return r, nil
}

// scoreStats stacks the score rows of every row set under a set label and
// aggregates mean and median per model.
func scoreStats(scores *dataset.Dataset, sets [][]int) ([][]ScoreStat, error) {
	out := make([][]ScoreStat, len(sets))
	if scores == nil || scores.NumCols() == 0 {
		return out, nil
	}
	stacked := &dataset.Dataset{
		Columns: make([]dataset.Column, scores.NumCols()+1),
		Fields: []dataset.Field{{
			Name:            "set",
			Type:            dataset.Categorical,
			TableFieldIndex: 1,
			DataType:        dataset.String,
		}},
	}
	for i, f := range scores.Fields {
		f.TableFieldIndex = i + 2
		stacked.Fields = append(stacked.Fields, f)
	}
	for i, rows := range sets {
		label := fmt.Sprintf("set_%d", i)
		for _, row := range rows {
			stacked.Columns[0] = append(stacked.Columns[0], label)
			for c, col := range scores.Columns {
				stacked.Columns[c+1] = append(stacked.Columns[c+1], col[row])
			}
		}
	}
	include := make([]int, scores.NumCols())
	for i := range include {
		include[i] = i + 1
	}
	agg, err := dataset.Aggregate(stacked, stacked.Fields[0],
		dataset.AggregateFuncs{All: []dataset.Aggregator{dataset.Mean, dataset.Median}}, include)
	if err != nil {
		return nil, fmt.Errorf("aggregate scores: %w", err)
	}
	for k, key := range agg.Columns[0] {
		var i int
		if _, err := fmt.Sscanf(key.(string), "set_%d", &i); err != nil {
			return nil, fmt.Errorf("aggregate scores: bad set label %v", key)
		}
		for m := 0; m < scores.NumCols(); m++ {
			mean, _ := dataset.AsFloat(agg.Columns[1+2*m][k])
			med, _ := dataset.AsFloat(agg.Columns[2+2*m][k])
			out[i] = append(out[i], ScoreStat{Model: dataset.ModelName(m), Mean: mean, Median: med})
		}
	}
	return out, nil
}

func notes(r *Report, segs [][]int) []string {
	var out []string
	if len(r.Dropped) > 0 {
		out = append(out, fmt.Sprintf("Dropped %d invalid feature column(s): %s", len(r.Dropped), strings.Join(r.Dropped, ", ")))
	}
	if !r.Manual {
		out = append(out, fmt.Sprintf("Automatic segmentation with seed %d; rerun with the same seed to reproduce.", r.Seed))
		return out
	}
	covered := map[int]int{}
	for i, rows := range segs {
		if len(rows) == 0 {
			out = append(out, fmt.Sprintf("Segment %d matches no rows.", i))
		}
		for _, row := range rows {
			covered[row]++
		}
	}
	overlap := 0
	for _, n := range covered {
		if n > 1 {
			overlap++
		}
	}
	if missing := r.Rows - len(covered); missing > 0 {
		out = append(out, fmt.Sprintf("%d row(s) fall in no segment.", missing))
	}
	if overlap > 0 {
		out = append(out, fmt.Sprintf("%d row(s) fall in more than one segment.", overlap))
	}
	return out
}

func filterText(fs []segment.Filter) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return strings.Join(parts, ";")
}

// LookupMetric finds a metric by name; the error lists the known names.
func LookupMetric(name string) (*metric.Metric, error) {
	m, ok := metric.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q (have %s)", name, metricNames())
	}
	return m, nil
}

func metricNames() string {
	var names []string
	for _, m := range metric.All() {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return utils.PrettyJSON(r)
}

// Markdown renders the report as LLM- and human-friendly markdown sections.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	b.WriteString(fmt.Sprintf("Batch: %s\n", r.BatchID))
	if r.Sources.X != "" {
		b.WriteString(fmt.Sprintf("Features file: %s\n", r.Sources.X))
		b.WriteString(fmt.Sprintf("Prediction files: %s\n", strings.Join(r.Sources.YPred, ", ")))
		b.WriteString(fmt.Sprintf("Ground truth file: %s\n", r.Sources.YTrue))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	b.WriteString(fmt.Sprintf("Features: %d", len(r.Features)))
	if len(r.Dropped) > 0 {
		b.WriteString(fmt.Sprintf(" (%d dropped)", len(r.Dropped)))
	}
	b.WriteString("\n")
	for _, f := range r.Features {
		b.WriteString(fmt.Sprintf("- %s: %s/%s", safeName(f.Name), f.Type, f.DataType))
		if f.Type.Discrete() && len(f.Domain) > 0 {
			b.WriteString(" — values: ")
			b.WriteString(domainText(f.Domain, 6))
		} else if edges := f.Edges(); f.Type == dataset.Numerical && len(edges) > 1 {
			b.WriteString(fmt.Sprintf(" — range %.4g..%.4g", edges[0], edges[len(edges)-1]))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n[MODELS]\n")
	task := metric.TaskFor(r.Models.NClasses)
	b.WriteString(fmt.Sprintf("Task: %s\n", task))
	if r.Metric != nil {
		b.WriteString(fmt.Sprintf("Metric: %s (%s)\n", r.Metric.Name, r.Metric.Description))
	}
	for m := 0; m < r.Models.NModels; m++ {
		b.WriteString(fmt.Sprintf("- %s", dataset.ModelName(m)))
		if m < len(r.Sources.YPred) {
			b.WriteString(fmt.Sprintf(": %s", r.Sources.YPred[m]))
		}
		b.WriteString("\n")
	}
	if task == metric.Classification {
		b.WriteString(fmt.Sprintf("Classes: %s\n", strings.Join(r.Models.ClassLabels, ", ")))
	}

	b.WriteString("\n[SEGMENTS]\n")
	if r.Manual {
		b.WriteString(fmt.Sprintf("Mode: manual (%d segments)\n", len(r.Segments)))
	} else {
		b.WriteString(fmt.Sprintf("Mode: automatic (k=%d, sorted by median score of model_0)\n", r.NClusters))
	}
	for _, s := range r.Segments {
		b.WriteString(fmt.Sprintf("- segment %d (n=%d)", s.SegmentID, s.NumDataPoints))
		if s.Filters != "" {
			b.WriteString(fmt.Sprintf(" [%s]", s.Filters))
		}
		b.WriteString("\n")
		for i, d := range s.Data {
			b.WriteString(fmt.Sprintf("  • %s: median %.4g", d.Model, d.Median))
			if i < len(s.Scores) {
				b.WriteString(fmt.Sprintf(", mean %.4g", s.Scores[i].Mean))
			}
			if len(d.Percentiles) > 1 {
				b.WriteString(fmt.Sprintf(", p%s %.4g .. p%s %.4g",
					pctLabel(r.Percentiles[0]), d.Percentiles[0],
					pctLabel(r.Percentiles[len(r.Percentiles)-1]), d.Percentiles[len(d.Percentiles)-1]))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n[SEGMENT GROUPS]\n")
	for _, g := range r.Groups {
		b.WriteString(fmt.Sprintf("- %s: segments %v (n=%d)\n", g.Name, g.Segments, g.Rows))
		for _, sc := range g.Scores {
			b.WriteString(fmt.Sprintf("  • %s: mean %.4g, median %.4g\n", sc.Model, sc.Mean, sc.Median))
		}
	}

	b.WriteString("\n[FEATURE ATTRIBUTION]\n")
	if r.Threshold > 0 {
		b.WriteString(fmt.Sprintf("Divergence threshold: %.4g\n", r.Threshold))
	}
	if len(r.Attribution) == 0 {
		b.WriteString("No features above the threshold.\n")
	}
	lim := len(r.Attribution)
	if r.TopFeatures > 0 && r.TopFeatures < lim {
		lim = r.TopFeatures
	}
	for i := 0; i < lim; i++ {
		f := r.Attribution[i]
		b.WriteString(fmt.Sprintf("%d. %s (%s): divergence %s\n", i+1, safeName(f.Name), f.Type, divergenceText(f.Divergence)))
	}
	if lim < len(r.Attribution) {
		b.WriteString(fmt.Sprintf("… %d more\n", len(r.Attribution)-lim))
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func divergenceText(d float64) string {
	if d >= divergence.MaxDivergence || math.IsInf(d, 1) {
		return "max"
	}
	return fmt.Sprintf("%.4f", d)
}

func pctLabel(q float64) string {
	return fmt.Sprintf("%g", q*100)
}

func domainText(domain []dataset.Value, limit int) string {
	parts := make([]string, 0, limit)
	for i, v := range domain {
		if i == limit {
			parts = append(parts, fmt.Sprintf("… (%d total)", len(domain)))
			break
		}
		parts = append(parts, safeVal(dataset.FormatValue(v)))
	}
	return strings.Join(parts, ", ")
}

func safeName(s string) string {
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
