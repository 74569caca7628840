package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/analysis"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/KaramelBytes/manifold-cli/internal/utils"
	"github.com/spf13/cobra"
)

var (
	anaX          string
	anaPreds      []string
	anaTrue       string
	anaClusters   int
	anaFilters    []string
	anaGroups     string
	anaMetric     string
	anaThreshold  float64
	anaTop        int
	anaSeed       uint64
	anaFormat     string
	anaOutputPath string
	anaDelimiter  string
	anaDecimal    string
	anaThousands  string
	anaSheetName  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Segment rows by model performance and rank the features that explain it",
	Example: `  manifold analyze --x features.csv --pred model_a.csv --pred model_b.csv --true labels.csv
  manifold analyze --x f.csv --pred p.csv --true y.csv --filter "city:include:Paris" --filter "city:exclude:Paris"
  manifold analyze --x f.csv --pred p.csv --true y.csv --clusters 5 --groups "4;0,1,2,3" --format json -o report.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if anaX == "" || len(anaPreds) == 0 || anaTrue == "" {
			return fmt.Errorf("--x, --pred and --true are required")
		}
		opt, err := analyzeOptions(cmd)
		if err != nil {
			return err
		}
		src := loader.Sources{X: anaX, YPred: anaPreds, YTrue: anaTrue}
		rep, err := analysis.Run(cmd.Context(), src, opt, logger)
		if err != nil {
			return err
		}

		var out []byte
		switch strings.ToLower(anaFormat) {
		case "", "md", "markdown":
			out = []byte(rep.Markdown())
		case "json":
			if out, err = rep.JSON(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported --format: %s (use md|json)", anaFormat)
		}

		if anaOutputPath != "" {
			if err := utils.SafeWriteFile(anaOutputPath, out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote report to %s\n", anaOutputPath)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
		for _, w := range rep.Warnings {
			if strings.Contains(w, "no rows") || strings.Contains(w, "no segment") {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", w)
			}
		}
		return nil
	},
}

// analyzeOptions starts from the configuration and applies the flags the
// user set.
func analyzeOptions(cmd *cobra.Command) (analysis.Options, error) {
	c := settings()
	opt := analysis.DefaultOptions()
	opt.NClusters = c.NClusters
	opt.MaxIterations = c.MaxIterations
	opt.Resolution = c.HistogramResolution
	opt.FeatureResolution = c.FeatureResolution
	opt.Percentiles = c.Percentiles
	opt.DivergenceThreshold = c.DivergenceThreshold
	opt.TopFeatures = c.TopFeatures
	opt.Seed = c.Seed
	opt.Metric = c.Metric

	f := cmd.Flags()
	if f.Changed("clusters") {
		opt.NClusters = anaClusters
	}
	if f.Changed("threshold") {
		opt.DivergenceThreshold = anaThreshold
	}
	if f.Changed("top") {
		opt.TopFeatures = anaTop
	}
	if f.Changed("seed") {
		opt.Seed = anaSeed
	}
	if f.Changed("metric") {
		opt.Metric = anaMetric
	}
	opt.Segments = anaFilters
	if anaGroups != "" {
		groups, err := parseGroups(anaGroups)
		if err != nil {
			return opt, err
		}
		opt.Groups = groups
	}
	csv, err := csvOptions(anaDelimiter, anaDecimal, anaThousands)
	if err != nil {
		return opt, err
	}
	csv.Sheet = anaSheetName
	opt.CSV = csv
	return opt, nil
}

// parseGroups reads "treatment;control" with comma-separated segment ids,
// e.g. "3;0,1,2".
func parseGroups(s string) ([][]int, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid --groups %q: want two ';'-separated lists like \"3;0,1,2\"", s)
	}
	groups := make([][]int, 2)
	for i, p := range parts {
		for _, id := range strings.Split(p, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			n, err := strconv.Atoi(id)
			if err != nil {
				return nil, fmt.Errorf("invalid segment id %q in --groups", id)
			}
			groups[i] = append(groups[i], n)
		}
	}
	return groups, nil
}

// csvOptions maps the delimiter and number format flags.
func csvOptions(delimiter, decimal, thousands string) (loader.CSVOptions, error) {
	var opt loader.CSVOptions
	switch delimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case "\t", "tab":
		opt.Delimiter = '\t'
	case ";":
		opt.Delimiter = ';'
	case "|":
		opt.Delimiter = '|'
	default:
		return opt, fmt.Errorf("unsupported --delimiter: %s", delimiter)
	}
	switch strings.ToLower(strings.TrimSpace(decimal)) {
	case ",", "comma":
		opt.Parse.DecimalSeparator = ','
	case ".", "dot":
		opt.Parse.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", decimal)
	}
	switch strings.ToLower(thousands) {
	case ",":
		opt.Parse.ThousandsSeparator = ','
	case ".":
		opt.Parse.ThousandsSeparator = '.'
	case "space", " ":
		opt.Parse.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", thousands)
	}
	return opt, nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&anaX, "x", "", "features file (CSV, TSV or XLSX)")
	analyzeCmd.Flags().StringArrayVar(&anaPreds, "pred", nil, "predictions file of one model (repeatable, one per model)")
	analyzeCmd.Flags().StringVar(&anaTrue, "true", "", "ground truth file (single column)")
	analyzeCmd.Flags().IntVarP(&anaClusters, "clusters", "k", 4, "number of automatic segments")
	analyzeCmd.Flags().StringArrayVar(&anaFilters, "filter", nil, "manual segment as filters joined by ';', e.g. \"age:range:18,30;city:include:Paris\" (repeatable, one per segment)")
	analyzeCmd.Flags().StringVar(&anaGroups, "groups", "", "treatment and control segment ids, e.g. \"3;0,1,2\"")
	analyzeCmd.Flags().StringVar(&anaMetric, "metric", "", "score metric: log_loss | absolute_error | squared_log_error | residual (default depends on task)")
	analyzeCmd.Flags().Float64Var(&anaThreshold, "threshold", 0, "hide features whose divergence is below this value")
	analyzeCmd.Flags().IntVar(&anaTop, "top", 10, "features listed in the markdown report (0 = all)")
	analyzeCmd.Flags().Uint64Var(&anaSeed, "seed", 0, "seed for automatic segmentation (0 = random)")
	analyzeCmd.Flags().StringVar(&anaFormat, "format", "md", "output format: md | json")
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "write the report to this path instead of stdout")
	analyzeCmd.Flags().StringVar(&anaDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | '|'")
	analyzeCmd.Flags().StringVar(&anaDecimal, "decimal", "", "decimal separator for numbers: '.'|'comma'")
	analyzeCmd.Flags().StringVar(&anaThousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space'")
	analyzeCmd.Flags().StringVar(&anaSheetName, "sheet-name", "", "XLSX: sheet name to read (default first sheet)")
}
