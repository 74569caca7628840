package cmd

import (
	"fmt"

	"github.com/KaramelBytes/manifold-cli/internal/analysis"
	"github.com/KaramelBytes/manifold-cli/internal/loader"
	"github.com/KaramelBytes/manifold-cli/internal/server"
	"github.com/spf13/cobra"
)

var (
	srvX     string
	srvPreds []string
	srvTrue  string
	srvAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve segmentation results over HTTP",
	Long: `Serve exposes GET /load_data, /models_performance and /features_distribution.
Each endpoint takes its parameters as a JSON "params" query value, e.g.
  /models_performance?params={"n_clusters":3,"metric":"absolute_error"}
Files given with --x/--pred/--true are loaded at startup; otherwise call /load_data first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := settings()
		opt := analysis.DefaultOptions()
		opt.NClusters = c.NClusters
		opt.MaxIterations = c.MaxIterations
		opt.Resolution = c.HistogramResolution
		opt.FeatureResolution = c.FeatureResolution
		opt.Percentiles = c.Percentiles
		opt.DivergenceThreshold = c.DivergenceThreshold
		opt.Seed = c.Seed
		opt.Metric = c.Metric

		s := server.New(opt, logger)
		if srvX != "" || len(srvPreds) > 0 || srvTrue != "" {
			src := loader.Sources{X: srvX, YPred: srvPreds, YTrue: srvTrue}
			if err := s.Load(cmd.Context(), src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %s with %d model(s)\n", srvX, len(srvPreds))
		}
		addr := c.ServerAddr
		if cmd.Flags().Changed("addr") {
			addr = srvAddr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Serving on http://%s\n", addr)
		return s.Serve(cmd.Context(), addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&srvX, "x", "", "features file to load at startup")
	serveCmd.Flags().StringArrayVar(&srvPreds, "pred", nil, "predictions file of one model (repeatable)")
	serveCmd.Flags().StringVar(&srvTrue, "true", "", "ground truth file")
	serveCmd.Flags().StringVar(&srvAddr, "addr", "127.0.0.1:7100", "listen address (overrides server_addr)")
}
