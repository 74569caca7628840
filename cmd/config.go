package cmd

import (
	"fmt"
	"strconv"
	"strings"

	cfgpkg "github.com/KaramelBytes/manifold-cli/internal/config"
	"github.com/KaramelBytes/manifold-cli/internal/logging"
	"github.com/KaramelBytes/manifold-cli/internal/metric"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set Manifold configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := settings()
		if cfg == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No config loaded, showing defaults")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "n_clusters: %d\n", c.NClusters)
		fmt.Fprintf(out, "max_iterations: %d\n", c.MaxIterations)
		fmt.Fprintf(out, "histogram_resolution: %d\n", c.HistogramResolution)
		fmt.Fprintf(out, "feature_resolution: %d\n", c.FeatureResolution)
		fmt.Fprintf(out, "percentiles: %s\n", floatList(c.Percentiles))
		fmt.Fprintf(out, "divergence_threshold: %g\n", c.DivergenceThreshold)
		fmt.Fprintf(out, "top_features: %d\n", c.TopFeatures)
		if c.Seed == 0 {
			fmt.Fprintln(out, "seed: 0 (random)")
		} else {
			fmt.Fprintf(out, "seed: %d\n", c.Seed)
		}
		if c.Metric != "" {
			fmt.Fprintf(out, "metric: %s\n", c.Metric)
		} else {
			fmt.Fprintln(out, "metric: (task default)")
		}
		fmt.Fprintf(out, "log_level: %s\n", c.LogLevel)
		fmt.Fprintf(out, "server_addr: %s\n", c.ServerAddr)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		next := *cfg
		if err := setKey(&next, key, val); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := cfgpkg.Save(&next, cfgFile); err != nil {
			return err
		}
		cfg = &next
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Saved config")
		return nil
	},
}

func setKey(c *cfgpkg.Global, key, val string) error {
	atoi := func() (int, error) {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("invalid int for %s: %v", key, val)
		}
		return i, nil
	}
	var err error
	switch key {
	case "n_clusters":
		c.NClusters, err = atoi()
	case "max_iterations":
		c.MaxIterations, err = atoi()
	case "histogram_resolution":
		c.HistogramResolution, err = atoi()
	case "feature_resolution":
		c.FeatureResolution, err = atoi()
	case "top_features":
		c.TopFeatures, err = atoi()
	case "percentiles":
		var qs []float64
		for _, p := range strings.Split(val, ",") {
			q, perr := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if perr != nil {
				return fmt.Errorf("invalid float list for percentiles: %v", val)
			}
			qs = append(qs, q)
		}
		c.Percentiles = qs
	case "divergence_threshold":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 {
			return fmt.Errorf("invalid float for divergence_threshold: %v", val)
		}
		c.DivergenceThreshold = f
	case "seed":
		u, perr := strconv.ParseUint(val, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid seed: %v", val)
		}
		c.Seed = u
	case "metric":
		if val != "" {
			if _, ok := metric.Lookup(val); !ok {
				return fmt.Errorf("unknown metric: %s", val)
			}
		}
		c.Metric = val
	case "log_level":
		if _, perr := logging.ParseLevel(val); perr != nil {
			return perr
		}
		c.LogLevel = val
	case "server_addr":
		c.ServerAddr = val
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

func floatList(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
