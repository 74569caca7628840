package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	NClusters           int       `mapstructure:"n_clusters" yaml:"n_clusters"`
	MaxIterations       int       `mapstructure:"max_iterations" yaml:"max_iterations"`
	HistogramResolution int       `mapstructure:"histogram_resolution" yaml:"histogram_resolution"`
	FeatureResolution   int       `mapstructure:"feature_resolution" yaml:"feature_resolution"`
	Percentiles         []float64 `mapstructure:"percentiles" yaml:"percentiles"`
	DivergenceThreshold float64   `mapstructure:"divergence_threshold" yaml:"divergence_threshold"`
	TopFeatures         int       `mapstructure:"top_features" yaml:"top_features"`
	// Seed for centroid initialisation; 0 picks a random seed per run.
	Seed   uint64 `mapstructure:"seed" yaml:"seed"`
	Metric string `mapstructure:"metric" yaml:"metric"`

	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	ServerAddr string `mapstructure:"server_addr" yaml:"server_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Global {
	return &Global{
		NClusters:           4,
		MaxIterations:       300,
		HistogramResolution: 50,
		FeatureResolution:   100,
		Percentiles:         []float64{0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99},
		TopFeatures:         10,
		LogLevel:            "info",
		ServerAddr:          "127.0.0.1:7100",
	}
}

// Dir returns ~/.manifold.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".manifold"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.manifold/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("MANIFOLD")
	v.AutomaticEnv()

	d := Defaults()
	// Segmentation
	v.SetDefault("n_clusters", d.NClusters)
	v.SetDefault("max_iterations", d.MaxIterations)
	// Histograms and attribution
	v.SetDefault("histogram_resolution", d.HistogramResolution)
	v.SetDefault("feature_resolution", d.FeatureResolution)
	v.SetDefault("percentiles", d.Percentiles)
	v.SetDefault("divergence_threshold", d.DivergenceThreshold)
	v.SetDefault("top_features", d.TopFeatures)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("metric", d.Metric)
	// Runtime
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("server_addr", d.ServerAddr)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values no command can run with.
func (c *Global) Validate() error {
	switch {
	case c.NClusters < 1:
		return fmt.Errorf("n_clusters must be at least 1, got %d", c.NClusters)
	case c.MaxIterations < 1:
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	case c.HistogramResolution < 1:
		return fmt.Errorf("histogram_resolution must be at least 1, got %d", c.HistogramResolution)
	case c.FeatureResolution < 1:
		return fmt.Errorf("feature_resolution must be at least 1, got %d", c.FeatureResolution)
	}
	for _, q := range c.Percentiles {
		if q < 0 || q > 1 {
			return fmt.Errorf("percentile %g outside [0,1]", q)
		}
	}
	return nil
}
