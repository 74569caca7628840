package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/KaramelBytes/manifold-cli/internal/config"
	"github.com/KaramelBytes/manifold-cli/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	cfgFile string
	debug   bool

	// Loaded configuration
	cfg *cfgpkg.Global
	// Logger built from cfg.LogLevel and --debug; a no-op until loadConfig runs.
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "manifold",
	Short: "Manifold CLI: find where ML models fail and which features explain it",
	Long: `Manifold compares the per-row performance of one or more ML models, splits the
rows into segments by performance (or by your own filters), and ranks features by
how differently they are distributed between two groups of segments.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute is the entry point called by main.main(). Interrupts cancel the
// command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.manifold/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() {
	level := ""
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands fall back to built-in defaults
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
	} else {
		cfg = c
		level = c.LogLevel
	}
	l, err := logging.New(level, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v\n", err)
		if l, err = logging.New("", debug); err != nil {
			return
		}
	}
	logger = l
}

// settings returns the loaded configuration, or the defaults when none
// could be loaded.
func settings() *cfgpkg.Global {
	if cfg != nil {
		return cfg
	}
	return cfgpkg.Defaults()
}
