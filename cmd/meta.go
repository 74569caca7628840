package cmd

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/manifold-cli/internal/analysis"
	"github.com/KaramelBytes/manifold-cli/internal/utils"
	"github.com/spf13/cobra"
)

var (
	metaFormat     string
	metaOutputPath string
	metaDelimiter  string
	metaDecimal    string
	metaThousands  string
	metaSheetName  string
)

var metaCmd = &cobra.Command{
	Use:   "meta <file>",
	Short: "Show the inferred type, domain and statistics of every column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opt, err := csvOptions(metaDelimiter, metaDecimal, metaThousands)
		if err != nil {
			return err
		}
		opt.Sheet = metaSheetName
		rep, err := analysis.Meta(cmd.Context(), args[0], opt, settings().FeatureResolution)
		if err != nil {
			return err
		}
		var out []byte
		switch strings.ToLower(metaFormat) {
		case "", "md", "markdown":
			out = []byte(rep.Markdown())
		case "json":
			if out, err = rep.JSON(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported --format: %s (use md|json)", metaFormat)
		}
		if metaOutputPath != "" {
			if err := utils.SafeWriteFile(metaOutputPath, out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote schema to %s\n", metaOutputPath)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metaCmd)
	metaCmd.Flags().StringVar(&metaFormat, "format", "md", "output format: md | json")
	metaCmd.Flags().StringVarP(&metaOutputPath, "output", "o", "", "write the schema to this path instead of stdout")
	metaCmd.Flags().StringVar(&metaDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | '|'")
	metaCmd.Flags().StringVar(&metaDecimal, "decimal", "", "decimal separator for numbers: '.'|'comma'")
	metaCmd.Flags().StringVar(&metaThousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space'")
	metaCmd.Flags().StringVar(&metaSheetName, "sheet-name", "", "XLSX: sheet name to read (default first sheet)")
}
