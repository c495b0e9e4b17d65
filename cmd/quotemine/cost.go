package main

import (
	"io"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/cost"
	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

const costReportFile = "cost_report.json"

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Estimate what compiling the stored quotes would cost",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := runCost(cfg, zap.L(), cmd.OutOrStdout())
		return err
	},
}

func init() {
	costCmd.Flags().String("cost-model", "", "model to price (default --model)")
	costCmd.Flags().String("pricing", "", "YAML pricing table overriding built-in rates")
	rootCmd.AddCommand(costCmd)
}

// buildCostReport prices one compile request per group and writes the report.
func buildCostReport(c *Config, log *zap.Logger, quotes []extraction.Quote) (cost.Report, string, error) {
	estimator, err := newEstimator(c, log)
	if err != nil {
		return cost.Report{}, "", err
	}
	rep, err := estimator.BuildReport(c.Cost.Model, quotes, extraction.CompileInstructions)
	if err != nil {
		return cost.Report{}, "", err
	}
	path := filepath.Join(c.OutDir, costReportFile)
	if err := fileutils.WriteJSONFileAtomic(path, rep, true); err != nil {
		return cost.Report{}, "", eris.Wrap(err, "write cost report")
	}
	log.Info("cost report",
		zap.String("model", rep.Model),
		zap.Int("quotes", rep.TotalQuotes),
		zap.Int("groups", rep.TotalGroups),
		zap.Int("input_tokens", rep.Estimate.InputTokens),
		zap.Int("output_tokens", rep.Estimate.OutputTokens),
		zap.String("usd_total", usdString(rep.Estimate.USDTotal)),
	)
	return rep, path, nil
}

func runCost(c *Config, log *zap.Logger, stdout io.Writer) (cost.Report, error) {
	quotes, err := loadStore(c)
	if err != nil {
		return cost.Report{}, eris.Wrap(err, "cost")
	}
	rep, path, err := buildCostReport(c, log, quotes)
	if err != nil {
		return cost.Report{}, eris.Wrap(err, "cost")
	}
	printSummary(stdout,
		"model", rep.Model,
		"quotes", rep.TotalQuotes,
		"groups", rep.TotalGroups,
		"input_tokens", rep.Estimate.InputTokens,
		"output_tokens", rep.Estimate.OutputTokens,
		"usd_total", usdString(rep.Estimate.USDTotal),
		"report", path,
	)
	return rep, nil
}
