package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/provider"
)

var compileEstimateOnly bool

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Arrange each quote group into compilations and snippets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log := zap.L()
		ex, err := commandExtractor(cfg, log, provider.FormatText, compileEstimateOnly)
		if err != nil {
			return eris.Wrap(err, "compile")
		}
		return runCompile(cmd.Context(), cfg, log, ex, compileEstimateOnly, cmd.OutOrStdout())
	},
}

func init() {
	f := compileCmd.Flags()
	f.Float64("max-usd", 0, "abort before the first call if the estimate exceeds this")
	f.Duration("timeout", extraction.DefaultCallTimeout, "per-call timeout")
	f.String("cost-model", "", "model used for the estimate (default --model)")
	f.String("pricing", "", "YAML pricing table overriding built-in rates")
	f.BoolVar(&compileEstimateOnly, "estimate-only", false, "write the cost report and exit")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(ctx context.Context, c *Config, log *zap.Logger, ex extraction.Extractor, estimateOnly bool, stdout io.Writer) error {
	quotes, err := loadStore(c)
	if err != nil {
		return eris.Wrap(err, "compile")
	}
	rep, _, err := buildCostReport(c, log, quotes)
	if err != nil {
		return eris.Wrap(err, "compile")
	}
	if estimateOnly {
		printSummary(stdout, "groups", rep.TotalGroups, "usd_total", usdString(rep.Estimate.USDTotal))
		return nil
	}
	if err := checkBudget(rep.Estimate, c.Cost.Model, c.Scan.MaxUSD, log); err != nil {
		return eris.Wrap(err, "compile")
	}

	res, err := extraction.CompileGroups(ctx, ex, extraction.GroupQuotes(quotes), extraction.CompileOptions{
		OutputDir:   c.OutDir,
		CallTimeout: c.Scan.CallTimeout,
		Logger:      log,
	})
	if err != nil {
		return eris.Wrap(err, "compile")
	}
	printSummary(stdout, "groups", rep.TotalGroups, "written", len(res.Written), "failed", len(res.Failed), "out", c.OutDir)
	return nil
}
