package main

import (
	"context"
	"io"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
	"github.com/theimaginaryfoundation/quotemine/extraction/provider"
)

const (
	itemsDir  = "apps_tools"
	itemsFile = "apps_and_tools.json"
	itemsMD   = "apps_and_tools.md"
)

var itemsEstimateOnly bool

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Reconstruct the apps and tools evidenced by the stored quotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log := zap.L()
		ex, err := commandExtractor(cfg, log, provider.FormatItems, itemsEstimateOnly)
		if err != nil {
			return eris.Wrap(err, "items")
		}
		return runItems(cmd.Context(), cfg, log, ex, itemsEstimateOnly, cmd.OutOrStdout())
	},
}

func init() {
	f := itemsCmd.Flags()
	f.Float64("max-usd", 0, "abort before the call if the estimate exceeds this")
	f.Duration("timeout", extraction.DefaultCallTimeout, "call timeout")
	f.Float64("merge-threshold", extraction.DefaultMergeThreshold, "title similarity above which items merge")
	f.String("cost-model", "", "model used for the estimate (default --model)")
	f.String("pricing", "", "YAML pricing table overriding built-in rates")
	f.BoolVar(&itemsEstimateOnly, "estimate-only", false, "print the estimate and exit")
	rootCmd.AddCommand(itemsCmd)
}

func runItems(ctx context.Context, c *Config, log *zap.Logger, ex extraction.Extractor, estimateOnly bool, stdout io.Writer) error {
	quotes, err := loadStore(c)
	if err != nil {
		return eris.Wrap(err, "items")
	}
	estimator, err := newEstimator(c, log)
	if err != nil {
		return eris.Wrap(err, "items")
	}
	est := estimator.EstimateItems(c.Cost.Model, quotes, extraction.ItemsInstructions)
	log.Info("items estimate", zap.Int("input_tokens", est.InputTokens), zap.String("usd_total", usdString(est.USDTotal)))
	if estimateOnly {
		printSummary(stdout, "quotes", len(quotes), "input_tokens", est.InputTokens, "output_tokens", est.OutputTokens, "usd_total", usdString(est.USDTotal))
		return nil
	}
	if err := checkBudget(est, c.Cost.Model, c.Scan.MaxUSD, log); err != nil {
		return eris.Wrap(err, "items")
	}

	items, err := extraction.ReconstructItems(ctx, ex, quotes, extraction.ItemsOptions{
		MergeThreshold: c.Items.MergeThreshold,
		CallTimeout:    c.Scan.CallTimeout,
	})
	if err != nil {
		return eris.Wrap(err, "items")
	}
	if items == nil {
		items = []extraction.Item{}
	}
	path := filepath.Join(c.OutDir, itemsDir, itemsFile)
	if err := fileutils.WriteJSONFileAtomic(path, items, true); err != nil {
		return eris.Wrap(err, "items: write")
	}
	mdPath := filepath.Join(c.OutDir, itemsDir, itemsMD)
	if err := fileutils.WriteFileAtomicSameDir(mdPath, []byte(extraction.RenderItemsMarkdown(items)), 0o644); err != nil {
		return eris.Wrap(err, "items: write markdown")
	}
	printSummary(stdout, "quotes", len(quotes), "items", len(items), "out", path, "markdown", mdPath)
	return nil
}
