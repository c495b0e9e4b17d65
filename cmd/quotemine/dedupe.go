package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Remove near-duplicate quotes from the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDedupe(cfg, zap.L(), cmd.OutOrStdout())
	},
}

func init() {
	dedupeCmd.Flags().Int("threshold", extraction.DefaultNearDupThreshold, "max length difference (characters) for a contained quote to count as a duplicate")
	rootCmd.AddCommand(dedupeCmd)
}

func runDedupe(c *Config, log *zap.Logger, stdout io.Writer) error {
	quotes, err := loadStore(c)
	if err != nil {
		return eris.Wrap(err, "dedupe")
	}
	kept := extraction.DedupeNear(quotes, c.Dedupe.Threshold)
	if err := extraction.RewriteQuotes(storePath(c), kept); err != nil {
		return eris.Wrap(err, "dedupe")
	}
	log.Info("dedupe finished", zap.Int("before", len(quotes)), zap.Int("after", len(kept)))
	printSummary(stdout, "before", len(quotes), "after", len(kept), "removed", len(quotes)-len(kept))
	return nil
}
