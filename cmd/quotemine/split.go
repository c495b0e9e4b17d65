package main

import (
	"context"
	"io"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

const splitDir = "threads"

var (
	splitOverwrite bool
	splitPretty    bool
)

var splitCmd = &cobra.Command{
	Use:   "split <export.json>",
	Short: "Split a conversations export into one file per conversation",
	Long: `Writes each conversation of the export to <out>/threads/NNNNNN-<id>.json.
Scanning that directory produces the same pages, with the same page numbers,
as scanning the export itself, so parts of an archive can be scanned or
re-scanned separately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSplit(cmd.Context(), cfg, zap.L(), args[0], cmd.OutOrStdout())
	},
}

func init() {
	f := splitCmd.Flags()
	f.String("array-field", "", "field holding the conversation array when the export is an object")
	f.BoolVar(&splitOverwrite, "overwrite", false, "replace existing output files")
	f.BoolVar(&splitPretty, "pretty", false, "indent each output file")
	rootCmd.AddCommand(splitCmd)
}

func runSplit(ctx context.Context, c *Config, log *zap.Logger, input string, stdout io.Writer) error {
	outDir := filepath.Join(c.OutDir, splitDir)
	res, err := extraction.SplitExport(ctx, input, outDir, extraction.SplitOptions{
		ArrayField: c.Scan.ArrayField,
		Overwrite:  splitOverwrite,
		Pretty:     splitPretty,
	})
	if err != nil {
		return eris.Wrap(err, "split")
	}
	log.Info("export split", zap.Int("conversations", res.Conversations), zap.Int64("bytes", res.Bytes))
	printSummary(stdout, "conversations", res.Conversations, "bytes", res.Bytes, "out", outDir)
	return nil
}
