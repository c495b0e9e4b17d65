package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

const (
	indexCSVFile  = "quotes_index.csv"
	indexXLSXFile = "quotes_index.xlsx"
)

var indexXLSX bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Write a tabular index of the stored quotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIndex(cfg, zap.L(), indexXLSX, cmd.OutOrStdout())
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexXLSX, "xlsx", false, "also write an Excel workbook")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(c *Config, log *zap.Logger, withXLSX bool, stdout io.Writer) error {
	quotes, err := loadStore(c)
	if err != nil {
		return eris.Wrap(err, "index")
	}

	csvPath := filepath.Join(c.OutDir, indexCSVFile)
	err = fileutils.WriteAtomic(csvPath, 0o644, func(f *os.File) error {
		return extraction.WriteIndexCSV(f, quotes)
	})
	if err != nil {
		return eris.Wrap(err, "index")
	}

	summary := []any{"rows", len(quotes), "csv", csvPath}
	if withXLSX {
		book, err := extraction.IndexWorkbook(quotes)
		if err != nil {
			return eris.Wrap(err, "index")
		}
		xlsxPath := filepath.Join(c.OutDir, indexXLSXFile)
		err = fileutils.WriteAtomic(xlsxPath, 0o644, func(f *os.File) error {
			return book.Write(f)
		})
		if err != nil {
			return eris.Wrap(err, "index: write workbook")
		}
		summary = append(summary, "xlsx", xlsxPath)
	}
	log.Info("index written", zap.Int("rows", len(quotes)))
	printSummary(stdout, summary...)
	return nil
}
