package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/checkpoint"
	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
	"github.com/theimaginaryfoundation/quotemine/extraction/metrics"
	"github.com/theimaginaryfoundation/quotemine/extraction/provider"
)

const (
	scanEstimateFile = "scan_estimate.json"
	scanLedgerFile   = "scan_ledger.db"
)

var (
	scanEstimateOnly bool
	scanDedupe       bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <input>",
	Short: "Extract verified quotes from a conversation export, document or directory",
	Long: `Loads pages from the input, packs them into chunks, asks the extraction
service for quotes in each chunk, keeps only quotes found verbatim in their
chunk, and appends them to <out>/scan_quotes.jsonl.

Examples:
  # Price the run without calling the service
  quotemine scan conversations.json --estimate-only

  # Four chunks in flight, stop if the estimate is above $2
  quotemine scan conversations.json --concurrency 4 --max-usd 2

  # Continue an interrupted run
  quotemine scan conversations.json --resume`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := zap.L()
		ex, err := commandExtractor(cfg, log, provider.FormatQuotes, scanEstimateOnly)
		if err != nil {
			return eris.Wrap(err, "scan")
		}
		return runScan(cmd.Context(), scanRun{
			cfg:          cfg,
			log:          log,
			extractor:    ex,
			input:        args[0],
			estimateOnly: scanEstimateOnly,
			dedupe:       scanDedupe,
			stdout:       cmd.OutOrStdout(),
			stderr:       cmd.ErrOrStderr(),
		})
	},
}

func init() {
	f := scanCmd.Flags()
	f.Int("page-chars", extraction.DefaultPageChars, "pseudo-page length in characters")
	f.Int("chunk-chars", extraction.DefaultChunkChars, "chunk budget in characters")
	f.String("roles", "both", "conversation roles to keep: both, user or assistant")
	f.String("array-field", "", "field holding the conversation array when the export is an object")
	f.Int("concurrency", 1, "chunks in flight")
	f.Duration("timeout", extraction.DefaultCallTimeout, "per-call timeout")
	f.Int("rpm", 0, "max extraction calls per minute (0 = unlimited)")
	f.String("instructions", "", "file with replacement extraction instructions")
	f.Bool("resume", false, "append to the existing store and skip finished chunks")
	f.String("checkpoint", "", "chunk ledger path (default <out>/scan_ledger.db)")
	f.Float64("max-usd", 0, "abort before the first call if the estimate exceeds this")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the scan")
	f.String("cost-model", "", "model used for the estimate (default --model)")
	f.String("pricing", "", "YAML pricing table overriding built-in rates")
	f.Int("threshold", extraction.DefaultNearDupThreshold, "near-duplicate length threshold for --dedupe")
	f.BoolVar(&scanEstimateOnly, "estimate-only", false, "write the estimate and exit")
	f.BoolVar(&scanDedupe, "dedupe", false, "remove near-duplicates from the store after the scan")
	rootCmd.AddCommand(scanCmd)
}

type scanRun struct {
	cfg          *Config
	log          *zap.Logger
	extractor    extraction.Extractor
	input        string
	estimateOnly bool
	dedupe       bool
	stdout       io.Writer
	stderr       io.Writer
}

func runScan(ctx context.Context, r scanRun) error {
	c := r.cfg
	log := r.log
	if log == nil {
		log = zap.NewNop()
	}
	roles, err := extraction.ParseRoleFilter(c.Scan.Roles)
	if err != nil {
		return eris.Wrap(err, "scan")
	}

	pages, err := extraction.LoadPages(ctx, r.input, extraction.LoadOptions{
		PageChars: c.Scan.PageChars,
		Conversations: extraction.ConversationOptions{
			ArrayField: c.Scan.ArrayField,
			Roles:      roles,
		},
		Logger: log,
	})
	if err != nil {
		return eris.Wrap(err, "scan: load pages")
	}
	chunks, err := extraction.PackChunks(pages, c.Scan.ChunkChars)
	if err != nil {
		return eris.Wrap(err, "scan: pack chunks")
	}
	instructions, err := loadInstructions(c.Scan.InstructionsFile, extraction.DefaultScanInstructions)
	if err != nil {
		return eris.Wrap(err, "scan")
	}
	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return eris.Wrap(err, "scan: mkdir out")
	}

	estimator, err := newEstimator(c, log)
	if err != nil {
		return eris.Wrap(err, "scan")
	}
	est := estimator.EstimateChunks(c.Cost.Model, chunks, instructions)
	if err := fileutils.WriteJSONFileAtomic(filepath.Join(c.OutDir, scanEstimateFile), est, true); err != nil {
		return eris.Wrap(err, "scan: write estimate")
	}
	log.Info("scan estimate",
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Int("input_tokens", est.InputTokens),
		zap.Int("output_tokens", est.OutputTokens),
		zap.String("usd_total", usdString(est.USDTotal)),
	)
	if r.estimateOnly {
		printSummary(r.stdout,
			"pages", len(pages),
			"chunks", len(chunks),
			"input_tokens", est.InputTokens,
			"output_tokens", est.OutputTokens,
			"usd_total", usdString(est.USDTotal),
		)
		return nil
	}
	if err := checkBudget(est, c.Cost.Model, c.Scan.MaxUSD, log); err != nil {
		return eris.Wrap(err, "scan")
	}

	path := storePath(c)
	var existing []extraction.Quote
	if c.Scan.Resume {
		if existing, err = extraction.LoadQuotes(path); err != nil {
			return eris.Wrap(err, "scan: load existing store")
		}
	}
	w, err := extraction.OpenQuoteWriter(path, c.Scan.Resume)
	if err != nil {
		return eris.Wrap(err, "scan")
	}
	defer w.Close()
	sink := extraction.NewQuoteSink(w)
	sink.Seed(existing)

	runID := uuid.NewString()
	ledgerPath := c.Scan.CheckpointPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(c.OutDir, scanLedgerFile)
	}
	ledger, err := checkpoint.Open(ctx, ledgerPath, runID)
	if err != nil {
		return eris.Wrap(err, "scan")
	}
	defer ledger.Close()
	if !c.Scan.Resume {
		if err := ledger.Reset(ctx); err != nil {
			return eris.Wrap(err, "scan")
		}
	}

	m := metrics.New()
	if c.Scan.MetricsAddr != "" {
		mctx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(mctx, c.Scan.MetricsAddr, m, log); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var progressMu sync.Mutex
	started := time.Now()
	pipeline, err := extraction.NewPipeline(extraction.PipelineConfig{
		RunID:     runID,
		Extractor: r.extractor,
		Sink:      sink,
		Ledger:    ledger,
		Metrics:   m,
		Logger:    log,
		Options: extraction.ScanOptions{
			Instructions:      instructions,
			Concurrency:       c.Scan.Concurrency,
			CallTimeout:       c.Scan.CallTimeout,
			RequestsPerMinute: c.Scan.RequestsPerMinute,
			Progress: func(done, total int) {
				progressMu.Lock()
				defer progressMu.Unlock()
				fmt.Fprintf(r.stderr, "scan: %d/%d chunks (%s)\n", done, total, time.Since(started).Round(time.Second))
			},
		},
	})
	if err != nil {
		return eris.Wrap(err, "scan")
	}

	stats, err := pipeline.Scan(ctx, chunks)
	if err != nil {
		return eris.Wrap(err, "scan")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "scan: close store")
	}

	stored := sink.Len()
	if r.dedupe {
		all, err := extraction.LoadQuotes(path)
		if err != nil {
			return eris.Wrap(err, "scan: reload store")
		}
		kept := extraction.DedupeNear(all, c.Dedupe.Threshold)
		if err := extraction.RewriteQuotes(path, kept); err != nil {
			return eris.Wrap(err, "scan: rewrite store")
		}
		log.Info("near-duplicate pass", zap.Int("before", len(all)), zap.Int("after", len(kept)))
		stored = len(kept)
	}

	printSummary(r.stdout,
		"run_id", runID,
		"pages", len(pages),
		"chunks", stats.Chunks,
		"chunks_failed", stats.Failed,
		"chunks_skipped", stats.Skipped,
		"candidates", stats.Candidates,
		"schema_dropped", stats.SchemaDropped,
		"rejected", stats.Rejected,
		"duplicates", stats.Duplicates,
		"written", stats.Written,
		"stored", stored,
		"store", path,
	)
	return nil
}
