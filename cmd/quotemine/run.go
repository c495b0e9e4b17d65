package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/provider"
)

// pipelineStages is the order `run` executes stages in.
var pipelineStages = []string{"scan", "dedupe", "index", "compile", "items"}

var (
	runFromStage string
	runOnlyStage string
	runXLSX      bool
)

var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Run scan, dedupe, index, compile and items in sequence",
	Long: `Runs the stages in order against one output directory. The input is only
needed when the scan stage runs.

Examples:
  quotemine run conversations.json --concurrency 4 --max-usd 5
  quotemine run --from-stage compile
  quotemine run --only-stage index --xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stages, err := selectStages(runFromStage, runOnlyStage)
		if err != nil {
			return err
		}
		input := ""
		if len(args) == 1 {
			input = args[0]
		}
		log := zap.L()
		return runPipeline(cmd.Context(), pipelineRun{
			cfg:    cfg,
			log:    log,
			input:  input,
			stages: stages,
			xlsx:   runXLSX,
			extractor: func(format provider.Format) (extraction.Extractor, error) {
				return newExtractor(cfg, log, format)
			},
			stdout: cmd.OutOrStdout(),
			stderr: cmd.ErrOrStderr(),
		})
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFromStage, "from-stage", "", "start at stage: "+strings.Join(pipelineStages, "|"))
	f.StringVar(&runOnlyStage, "only-stage", "", "run only this stage")
	f.BoolVar(&runXLSX, "xlsx", false, "index stage also writes an Excel workbook")
	f.Int("concurrency", 1, "chunks in flight")
	f.Bool("resume", false, "append to the existing store and skip finished chunks")
	f.Float64("max-usd", 0, "per-stage cost ceiling checked before each stage's first call")
	f.Int("threshold", extraction.DefaultNearDupThreshold, "near-duplicate length threshold")
	rootCmd.AddCommand(runCmd)
}

// selectStages resolves --from-stage / --only-stage against pipelineStages.
func selectStages(from, only string) ([]string, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	only = strings.ToLower(strings.TrimSpace(only))
	if from != "" && only != "" {
		return nil, eris.New("use only one of --from-stage or --only-stage")
	}
	want := from
	if only != "" {
		want = only
	}
	if want == "" {
		return pipelineStages, nil
	}
	for i, s := range pipelineStages {
		if s == want {
			if only != "" {
				return []string{s}, nil
			}
			return pipelineStages[i:], nil
		}
	}
	return nil, eris.Errorf("unknown stage %q (want %s)", want, strings.Join(pipelineStages, "|"))
}

type pipelineRun struct {
	cfg       *Config
	log       *zap.Logger
	input     string
	stages    []string
	xlsx      bool
	extractor func(format provider.Format) (extraction.Extractor, error)
	stdout    io.Writer
	stderr    io.Writer
}

func stageFormat(stage string) (provider.Format, bool) {
	switch stage {
	case "scan":
		return provider.FormatQuotes, true
	case "compile":
		return provider.FormatText, true
	case "items":
		return provider.FormatItems, true
	}
	return 0, false
}

// runPipeline builds every extractor the selected stages need before running any of
// them, so a missing credential fails before the first stage writes anything.
func runPipeline(ctx context.Context, r pipelineRun) error {
	if len(r.stages) == 0 {
		return eris.New("run: no stages selected")
	}
	extractors := make(map[string]extraction.Extractor)
	for _, stage := range r.stages {
		if stage == "scan" && r.input == "" {
			return eris.New("run: the scan stage needs an input path")
		}
		if format, ok := stageFormat(stage); ok {
			ex, err := r.extractor(format)
			if err != nil {
				return eris.Wrap(err, "run")
			}
			extractors[stage] = ex
		}
	}

	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		var err error
		switch stage {
		case "scan":
			err = runScan(ctx, scanRun{cfg: r.cfg, log: r.log, extractor: extractors[stage], input: r.input, stdout: r.stdout, stderr: r.stderr})
		case "dedupe":
			err = runDedupe(r.cfg, r.log, r.stdout)
		case "index":
			err = runIndex(r.cfg, r.log, r.xlsx, r.stdout)
		case "compile":
			err = runCompile(ctx, r.cfg, r.log, extractors[stage], false, r.stdout)
		case "items":
			err = runItems(ctx, r.cfg, r.log, extractors[stage], false, r.stdout)
		default:
			err = eris.Errorf("unknown stage %q", stage)
		}
		if err != nil {
			return eris.Wrapf(err, "run: stage %s", stage)
		}
		fmt.Fprintf(r.stderr, "ok: %s (%s)\n", stage, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
