// Command quotemine extracts verbatim, source-verified quotations from conversation
// exports and documents, then dedupes, indexes, prices and compiles them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/cost"
	"github.com/theimaginaryfoundation/quotemine/extraction/provider"
)

var (
	configFile string
	cfg        *Config
)

var rootCmd = &cobra.Command{
	Use:           "quotemine",
	Short:         "Extract verbatim, source-verified quotes from archives",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd, configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./quotemine.yaml)")
	pf.String("provider", provider.OpenAI, "extraction service: openai, anthropic or ollama")
	pf.String("model", "", "model identifier (default depends on --provider)")
	pf.String("out", "out", "output directory")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "json", "json or console")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "quotemine:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode is 2 for a missing credential and 1 for any other failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if eris.Is(err, extraction.ErrMissingCredential) {
		return 2
	}
	return 1
}

// printSummary writes one "key=value key=value" line.
func printSummary(w io.Writer, kv ...any) {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", kv[i], kv[i+1]))
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

func usdString(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func newEstimator(c *Config, log *zap.Logger) (*cost.Estimator, error) {
	tok, err := cost.NewTokenizer()
	if err != nil {
		log.Warn("tokenizer unavailable, using 4 characters per token", zap.Error(err))
	}
	pricing := cost.DefaultPricing()
	if c.Cost.PricingFile != "" {
		overrides, err := cost.LoadPricingFile(c.Cost.PricingFile)
		if err != nil {
			return nil, err
		}
		pricing = pricing.With(overrides)
	}
	return cost.NewEstimator(tok, pricing), nil
}

// checkBudget fails when a priced estimate is above maxUSD.
func checkBudget(est cost.Estimate, model string, maxUSD float64, log *zap.Logger) error {
	if maxUSD <= 0 {
		return nil
	}
	if est.USDTotal == nil {
		log.Warn("no price for model, budget not enforced", zap.String("model", model), zap.Float64("max_usd", maxUSD))
		return nil
	}
	if est.Exceeds(maxUSD) {
		return eris.Errorf("estimated cost $%s exceeds max_usd $%s", usdString(est.USDTotal), strconv.FormatFloat(maxUSD, 'f', 2, 64))
	}
	return nil
}

func loadInstructions(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "read instructions %s", path)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", eris.Errorf("instructions file %s is empty", path)
	}
	return s, nil
}

func storePath(c *Config) string {
	return filepath.Join(c.OutDir, extraction.QuoteStoreFile)
}

// loadStore reads the quote store; an absent or empty store is ErrEmptyInput.
func loadStore(c *Config) ([]extraction.Quote, error) {
	path := storePath(c)
	quotes, err := extraction.LoadQuotes(path)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, eris.Wrapf(extraction.ErrEmptyInput, "no quotes in %s", path)
	}
	return quotes, nil
}

// newExtractor checks the credential and builds the configured backend.
func newExtractor(c *Config, log *zap.Logger, format provider.Format) (extraction.Extractor, error) {
	pcfg, err := c.providerConfig(log)
	if err != nil {
		return nil, err
	}
	return provider.New(pcfg, format)
}

// commandExtractor builds the backend for a command unless the command only prices
// its work. An estimate never contacts the service, so it needs no credential.
func commandExtractor(c *Config, log *zap.Logger, format provider.Format, estimateOnly bool) (extraction.Extractor, error) {
	if estimateOnly {
		return nil, nil
	}
	return newExtractor(c, log, format)
}
