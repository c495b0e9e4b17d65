package main

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theimaginaryfoundation/quotemine/extraction"
	"github.com/theimaginaryfoundation/quotemine/extraction/provider"
)

// Config is the merged configuration of defaults, quotemine.yaml, QUOTEMINE_* variables
// and command flags.
type Config struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	OutDir   string `yaml:"out_dir" mapstructure:"out_dir"`

	Scan   ScanConfig   `yaml:"scan" mapstructure:"scan"`
	Dedupe DedupeConfig `yaml:"dedupe" mapstructure:"dedupe"`
	Items  ItemsConfig  `yaml:"items" mapstructure:"items"`
	Cost   CostConfig   `yaml:"cost" mapstructure:"cost"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ScanConfig configures input loading, chunking and extraction.
type ScanConfig struct {
	PageChars         int           `yaml:"page_chars" mapstructure:"page_chars"`
	ChunkChars        int           `yaml:"chunk_chars" mapstructure:"chunk_chars"`
	Roles             string        `yaml:"roles" mapstructure:"roles"`
	ArrayField        string        `yaml:"array_field" mapstructure:"array_field"`
	Concurrency       int           `yaml:"concurrency" mapstructure:"concurrency"`
	CallTimeout       time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxOutputTokens   int64         `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	InstructionsFile  string        `yaml:"instructions_file" mapstructure:"instructions_file"`
	Resume            bool          `yaml:"resume" mapstructure:"resume"`
	CheckpointPath    string        `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
	MaxUSD            float64       `yaml:"max_usd" mapstructure:"max_usd"`
	MetricsAddr       string        `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	FlexTier          bool          `yaml:"flex_tier" mapstructure:"flex_tier"`
}

// DedupeConfig configures near-duplicate removal.
type DedupeConfig struct {
	Threshold int `yaml:"threshold" mapstructure:"threshold"`
}

// ItemsConfig configures item reconstruction.
type ItemsConfig struct {
	MergeThreshold float64 `yaml:"merge_threshold" mapstructure:"merge_threshold"`
}

// CostConfig configures estimates.
type CostConfig struct {
	Model       string `yaml:"model" mapstructure:"model"`
	PricingFile string `yaml:"pricing_file" mapstructure:"pricing_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("quotemine")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUOTEMINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", provider.OpenAI)
	v.SetDefault("model", "")
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "")
	v.SetDefault("out_dir", "out")
	v.SetDefault("scan.page_chars", extraction.DefaultPageChars)
	v.SetDefault("scan.chunk_chars", extraction.DefaultChunkChars)
	v.SetDefault("scan.roles", "both")
	v.SetDefault("scan.array_field", "")
	v.SetDefault("scan.concurrency", 1)
	v.SetDefault("scan.call_timeout", extraction.DefaultCallTimeout)
	v.SetDefault("scan.requests_per_minute", 0)
	v.SetDefault("scan.max_output_tokens", 4000)
	v.SetDefault("scan.instructions_file", "")
	v.SetDefault("scan.resume", false)
	v.SetDefault("scan.checkpoint_path", "")
	v.SetDefault("scan.max_usd", 0.0)
	v.SetDefault("scan.metrics_addr", "")
	v.SetDefault("scan.flex_tier", false)
	v.SetDefault("dedupe.threshold", extraction.DefaultNearDupThreshold)
	v.SetDefault("items.merge_threshold", extraction.DefaultMergeThreshold)
	v.SetDefault("cost.model", "")
	v.SetDefault("cost.pricing_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	return v
}

// flagKeys maps command-line flags onto config keys. A flag only overrides the
// config when the running command defines it.
var flagKeys = map[string]string{
	"provider":        "provider",
	"model":           "model",
	"out":             "out_dir",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"page-chars":      "scan.page_chars",
	"chunk-chars":     "scan.chunk_chars",
	"roles":           "scan.roles",
	"array-field":     "scan.array_field",
	"concurrency":     "scan.concurrency",
	"timeout":         "scan.call_timeout",
	"rpm":             "scan.requests_per_minute",
	"instructions":    "scan.instructions_file",
	"resume":          "scan.resume",
	"checkpoint":      "scan.checkpoint_path",
	"max-usd":         "scan.max_usd",
	"metrics-addr":    "scan.metrics_addr",
	"threshold":       "dedupe.threshold",
	"merge-threshold": "items.merge_threshold",
	"cost-model":      "cost.model",
	"pricing":         "cost.pricing_file",
}

// loadConfig merges every configuration layer for cmd. configFile, when set, must exist.
func loadConfig(cmd *cobra.Command, configFile string) (*Config, error) {
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	if cmd != nil {
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, eris.Wrapf(err, "config: bind flag %s", name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = provider.DefaultModel(cfg.Provider)
	}
	if cfg.Cost.Model == "" {
		cfg.Cost.Model = cfg.Model
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case provider.OpenAI, provider.Anthropic, provider.Ollama:
	default:
		return eris.Errorf("config: unknown provider %q", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return eris.New("config: model is empty")
	}
	if c.Scan.PageChars <= 0 {
		return eris.Errorf("config: scan.page_chars must be > 0 (got %d)", c.Scan.PageChars)
	}
	if c.Scan.ChunkChars <= 0 {
		return eris.Errorf("config: scan.chunk_chars must be > 0 (got %d)", c.Scan.ChunkChars)
	}
	if c.Scan.Concurrency <= 0 {
		return eris.Errorf("config: scan.concurrency must be > 0 (got %d)", c.Scan.Concurrency)
	}
	if c.Scan.CallTimeout <= 0 {
		return eris.Errorf("config: scan.call_timeout must be > 0 (got %s)", c.Scan.CallTimeout)
	}
	if c.Scan.RequestsPerMinute < 0 {
		return eris.Errorf("config: scan.requests_per_minute must be >= 0 (got %d)", c.Scan.RequestsPerMinute)
	}
	if c.Scan.MaxUSD < 0 {
		return eris.Errorf("config: scan.max_usd must be >= 0 (got %g)", c.Scan.MaxUSD)
	}
	if _, err := extraction.ParseRoleFilter(c.Scan.Roles); err != nil {
		return eris.Wrap(err, "config: scan.roles")
	}
	if c.Dedupe.Threshold < 0 {
		return eris.Errorf("config: dedupe.threshold must be >= 0 (got %d)", c.Dedupe.Threshold)
	}
	if c.Items.MergeThreshold <= 0 || c.Items.MergeThreshold > 1 {
		return eris.Errorf("config: items.merge_threshold must be in (0,1] (got %g)", c.Items.MergeThreshold)
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return eris.New("config: out_dir is empty")
	}
	return nil
}

// providerConfig resolves the credential and builds the backend settings.
func (c *Config) providerConfig(log *zap.Logger) (provider.Config, error) {
	key, err := provider.ResolveAPIKey(c.Provider, c.APIKey)
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{
		Provider:        c.Provider,
		Model:           c.Model,
		APIKey:          key,
		BaseURL:         c.BaseURL,
		MaxOutputTokens: c.Scan.MaxOutputTokens,
		FlexTier:        c.Scan.FlexTier,
		Logger:          log,
	}, nil
}

// InitLogger builds the process logger and installs it globally.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
