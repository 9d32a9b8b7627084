package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis"
)

const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"

	estimatorChars    = "chars"
	estimatorTiktoken = "tiktoken"
)

var defaultModels = map[string]string{
	providerOpenAI:    "gpt-5-mini",
	providerAnthropic: "claude-sonnet-4-6",
}

// Config is the merged result of an optional TOML file and command-line flags.
type Config struct {
	ConfigPath string `toml:"-"`

	InPath       string `toml:"in"`
	OutPath      string `toml:"out"`
	MarkdownPath string `toml:"markdown"`
	WrapKey      string `toml:"wrap_key"`
	PromptFile   string `toml:"prompt_file"`

	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`

	Fields        fieldList `toml:"fields"`
	PriorityField string    `toml:"priority_field"`
	ScoreField    string    `toml:"score_field"`

	MaxChunkTokens   int                   `toml:"max_chunk_tokens"`
	Budget           analysis.BudgetConfig `toml:"budget"`
	Estimator        string                `toml:"estimator"`
	CharsPerToken    float64               `toml:"chars_per_token"`
	TiktokenEncoding string                `toml:"tiktoken_encoding"`
	RejectOversized  bool                  `toml:"reject_oversized"`

	CarryContext bool          `toml:"carry_context"`
	Concurrency  int           `toml:"concurrency"`
	Timeout      time.Duration `toml:"timeout"`

	Pretty    bool `toml:"pretty"`
	Overwrite bool `toml:"overwrite"`
	DryRun    bool `toml:"dry_run"`
	Progress  bool `toml:"progress"`
}

func (c Config) Validate() error {
	if c.InPath == "" {
		return errors.New("missing -in")
	}
	if c.OutPath == "" && !c.DryRun {
		return errors.New("missing -out")
	}
	switch c.Provider {
	case providerOpenAI, providerAnthropic:
	default:
		return fmt.Errorf("unknown -provider %q (want %s or %s)", c.Provider, providerOpenAI, providerAnthropic)
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if len(c.Fields) == 0 {
		return errors.New("missing -fields")
	}
	if c.MaxChunkTokens <= 0 {
		return errors.New("max chunk tokens must be > 0")
	}
	switch c.Estimator {
	case estimatorChars:
		if c.CharsPerToken <= 0 {
			return errors.New("chars per token must be > 0")
		}
	case estimatorTiktoken:
	default:
		return fmt.Errorf("unknown -estimator %q (want %s or %s)", c.Estimator, estimatorChars, estimatorTiktoken)
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if c.CarryContext && c.Concurrency > 1 {
		return errors.New("-carry-context requires -concurrency=1")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	return c.Budget.Validate()
}

func defaultConfig() Config {
	return Config{
		OutPath:          "audit_report.json",
		WrapKey:          "records",
		Provider:         providerOpenAI,
		MaxChunkTokens:   analysis.DefaultMaxChunkTokens,
		Budget:           analysis.DefaultBudget(),
		Estimator:        estimatorChars,
		CharsPerToken:    analysis.DefaultCharsPerToken,
		TiktokenEncoding: "cl100k_base",
		Concurrency:      1,
		Timeout:          analysis.DefaultCallTimeout,
		Progress:         true,
	}
}

// loadConfigFile decodes a TOML file over base. Keys missing from the file keep base values.
func loadConfigFile(path string, base Config) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return base, fmt.Errorf("config: %w", err)
	}
	md, err := toml.DecodeFile(path, &base)
	if err != nil {
		return base, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return base, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return base, nil
}

// fieldList is a comma-separated flag value that also decodes from a TOML array.
type fieldList []string

func (f *fieldList) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(*f, ",")
}

func (f *fieldList) Set(s string) error {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*f = out
	return nil
}
