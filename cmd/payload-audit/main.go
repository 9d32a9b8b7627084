package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis"
	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis/fileutils"
	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis/provider"
)

const toolName = "payload-audit"

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	var analyzer analysis.Analyzer
	if !cfg.DryRun {
		analyzer, err = newAnalyzer(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, analyzer, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, analysis.ErrInvalidConfig) {
		return 2
	}
	return 1
}

func newAnalyzer(cfg Config) (analysis.Analyzer, error) {
	switch cfg.Provider {
	case providerAnthropic:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("missing ANTHROPIC_API_KEY (or pass -api-key)")
		}
		return provider.NewAnthropic(apiKey, cfg.Model), nil
	default:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("missing OPENAI_API_KEY (or pass -api-key)")
		}
		return provider.NewOpenAI(apiKey, cfg.Model), nil
	}
}

func run(ctx context.Context, cfg Config, analyzer analysis.Analyzer, stdout, stderr io.Writer) error {
	records, err := loadRecordsFile(cfg.InPath, cfg.WrapKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "progress %s: loaded %d records from %s\n", toolName, len(records), cfg.InPath)

	opts, err := buildOptions(cfg, stderr)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		analyzer = analysis.AnalyzerFunc(func(context.Context, analysis.AnalysisRequest) (string, error) {
			return "", errors.New("dry run does not call the model")
		})
	}
	orch, err := analysis.NewOrchestrator(analyzer, opts)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		plan, err := orch.Prepare(records)
		if err != nil {
			return err
		}
		return printPlan(stdout, plan)
	}

	if err := fileutils.CheckWritable(cfg.OutPath, cfg.Overwrite); err != nil {
		return err
	}
	if cfg.MarkdownPath != "" {
		if err := fileutils.CheckWritable(cfg.MarkdownPath, cfg.Overwrite); err != nil {
			return err
		}
	}

	report, err := orch.Run(ctx, records)
	if err != nil {
		return err
	}

	if err := analysis.WriteReport(cfg.OutPath, report, cfg.Pretty, cfg.Overwrite); err != nil {
		return err
	}
	if cfg.MarkdownPath != "" {
		if err := analysis.WriteMarkdownReport(cfg.MarkdownPath, report, cfg.Overwrite); err != nil {
			return err
		}
	}

	fmt.Fprintf(stderr, "progress %s: wrote %s chunks_processed=%d chunks_failed=%d high=%d medium=%d\n",
		toolName, cfg.OutPath, report.ChunksProcessed, report.ChunksFailed, len(report.HighPriorityIssues), len(report.MediumPriorityIssues))
	return nil
}

func loadRecordsFile(path, wrapKey string) ([]analysis.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open -in: %w", err)
	}
	defer f.Close()

	records, err := analysis.LoadRecords(f, wrapKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func buildOptions(cfg Config, stderr io.Writer) (analysis.Options, error) {
	opts := analysis.Options{
		Fields:          cfg.Fields,
		MaxChunkTokens:  cfg.MaxChunkTokens,
		Budget:          cfg.Budget,
		CarryContext:    cfg.CarryContext,
		Concurrency:     cfg.Concurrency,
		CallTimeout:     cfg.Timeout,
		RejectOversized: cfg.RejectOversized,
	}
	if cfg.Timeout == 0 {
		// Zero on the command line means no per-call deadline.
		opts.CallTimeout = -1
	}

	if cfg.PriorityField != "" || cfg.ScoreField != "" {
		opts.SortKey = analysis.FieldSortKey(cfg.PriorityField, cfg.ScoreField)
	}

	switch cfg.Estimator {
	case estimatorTiktoken:
		est, err := analysis.NewTiktokenEstimator(cfg.TiktokenEncoding)
		if err != nil {
			return analysis.Options{}, err
		}
		opts.Estimator = est
	default:
		opts.Estimator = analysis.CharRatioEstimator{CharsPerToken: cfg.CharsPerToken}
	}

	if cfg.PromptFile != "" {
		header, err := loadPromptHeaderFromFile(cfg.PromptFile)
		if err != nil {
			return analysis.Options{}, err
		}
		opts.SystemPrompt = composeSystemPrompt(header)
	}

	logObs := analysis.NewLogObserver(stderr, toolName)
	if cfg.Progress && !cfg.DryRun {
		opts.Observer = analysis.Observers{
			analysis.ObserverFunc(func(e analysis.Event) {
				if e.Kind == analysis.EventStage || e.Kind == analysis.EventChunkFailed {
					logObs.OnEvent(e)
				}
			}),
			&progressObserver{w: stderr},
		}
	} else {
		opts.Observer = logObs
	}
	return opts, nil
}

// progressObserver drives a progress bar over chunk processing. The orchestrator
// serializes OnEvent calls.
type progressObserver struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *progressObserver) OnEvent(e analysis.Event) {
	switch e.Kind {
	case analysis.EventChunkStarted:
		if p.bar == nil {
			p.bar = progressbar.NewOptions(e.TotalChunks,
				progressbar.OptionSetDescription("  Analyzing chunks"),
				progressbar.OptionSetWriter(p.w),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
	case analysis.EventChunkSucceeded, analysis.EventChunkFailed:
		if p.bar != nil {
			_ = p.bar.Add(1)
		}
	case analysis.EventStage:
		if p.bar != nil && (e.Stage == analysis.StageDone || e.Stage == analysis.StageFailed) {
			_ = p.bar.Finish()
		}
	}
}

func printPlan(w io.Writer, plan analysis.Plan) error {
	fmt.Fprintf(w, "payload: %.1f KB -> %.1f KB (%.1f%% reduction)\n",
		float64(plan.Reduction.OriginalSizeBytes)/1024, float64(plan.Reduction.FilteredSizeBytes)/1024, plan.Reduction.ReductionPercent)
	fmt.Fprintf(w, "chunks: %d  input tokens: %d\n\n", len(plan.Chunks), plan.TokensUtilized())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tRECORDS\tCHUNK_TOKENS\tINPUT_TOKENS\tAVAILABLE\tUTILIZATION\tFLAGS")
	for i, c := range plan.Chunks {
		v := plan.Validations[i]
		flags := "-"
		if c.Oversized {
			flags = "oversized"
		}
		fmt.Fprintf(tw, "%d/%d\t%d\t%d\t%d\t%d\t%.2f%%\t%s\n",
			c.Index+1, c.TotalChunks, c.RecordCount, c.EstimatedTokens, v.TotalInputTokens, v.AvailableTokens, v.UtilizationPercent, flags)
	}
	return tw.Flush()
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Optional TOML config file (flags override file values)")
	fs.StringVar(&cfg.InPath, "in", cfg.InPath, "Path to a JSON array of records (or an object wrapping one, see -wrap-key)")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Path for the aggregated JSON report")
	fs.StringVar(&cfg.MarkdownPath, "markdown", cfg.MarkdownPath, "Optional path for a markdown rendering of the report")
	fs.StringVar(&cfg.WrapKey, "wrap-key", cfg.WrapKey, "Key holding the record array when -in is a JSON object")
	fs.StringVar(&cfg.PromptFile, "prompt-file", cfg.PromptFile, "Optional path to a custom system prompt header (prepended before the required SECURITY+output tail)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Model provider: openai or anthropic")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model to use (default depends on -provider)")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key (overrides OPENAI_API_KEY / ANTHROPIC_API_KEY)")
	fs.Var(&cfg.Fields, "fields", "Comma-separated allow-list of record fields sent to the model")
	fs.StringVar(&cfg.PriorityField, "priority-field", cfg.PriorityField, "Record field holding a high/medium/low priority used for ordering")
	fs.StringVar(&cfg.ScoreField, "score-field", cfg.ScoreField, "Record field holding a numeric score used for ordering within a priority")
	fs.IntVar(&cfg.MaxChunkTokens, "max-chunk-tokens", cfg.MaxChunkTokens, "Max estimated data tokens per chunk")
	fs.IntVar(&cfg.Budget.ContextWindow, "context-window", cfg.Budget.ContextWindow, "Model context window in tokens")
	fs.IntVar(&cfg.Budget.MaxOutputTokens, "max-output-tokens", cfg.Budget.MaxOutputTokens, "Tokens reserved for the model's response")
	fs.IntVar(&cfg.Budget.SafetyMargin, "safety-margin", cfg.Budget.SafetyMargin, "Extra tokens held back from the input budget")
	fs.StringVar(&cfg.Estimator, "estimator", cfg.Estimator, "Token estimator: chars or tiktoken")
	fs.Float64Var(&cfg.CharsPerToken, "chars-per-token", cfg.CharsPerToken, "Characters per token for -estimator=chars")
	fs.StringVar(&cfg.TiktokenEncoding, "tiktoken-encoding", cfg.TiktokenEncoding, "Encoding for -estimator=tiktoken")
	fs.BoolVar(&cfg.RejectOversized, "reject-oversized", cfg.RejectOversized, "Fail when a single record exceeds -max-chunk-tokens")
	fs.BoolVar(&cfg.CarryContext, "carry-context", cfg.CarryContext, "Pass each chunk's summary to the next chunk (requires -concurrency=1)")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max concurrent chunk analyses")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-chunk model call timeout (0 disables)")
	fs.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print the JSON report")
	fs.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "Overwrite existing report files")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Project, chunk and validate only; print the chunk plan without calling the model")
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Show a progress bar while chunks are analyzed")
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	bindFlags(fs, &cfg)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ConfigPath != "" {
		// Re-apply the command line over the file so flags win.
		fileCfg, err := loadConfigFile(cfg.ConfigPath, defaultConfig())
		if err != nil {
			return Config{}, err
		}
		fileCfg.ConfigPath = cfg.ConfigPath
		override := flag.NewFlagSet(fs.Name(), flag.ContinueOnError)
		override.SetOutput(io.Discard)
		bindFlags(override, &fileCfg)
		if err := override.Parse(args); err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}
	if cfg.InPath != "" {
		cfg.InPath = filepath.Clean(cfg.InPath)
	}
	if cfg.OutPath != "" {
		cfg.OutPath = filepath.Clean(cfg.OutPath)
	}
	if cfg.MarkdownPath != "" {
		cfg.MarkdownPath = filepath.Clean(cfg.MarkdownPath)
	}
	if cfg.PromptFile != "" {
		cfg.PromptFile = filepath.Clean(cfg.PromptFile)
	}
	return cfg, nil
}
