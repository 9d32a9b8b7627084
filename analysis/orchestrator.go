package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCallTimeout bounds a single model call when Options.CallTimeout is zero.
const DefaultCallTimeout = 2 * time.Minute

// DefaultMaxChunkTokens is the packing limit used when Options.MaxChunkTokens is zero.
const DefaultMaxChunkTokens = 8000

// AnalysisRequest is everything a model call needs for one chunk.
type AnalysisRequest struct {
	ChunkIndex      int
	TotalChunks     int
	SystemPrompt    string
	UserMessage     string
	SchemaName      string
	Schema          map[string]any
	Temperature     float64
	MaxOutputTokens int
}

// Analyzer performs the model call and returns the raw output text.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req AnalysisRequest) (string, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	return f(ctx, req)
}

// Options configures an Orchestrator.
type Options struct {
	// Fields is the projection allow-list. It must not be empty.
	Fields []string

	// MaxChunkTokens is the greedy packing limit per chunk.
	MaxChunkTokens int

	Budget BudgetConfig

	// SortKey ranks records; nil ranks every record as DefaultSortKey.
	SortKey SortKeyFunc

	// CarryContext passes the previous chunk's summary into the next chunk's prompt.
	// It forces sequential processing.
	CarryContext bool

	// Concurrency is the number of chunks processed at once (<= 1 means sequential).
	// It must be <= 1 when CarryContext is set.
	Concurrency int

	// CallTimeout bounds each model call. Zero uses DefaultCallTimeout; negative disables it.
	CallTimeout time.Duration

	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string

	// Estimator defaults to the 4 chars/token estimator.
	Estimator Estimator

	// RejectOversized fails the run when a single record exceeds MaxChunkTokens.
	RejectOversized bool

	Observer Observer

	// Now is the clock used for the report's audit date.
	Now func() time.Time
}

// Validate checks option combinations that can be rejected before any work starts.
func (o Options) Validate() error {
	if len(o.Fields) == 0 {
		return &ConfigError{Field: "fields", Reason: "allow-list is empty"}
	}
	if o.MaxChunkTokens < 0 {
		return &ConfigError{Field: "max_chunk_tokens", Reason: "must be >= 0"}
	}
	if o.Concurrency < 0 {
		return &ConfigError{Field: "concurrency", Reason: "must be >= 0"}
	}
	if o.CarryContext && o.Concurrency > 1 {
		return &ConfigError{Field: "concurrency", Reason: "context carrying is sequential; concurrency must be <= 1"}
	}
	return o.Budget.Validate()
}

// Plan is the output of the pre-flight stages: projection, chunking and validation.
type Plan struct {
	Reduction   ReductionStats
	Chunks      []Chunk
	Validations []BudgetValidationResult
}

// TokensUtilized is the sum of input tokens across all validated chunks.
func (p Plan) TokensUtilized() int {
	total := 0
	for _, v := range p.Validations {
		total += v.TotalInputTokens
	}
	return total
}

// Orchestrator runs Preprocessing → Chunking → Validating → Processing → Aggregating.
type Orchestrator struct {
	opts      Options
	analyzer  Analyzer
	projector *Projector
	chunker   Chunker
	validator *Validator
	schema    map[string]any

	obsMu    sync.Mutex
	observer Observer
}

// NewOrchestrator validates opts eagerly and returns a *ConfigError on bad combinations.
func NewOrchestrator(analyzer Analyzer, opts Options) (*Orchestrator, error) {
	if analyzer == nil {
		return nil, &ConfigError{Field: "analyzer", Reason: "is nil"}
	}
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.Budget == (BudgetConfig{}) {
		opts.Budget = DefaultBudget()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Estimator = estimatorOrDefault(opts.Estimator)

	validator, err := NewValidator(opts.Budget, opts.Estimator)
	if err != nil {
		return nil, err
	}

	var observer Observer = discardObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	}

	return &Orchestrator{
		opts:      opts,
		analyzer:  analyzer,
		projector: NewProjector(opts.Fields),
		chunker: Chunker{
			MaxTokens: opts.MaxChunkTokens,
			SortKey:   opts.SortKey,
			Estimator: opts.Estimator,
		},
		validator: validator,
		schema:    ResultSchema(),
		observer:  observer,
	}, nil
}

func (o *Orchestrator) emit(e Event) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observer.OnEvent(e)
}

func (o *Orchestrator) enter(s Stage, msg string) {
	o.emit(Event{Stage: s, Kind: EventStage, Message: msg})
}

func (o *Orchestrator) fail(err error) error {
	o.emit(Event{Stage: StageFailed, Kind: EventStage, Err: err})
	return err
}

// Prepare runs the pre-flight stages without calling the model. A *BudgetExceededError
// lists every chunk that does not fit.
func (o *Orchestrator) Prepare(records []Record) (Plan, error) {
	o.enter(StagePreprocessing, fmt.Sprintf("records=%d fields=%d", len(records), o.projector.Fields()))
	filtered := o.projector.Project(records)
	reduction, err := CalculateReduction(records, filtered)
	if err != nil {
		return Plan{}, o.fail(fmt.Errorf("preprocessing: %w", err))
	}

	o.enter(StageChunking, fmt.Sprintf("reduction=%.1f%% max_chunk_tokens=%d", reduction.ReductionPercent, o.opts.MaxChunkTokens))
	chunks, err := o.chunker.Chunk(filtered)
	if err != nil {
		return Plan{}, o.fail(fmt.Errorf("chunking: %w", err))
	}
	if o.opts.RejectOversized {
		for _, c := range chunks {
			if c.Oversized {
				return Plan{}, o.fail(&OversizedRecordError{ChunkIndex: c.Index, EstimatedTokens: c.EstimatedTokens, MaxTokens: o.opts.MaxChunkTokens})
			}
		}
	}

	o.enter(StageValidating, fmt.Sprintf("chunks=%d", len(chunks)))
	validations := make([]BudgetValidationResult, 0, len(chunks))
	var over []ChunkOverage
	for _, c := range chunks {
		payload, err := c.Payload()
		if err != nil {
			return Plan{}, o.fail(fmt.Errorf("validating: %w", err))
		}
		v := o.validator.Validate(o.opts.SystemPrompt, instructionText(c, ""), payload)
		validations = append(validations, v)
		o.emit(Event{Stage: StageValidating, Kind: EventChunkValidated, ChunkIndex: c.Index, TotalChunks: c.TotalChunks, Validation: &v})
		if !v.FitsBudget {
			over = append(over, ChunkOverage{
				ChunkIndex:       c.Index,
				TotalInputTokens: v.TotalInputTokens,
				AvailableTokens:  v.AvailableTokens,
				OverBy:           v.Overage(),
			})
		}
	}
	if len(over) > 0 {
		return Plan{}, o.fail(&BudgetExceededError{Chunks: over})
	}

	return Plan{Reduction: reduction, Chunks: chunks, Validations: validations}, nil
}

// Run executes a full analysis. Budget and configuration failures abort the run before any
// model call; individual chunk failures are reported and excluded from the aggregate.
func (o *Orchestrator) Run(ctx context.Context, records []Record) (AggregatedReport, error) {
	if ctx == nil {
		return AggregatedReport{}, errors.New("Run: ctx is nil")
	}
	plan, err := o.Prepare(records)
	if err != nil {
		return AggregatedReport{}, err
	}

	o.enter(StageProcessing, fmt.Sprintf("chunks=%d concurrency=%d carry_context=%v", len(plan.Chunks), o.concurrency(), o.opts.CarryContext))
	outcomes := o.process(ctx, plan.Chunks)
	if err := ctx.Err(); err != nil {
		return AggregatedReport{}, o.fail(fmt.Errorf("processing: %w", err))
	}

	o.enter(StageAggregating, "")
	var (
		results []AnalysisResult
		failed  = []int{}
	)
	for i, oc := range outcomes {
		if oc.err != nil {
			failed = append(failed, i)
			continue
		}
		results = append(results, oc.result)
	}

	report := Aggregate(results)
	report.AuditDate = o.opts.Now().UTC().Format("2006-01-02")
	report.ChunksFailed = len(failed)
	report.FailedChunks = failed
	report.ProcessingMetadata = ProcessingMetadata{
		OriginalPayloadSizeKB:     bytesToKB(plan.Reduction.OriginalSizeBytes),
		FilteredPayloadSizeKB:     bytesToKB(plan.Reduction.FilteredSizeBytes),
		ReductionPercent:          plan.Reduction.ReductionPercent,
		ChunksCreated:             len(plan.Chunks),
		TokenBudgetUtilized:       plan.TokensUtilized(),
		ContextVaryingPatternUsed: o.opts.CarryContext,
	}

	o.enter(StageDone, fmt.Sprintf("chunks_processed=%d chunks_failed=%d", report.ChunksProcessed, report.ChunksFailed))
	return report, nil
}

type chunkOutcome struct {
	result AnalysisResult
	err    error
}

func (o *Orchestrator) concurrency() int {
	if o.opts.CarryContext || o.opts.Concurrency <= 1 {
		return 1
	}
	return o.opts.Concurrency
}

func (o *Orchestrator) process(ctx context.Context, chunks []Chunk) []chunkOutcome {
	outcomes := make([]chunkOutcome, len(chunks))
	if len(chunks) == 0 {
		return outcomes
	}

	concurrency := o.concurrency()
	if concurrency == 1 {
		prevSummary := ""
		for i, c := range chunks {
			if ctx.Err() != nil {
				outcomes[i] = chunkOutcome{err: &ChunkProcessingError{ChunkIndex: c.Index, Err: ctx.Err()}}
				continue
			}
			carried := ""
			if o.opts.CarryContext {
				carried = prevSummary
			}
			outcomes[i] = o.processChunk(ctx, c, carried)
			if outcomes[i].err == nil {
				prevSummary = outcomes[i].result.Summary
			}
		}
		return outcomes
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c Chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = chunkOutcome{err: &ChunkProcessingError{ChunkIndex: c.Index, Err: ctx.Err()}}
				return
			}
			defer func() { <-sem }()

			outcomes[i] = o.processChunk(ctx, c, "")
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) processChunk(ctx context.Context, c Chunk, previousSummary string) chunkOutcome {
	o.emit(Event{Stage: StageProcessing, Kind: EventChunkStarted, ChunkIndex: c.Index, TotalChunks: c.TotalChunks})

	result, err := o.callChunk(ctx, c, previousSummary)
	if err != nil {
		cpe := &ChunkProcessingError{ChunkIndex: c.Index, Err: err}
		o.emit(Event{Stage: StageProcessing, Kind: EventChunkFailed, ChunkIndex: c.Index, TotalChunks: c.TotalChunks, Err: cpe})
		return chunkOutcome{err: cpe}
	}

	o.emit(Event{
		Stage:       StageProcessing,
		Kind:        EventChunkSucceeded,
		ChunkIndex:  c.Index,
		TotalChunks: c.TotalChunks,
		Message:     fmt.Sprintf("high=%d medium=%d", len(result.HighPriorityIssues), len(result.MediumPriorityIssues)),
	})
	return chunkOutcome{result: result}
}

func (o *Orchestrator) callChunk(ctx context.Context, c Chunk, previousSummary string) (AnalysisResult, error) {
	payload, err := c.Payload()
	if err != nil {
		return AnalysisResult{}, err
	}

	// Pre-flight validation could not see the carried summary.
	instructions := instructionText(c, previousSummary)
	if v := o.validator.Validate(o.opts.SystemPrompt, instructions, payload); !v.FitsBudget {
		return AnalysisResult{}, &BudgetExceededError{Chunks: []ChunkOverage{{
			ChunkIndex:       c.Index,
			TotalInputTokens: v.TotalInputTokens,
			AvailableTokens:  v.AvailableTokens,
			OverBy:           v.Overage(),
		}}}
	}

	req := AnalysisRequest{
		ChunkIndex:      c.Index,
		TotalChunks:     c.TotalChunks,
		SystemPrompt:    o.opts.SystemPrompt,
		UserMessage:     instructions + payload,
		SchemaName:      ResultSchemaName,
		Schema:          o.schema,
		Temperature:     0,
		MaxOutputTokens: o.opts.Budget.MaxOutputTokens,
	}

	callCtx := ctx
	if o.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
	}

	out, err := o.analyzer.Analyze(callCtx, req)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}

	result, err := DecodeResult(out)
	if err != nil {
		return AnalysisResult{}, err
	}
	result.ChunkIndex = c.Index
	result.TotalChunks = c.TotalChunks
	result.RecordsAnalyzed = c.RecordCount
	return result, nil
}

// instructionText is the user message without the record payload, as it is budgeted.
func instructionText(c Chunk, previousSummary string) string {
	return ComposeRequestMessage(BuildUserMessage(c, previousSummary), "")
}
