package analysis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBudgetExceeded is matched by *BudgetExceededError.
	ErrBudgetExceeded = errors.New("chunk exceeds token budget")

	// ErrChunkProcessing is matched by *ChunkProcessingError and *MalformedResponseError.
	ErrChunkProcessing = errors.New("chunk processing failed")

	// ErrMalformedResponse is matched by *MalformedResponseError.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrInvalidConfig is matched by *ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrOversizedRecord is matched by *OversizedRecordError.
	ErrOversizedRecord = errors.New("record exceeds max chunk tokens")
)

// ChunkOverage identifies one chunk that failed pre-flight validation.
type ChunkOverage struct {
	ChunkIndex       int
	TotalInputTokens int
	AvailableTokens  int
	OverBy           int
}

// BudgetExceededError aborts a run before any model call is made.
type BudgetExceededError struct {
	Chunks []ChunkOverage
}

func (e *BudgetExceededError) Error() string {
	parts := make([]string, 0, len(e.Chunks))
	for _, c := range e.Chunks {
		parts = append(parts, fmt.Sprintf("chunk %d over by %d tokens (%d/%d)", c.ChunkIndex, c.OverBy, c.TotalInputTokens, c.AvailableTokens))
	}
	return fmt.Sprintf("%d chunk(s) exceed token budget: %s; reduce max chunk tokens and retry", len(e.Chunks), strings.Join(parts, ", "))
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// ChunkIndices lists the failing chunk indices in order.
func (e *BudgetExceededError) ChunkIndices() []int {
	out := make([]int, 0, len(e.Chunks))
	for _, c := range e.Chunks {
		out = append(out, c.ChunkIndex)
	}
	return out
}

// ChunkProcessingError is a recoverable failure of one chunk's model call.
type ChunkProcessingError struct {
	ChunkIndex int
	Err        error
}

func (e *ChunkProcessingError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *ChunkProcessingError) Unwrap() error { return e.Err }

func (e *ChunkProcessingError) Is(target error) bool { return target == ErrChunkProcessing }

// MalformedResponseError means the model output did not decode into AnalysisResult.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse || target == ErrChunkProcessing
}

// ConfigError reports an invalid option detected before any work starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// OversizedRecordError is returned when oversized singleton chunks are rejected by policy.
type OversizedRecordError struct {
	ChunkIndex      int
	EstimatedTokens int
	MaxTokens       int
}

func (e *OversizedRecordError) Error() string {
	return fmt.Sprintf("chunk %d: single record estimated at %d tokens exceeds max chunk tokens %d", e.ChunkIndex, e.EstimatedTokens, e.MaxTokens)
}

func (e *OversizedRecordError) Is(target error) bool { return target == ErrOversizedRecord }
