package analysis

// Issue is one record-specific finding reported by the model.
type Issue struct {
	RecordID    string `json:"record_id"`
	IssueType   string `json:"issue_type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`

	// RequiredAction is empty when the model has no concrete action.
	RequiredAction string `json:"required_action,omitempty"`

	// PriorityDays is 0 when no deadline applies.
	PriorityDays int `json:"priority_days,omitempty"`
}

// AnalysisResult is the structured output the model returns for a single chunk.
type AnalysisResult struct {
	ChunkIndex           int      `json:"chunk_index"`
	TotalChunks          int      `json:"total_chunks"`
	RecordsAnalyzed      int      `json:"records_analyzed"`
	HighPriorityIssues   []Issue  `json:"high_priority_issues"`
	MediumPriorityIssues []Issue  `json:"medium_priority_issues"`
	Recommendations      []string `json:"recommendations"`
	Summary              string   `json:"summary"`
}

// ProcessingMetadata records how the payload was reduced, split and budgeted.
type ProcessingMetadata struct {
	OriginalPayloadSizeKB     float64 `json:"original_payload_size_kb"`
	FilteredPayloadSizeKB     float64 `json:"filtered_payload_size_kb"`
	ReductionPercent          float64 `json:"reduction_percent"`
	ChunksCreated             int     `json:"chunks_created"`
	TokenBudgetUtilized       int     `json:"token_budget_utilized"`
	ContextVaryingPatternUsed bool    `json:"context_varying_pattern_used"`
}

// AggregatedReport is the terminal artifact of a run.
type AggregatedReport struct {
	AuditDate            string             `json:"audit_date"`
	TotalRecordsAnalyzed int                `json:"total_records_analyzed"`
	ChunksProcessed      int                `json:"chunks_processed"`
	ChunksFailed         int                `json:"chunks_failed"`
	FailedChunks         []int              `json:"failed_chunks"`
	HighPriorityIssues   []Issue            `json:"high_priority_issues"`
	MediumPriorityIssues []Issue            `json:"medium_priority_issues"`
	Recommendations      []string           `json:"recommendations"`
	ProcessingMetadata   ProcessingMetadata `json:"processing_metadata"`
}
