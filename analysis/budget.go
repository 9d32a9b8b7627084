package analysis

import "math"

// BudgetConfig describes the model's context window and what must be held back from it.
type BudgetConfig struct {
	ContextWindow   int `json:"context_window" toml:"context_window"`
	MaxOutputTokens int `json:"max_output_tokens" toml:"max_output_tokens"`
	SafetyMargin    int `json:"safety_margin" toml:"safety_margin"`
}

// DefaultBudget is a 128k context window with 4000 output tokens and a 500 token margin.
func DefaultBudget() BudgetConfig {
	return BudgetConfig{ContextWindow: 128_000, MaxOutputTokens: 4_000, SafetyMargin: 500}
}

// Available is the input budget left after reserving output and margin.
func (c BudgetConfig) Available() int {
	return c.ContextWindow - c.MaxOutputTokens - c.SafetyMargin
}

// Validate rejects negative values and configurations that leave no input budget.
func (c BudgetConfig) Validate() error {
	switch {
	case c.ContextWindow <= 0:
		return &ConfigError{Field: "context_window", Reason: "must be > 0"}
	case c.MaxOutputTokens < 0:
		return &ConfigError{Field: "max_output_tokens", Reason: "must be >= 0"}
	case c.SafetyMargin < 0:
		return &ConfigError{Field: "safety_margin", Reason: "must be >= 0"}
	case c.Available() <= 0:
		return &ConfigError{Field: "context_window", Reason: "max_output_tokens + safety_margin must be < context_window"}
	}
	return nil
}

// BudgetValidationResult is the outcome of one pre-flight budget check.
type BudgetValidationResult struct {
	SystemPromptTokens int     `json:"system_prompt_tokens"`
	UserMessageTokens  int     `json:"user_message_tokens"`
	DataTokens         int     `json:"data_tokens"`
	TotalInputTokens   int     `json:"total_input_tokens"`
	AvailableTokens    int     `json:"available_tokens"`
	RemainingTokens    int     `json:"remaining_tokens"`
	FitsBudget         bool    `json:"fits_budget"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Overage is how many tokens the request is over budget (0 when it fits).
func (r BudgetValidationResult) Overage() int {
	if r.RemainingTokens >= 0 {
		return 0
	}
	return -r.RemainingTokens
}

// Validator checks whether a prompt + data request fits the configured budget.
type Validator struct {
	cfg BudgetConfig
	est Estimator
}

// NewValidator returns a *ConfigError when cfg leaves no input budget.
func NewValidator(cfg BudgetConfig, est Estimator) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg, est: estimatorOrDefault(est)}, nil
}

// Config returns the validator's budget configuration.
func (v *Validator) Config() BudgetConfig {
	return v.cfg
}

// Validate estimates each part independently and compares the total with the available budget.
// Exactly zero remaining tokens fits.
func (v *Validator) Validate(systemPrompt, userMessage, dataPayload string) BudgetValidationResult {
	return ValidateRequest(systemPrompt, userMessage, dataPayload, v.cfg, v.est)
}

// ValidateRequest is the stateless form of Validator.Validate. A non-positive available
// budget never fits and reports +Inf utilization.
func ValidateRequest(systemPrompt, userMessage, dataPayload string, cfg BudgetConfig, est Estimator) BudgetValidationResult {
	est = estimatorOrDefault(est)
	r := BudgetValidationResult{
		SystemPromptTokens: est.Estimate(systemPrompt),
		UserMessageTokens:  est.Estimate(userMessage),
		DataTokens:         est.Estimate(dataPayload),
		AvailableTokens:    cfg.Available(),
	}
	r.TotalInputTokens = r.SystemPromptTokens + r.UserMessageTokens + r.DataTokens
	r.RemainingTokens = r.AvailableTokens - r.TotalInputTokens

	if r.AvailableTokens <= 0 {
		r.FitsBudget = false
		r.UtilizationPercent = math.Inf(1)
		return r
	}
	r.FitsBudget = r.RemainingTokens >= 0
	r.UtilizationPercent = float64(r.TotalInputTokens) / float64(r.AvailableTokens) * 100
	return r
}
