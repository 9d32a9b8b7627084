package analysis

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidator_DefaultBudget(t *testing.T) {
	t.Parallel()

	v, err := NewValidator(DefaultBudget(), nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	r := v.Validate(strings.Repeat("s", 4*1000), strings.Repeat("u", 4*234), strings.Repeat("d", 4*14000))

	if r.SystemPromptTokens != 1000 || r.UserMessageTokens != 234 || r.DataTokens != 14000 {
		t.Fatalf("parts=%d/%d/%d", r.SystemPromptTokens, r.UserMessageTokens, r.DataTokens)
	}
	if r.TotalInputTokens != 15234 {
		t.Fatalf("TotalInputTokens=%d, want 15234", r.TotalInputTokens)
	}
	if r.AvailableTokens != 123500 {
		t.Fatalf("AvailableTokens=%d, want 123500", r.AvailableTokens)
	}
	if r.RemainingTokens != 108266 {
		t.Fatalf("RemainingTokens=%d, want 108266", r.RemainingTokens)
	}
	if !r.FitsBudget {
		t.Fatalf("FitsBudget=false")
	}
	if math.Abs(r.UtilizationPercent-12.335) > 0.01 {
		t.Fatalf("UtilizationPercent=%v, want ~12.33", r.UtilizationPercent)
	}
	if r.Overage() != 0 {
		t.Fatalf("Overage=%d", r.Overage())
	}
}

func TestValidator_ExactFitIsInclusive(t *testing.T) {
	t.Parallel()

	cfg := BudgetConfig{ContextWindow: 200, MaxOutputTokens: 50, SafetyMargin: 50}
	v, err := NewValidator(cfg, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	r := v.Validate("", "", strings.Repeat("d", 400))
	if r.RemainingTokens != 0 || !r.FitsBudget {
		t.Fatalf("remaining=%d fits=%v, want 0/true", r.RemainingTokens, r.FitsBudget)
	}
	if r.UtilizationPercent != 100 {
		t.Fatalf("utilization=%v", r.UtilizationPercent)
	}

	r = v.Validate("", "", strings.Repeat("d", 401))
	if r.FitsBudget || r.Overage() != 1 {
		t.Fatalf("fits=%v overage=%d, want false/1", r.FitsBudget, r.Overage())
	}
}

func TestValidator_MonotonicInPayload(t *testing.T) {
	t.Parallel()

	v, err := NewValidator(BudgetConfig{ContextWindow: 1000, MaxOutputTokens: 100, SafetyMargin: 10}, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	prev := v.Validate("sys", "user", "")
	for n := 4; n <= 8000; n += 4 {
		r := v.Validate("sys", "user", strings.Repeat("d", n))
		if r.DataTokens <= prev.DataTokens {
			t.Fatalf("n=%d dataTokens=%d not > %d", n, r.DataTokens, prev.DataTokens)
		}
		if r.RemainingTokens > prev.RemainingTokens {
			t.Fatalf("n=%d remaining increased %d > %d", n, r.RemainingTokens, prev.RemainingTokens)
		}
		if r.TotalInputTokens > r.AvailableTokens && r.FitsBudget {
			t.Fatalf("n=%d fits while over budget", n)
		}
		prev = r
	}
}

func TestNewValidator_RejectsNonPositiveAvailable(t *testing.T) {
	t.Parallel()

	cases := []BudgetConfig{
		{ContextWindow: 1000, MaxOutputTokens: 900, SafetyMargin: 100},
		{ContextWindow: 1000, MaxOutputTokens: 2000},
		{ContextWindow: 0},
		{ContextWindow: 1000, MaxOutputTokens: -1},
		{ContextWindow: 1000, SafetyMargin: -1},
	}
	for _, cfg := range cases {
		_, err := NewValidator(cfg, nil)
		var ce *ConfigError
		if !errors.As(err, &ce) || !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("cfg=%+v err=%v, want *ConfigError", cfg, err)
		}
	}
}

func TestValidateRequest_NonPositiveAvailableNeverFits(t *testing.T) {
	t.Parallel()

	r := ValidateRequest("", "", "", BudgetConfig{ContextWindow: 100, MaxOutputTokens: 100}, nil)
	if r.FitsBudget {
		t.Fatalf("FitsBudget=true with zero available")
	}
	if !math.IsInf(r.UtilizationPercent, 1) {
		t.Fatalf("UtilizationPercent=%v, want +Inf", r.UtilizationPercent)
	}
}
