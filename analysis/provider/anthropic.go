package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis"
)

// AnthropicAnalyzer sends chunks to the Messages API. The Messages API has no response
// schema parameter, so the schema is appended to the system prompt and the output is
// validated by the orchestrator.
type AnthropicAnalyzer struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic builds an analyzer. If apiKey is empty, ANTHROPIC_API_KEY is used.
func NewAnthropic(apiKey, model string, opts ...anthropic.ClientOption) *AnthropicAnalyzer {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &AnthropicAnalyzer{client: anthropic.NewClient(apiKey, opts...), model: model}
}

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, req analysis.AnalysisRequest) (string, error) {
	if a.client == nil {
		return "", errors.New("AnthropicAnalyzer: client is nil")
	}
	if a.model == "" {
		return "", errors.New("AnthropicAnalyzer: model is empty")
	}

	msgReq, err := buildAnthropicRequest(a.model, req)
	if err != nil {
		return "", err
	}
	resp, err := a.client.CreateMessages(ctx, msgReq)
	if err != nil {
		return "", classify("anthropic", err)
	}

	var b strings.Builder
	for _, c := range resp.Content {
		b.WriteString(c.GetText())
	}
	out := b.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("anthropic: empty output (stop_reason=%s)", resp.StopReason)
	}
	return out, nil
}

func buildAnthropicRequest(model string, req analysis.AnalysisRequest) (anthropic.MessagesRequest, error) {
	system, err := systemWithSchema(req.SystemPrompt, req.Schema)
	if err != nil {
		return anthropic.MessagesRequest{}, err
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := float32(req.Temperature)
	return anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.UserMessage)},
			},
		},
	}, nil
}

func systemWithSchema(systemPrompt string, schema map[string]any) (string, error) {
	if len(schema) == 0 {
		return systemPrompt, nil
	}
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return strings.TrimSpace(systemPrompt) + "\n\nOUTPUT SCHEMA (respond with a single JSON object, no other text):\n" + string(b), nil
}
