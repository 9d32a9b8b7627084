package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis"
)

// OpenAIAnalyzer sends chunks to the Responses API with a strict JSON-schema output format.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds an analyzer. If apiKey is empty, OPENAI_API_KEY is used by the client.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAIAnalyzer {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	client := openai.NewClient(opts...)
	return &OpenAIAnalyzer{client: &client, model: model}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req analysis.AnalysisRequest) (string, error) {
	if a.client == nil {
		return "", errors.New("OpenAIAnalyzer: client is nil")
	}
	if a.model == "" {
		return "", errors.New("OpenAIAnalyzer: model is empty")
	}

	params := buildOpenAIParams(a.model, req)
	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return "", classify("openai", err)
	}
	out := resp.OutputText()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("openai: empty output (status=%s)", resp.Status)
	}
	return out, nil
}

func buildOpenAIParams(model string, req analysis.AnalysisRequest) responses.ResponseNewParams {
	name := req.SchemaName
	if name == "" {
		name = analysis.ResultSchemaName
	}
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        name,
			Schema:      req.Schema,
			Strict:      openai.Bool(true),
			Description: openai.String("Chunk analysis JSON"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:        model,
		Instructions: openai.String(req.SystemPrompt),
		Temperature:  openai.Float(req.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.UserMessage, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	return params
}
