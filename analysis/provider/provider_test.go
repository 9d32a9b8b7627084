package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis"
)

const resultJSON = `{"chunk_index":0,"total_chunks":1,"records_analyzed":1,"high_priority_issues":[],"medium_priority_issues":[],"recommendations":["rotate keys"],"summary":"ok"}`

func testRequest() analysis.AnalysisRequest {
	return analysis.AnalysisRequest{
		ChunkIndex:      0,
		TotalChunks:     1,
		SystemPrompt:    "system",
		UserMessage:     "records:\n[]",
		SchemaName:      analysis.ResultSchemaName,
		Schema:          analysis.ResultSchema(),
		Temperature:     0,
		MaxOutputTokens: 1234,
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if classify("x", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
	if err := classify("openai", errors.New("POST: 429 Too Many Requests")); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v, want ErrRateLimited", err)
	}
	if err := classify("openai", errors.New("500 Internal Server Error")); !errors.Is(err, ErrServer) {
		t.Fatalf("err=%v, want ErrServer", err)
	}
	base := errors.New("bad request")
	err := classify("anthropic", base)
	if !errors.Is(err, base) || errors.Is(err, ErrServer) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v", err)
	}
	if !strings.HasPrefix(err.Error(), "anthropic: ") {
		t.Fatalf("missing provider prefix: %q", err.Error())
	}
}

func TestClassify_TypedErrorsAndNumbersInText(t *testing.T) {
	t.Parallel()

	for _, msg := range []string{"chunk has 1500 tokens", "503 records rejected", "limit 429 exceeded"} {
		err := classify("openai", errors.New(msg))
		if errors.Is(err, ErrServer) || errors.Is(err, ErrRateLimited) {
			t.Fatalf("%q classified as %v", msg, err)
		}
	}

	overloaded := fmt.Errorf("create: %w", &anthropic.APIError{Type: anthropic.ErrTypeOverloaded, Message: "busy"})
	if err := classify("anthropic", overloaded); !errors.Is(err, ErrServer) {
		t.Fatalf("err=%v, want ErrServer", err)
	}
	rateLimited := &anthropic.APIError{Type: anthropic.ErrTypeRateLimit, Message: "slow down"}
	if err := classify("anthropic", rateLimited); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v, want ErrRateLimited", err)
	}
	if err := classify("anthropic", &anthropic.RequestError{StatusCode: 429, Err: errors.New("x")}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v, want ErrRateLimited", err)
	}
	// A typed 400 whose body mentions a 5xx-looking number stays unclassified.
	badRequest := &anthropic.RequestError{StatusCode: 400, Err: errors.New("500 internal server error")}
	if err := classify("anthropic", badRequest); errors.Is(err, ErrServer) {
		t.Fatalf("err=%v, want unclassified", err)
	}
}

func TestOpenAIAnalyzer_ClassifiesStatusCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"try later","type":"server_busy","param":null,"code":null}}`)
	}))
	defer srv.Close()

	a := NewOpenAI("k", "gpt-test", option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	_, err := a.Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrServer) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v, want ErrServer", err)
	}
}

func TestSystemWithSchema_AppendsSchema(t *testing.T) {
	t.Parallel()

	got, err := systemWithSchema("be precise", analysis.ResultSchema())
	if err != nil {
		t.Fatalf("systemWithSchema: %v", err)
	}
	if !strings.HasPrefix(got, "be precise\n\nOUTPUT SCHEMA") {
		t.Fatalf("prefix=%q", got[:40])
	}
	if !strings.Contains(got, `"high_priority_issues"`) {
		t.Fatalf("schema not embedded")
	}

	got, err = systemWithSchema("plain", nil)
	if err != nil || got != "plain" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestBuildAnthropicRequest(t *testing.T) {
	t.Parallel()

	req, err := buildAnthropicRequest("claude-test", testRequest())
	if err != nil {
		t.Fatalf("buildAnthropicRequest: %v", err)
	}
	if string(req.Model) != "claude-test" || req.MaxTokens != 1234 {
		t.Fatalf("model=%q max=%d", req.Model, req.MaxTokens)
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Fatalf("temperature=%v", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != anthropic.RoleUser {
		t.Fatalf("messages=%+v", req.Messages)
	}
}

func TestOpenAIAnalyzer_SendsStrictSchemaAndReturnsOutputText(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)

		out := map[string]any{
			"id":         "resp_1",
			"object":     "response",
			"created_at": 0,
			"status":     "completed",
			"model":      "gpt-test",
			"output": []any{
				map[string]any{
					"type":   "message",
					"id":     "msg_1",
					"status": "completed",
					"role":   "assistant",
					"content": []any{
						map[string]any{"type": "output_text", "text": resultJSON, "annotations": []any{}},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	a := NewOpenAI("k", "gpt-test", option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	got, err := a.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := analysis.DecodeResult(got); err != nil {
		t.Fatalf("DecodeResult: %v (out=%q)", err, got)
	}

	if body["model"] != "gpt-test" {
		t.Fatalf("model=%v", body["model"])
	}
	if body["instructions"] != "system" {
		t.Fatalf("instructions=%v", body["instructions"])
	}
	if body["temperature"] != float64(0) {
		t.Fatalf("temperature=%v", body["temperature"])
	}
	if body["max_output_tokens"] != float64(1234) {
		t.Fatalf("max_output_tokens=%v", body["max_output_tokens"])
	}
	text, _ := body["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_schema" || format["strict"] != true || format["name"] != analysis.ResultSchemaName {
		t.Fatalf("format=%v", format)
	}
}

func TestAnthropicAnalyzer_ReturnsText(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		out := map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content": []any{
				map[string]any{"type": "text", "text": "Here is the analysis:\n" + resultJSON},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 10},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	a := NewAnthropic("k", "claude-test", anthropic.WithBaseURL(srv.URL+"/v1"))
	got, err := a.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	res, err := analysis.DecodeResult(got)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0] != "rotate keys" {
		t.Fatalf("recommendations=%v", res.Recommendations)
	}
	if !strings.Contains(gotBody, "OUTPUT SCHEMA") {
		t.Fatalf("request missing schema in system prompt")
	}
}

func TestAnalyzers_RejectMissingModel(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAI("k", "").Analyze(context.Background(), testRequest()); err == nil {
		t.Fatalf("expected error for empty openai model")
	}
	if _, err := NewAnthropic("k", "").Analyze(context.Background(), testRequest()); err == nil {
		t.Fatalf("expected error for empty anthropic model")
	}
}
