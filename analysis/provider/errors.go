package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"github.com/openai/openai-go"
)

var (
	// ErrRateLimited marks provider errors that look like HTTP 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrServer marks provider errors that look like 5xx responses.
	ErrServer = errors.New("server error")
)

// classify tags provider errors so callers can tell rate limiting and outages apart in logs.
// Calls are not retried; a failed chunk is skipped by the orchestrator.
func classify(provider string, err error) error {
	switch {
	case err == nil:
		return nil
	case isRateLimitError(err):
		return fmt.Errorf("%s: %w: %w", provider, ErrRateLimited, err)
	case isServerError(err):
		return fmt.Errorf("%s: %w: %w", provider, ErrServer, err)
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}

// statusCode returns the HTTP status carried by a typed SDK error, or 0.
func statusCode(err error) int {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var re *anthropic.RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests
	}
	var ae *anthropic.APIError
	if errors.As(err, &ae) {
		return ae.IsRateLimitErr()
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429 too many requests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code >= 500
	}
	var ae *anthropic.APIError
	if errors.As(err, &ae) {
		return ae.IsApiErr() || ae.IsOverloadedErr()
	}

	// Untyped errors: match status lines, never bare numbers.
	errStr := strings.ToLower(err.Error())
	for _, code := range []int{500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf("%d %s", code, strings.ToLower(http.StatusText(code)))) {
			return true
		}
	}
	return strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error") ||
		strings.Contains(errStr, "overloaded")
}
