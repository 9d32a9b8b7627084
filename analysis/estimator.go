package analysis

import (
	"fmt"
	"math"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultCharsPerToken is the fixed characters-per-token ratio used when no tokenizer is configured.
const DefaultCharsPerToken = 4.0

// Estimator converts text into an estimated token count.
type Estimator interface {
	Estimate(text string) int
}

// CharRatioEstimator approximates tokens as ceil(chars / CharsPerToken).
// It is deliberately not a tokenizer and will not match any model exactly.
type CharRatioEstimator struct {
	CharsPerToken float64
}

func (e CharRatioEstimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(n) / ratio))
}

// EstimateTokens estimates text with the default 4 chars/token ratio.
func EstimateTokens(text string) int {
	return CharRatioEstimator{CharsPerToken: DefaultCharsPerToken}.Estimate(text)
}

func estimatorOrDefault(e Estimator) Estimator {
	if e == nil {
		return CharRatioEstimator{CharsPerToken: DefaultCharsPerToken}
	}
	return e
}

// TiktokenEstimator counts BPE tokens with a tiktoken encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (cl100k_base when empty).
// Loading may fetch the BPE ranks on first use.
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken: get encoding %q: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (t *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
