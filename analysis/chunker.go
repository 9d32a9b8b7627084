package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Priority is the coarse ordering tier of a record. Higher sorts first.
type Priority int

const (
	Low    Priority = 1
	Medium Priority = 2
	High   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority accepts high/medium/low in any case. Anything else is Medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical", "urgent":
		return High
	case "low":
		return Low
	default:
		return Medium
	}
}

// SortKey orders records: tier first, then score, both descending.
type SortKey struct {
	Tier  Priority
	Score float64
}

// SortKeyFunc derives a SortKey from a record.
type SortKeyFunc func(Record) SortKey

// DefaultSortKey is applied to every record when no SortKeyFunc is supplied.
var DefaultSortKey = SortKey{Tier: Medium, Score: 0.5}

// FieldSortKey reads the tier from priorityField and the score from scoreField.
// Missing or unparsable values fall back to DefaultSortKey's components.
func FieldSortKey(priorityField, scoreField string) SortKeyFunc {
	return func(r Record) SortKey {
		k := DefaultSortKey
		if priorityField != "" {
			if s, ok := r[priorityField].(string); ok {
				k.Tier = ParsePriority(s)
			}
		}
		if scoreField != "" {
			if f, ok := toFloat(r[scoreField]); ok {
				k.Score = f
			}
		}
		return k
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

// scoreGreater orders scores descending with NaN after every number.
func scoreGreater(a, b float64) bool {
	switch {
	case math.IsNaN(a):
		return false
	case math.IsNaN(b):
		return true
	default:
		return a > b
	}
}

// Chunk is a token-bounded group of records ready to be sent to the model.
type Chunk struct {
	Index           int      `json:"index"`
	TotalChunks     int      `json:"total_chunks"`
	RecordCount     int      `json:"record_count"`
	EstimatedTokens int      `json:"estimated_tokens"`
	Oversized       bool     `json:"oversized,omitempty"`
	Records         []Record `json:"records"`
}

// Payload is the serialized record array sent as the chunk's data.
func (c Chunk) Payload() (string, error) {
	b, err := serializeRecords(c.Records)
	if err != nil {
		return "", fmt.Errorf("serialize chunk %d: %w", c.Index, err)
	}
	return string(b), nil
}

// Chunker packs sorted records greedily until their summed per-record estimates reach
// MaxTokens. A chunk's EstimatedTokens re-estimates the serialized array, so the array's
// brackets and commas can push it past MaxTokens: with the default 4 chars/token
// estimator a chunk of n > 1 records is bounded by MaxTokens + ceil((n+1)/4).
type Chunker struct {
	MaxTokens int
	SortKey   SortKeyFunc
	Estimator Estimator
}

type keyedRecord struct {
	rec    Record
	key    SortKey
	tokens int
}

// Chunk orders records by SortKey and packs them. It never drops or splits a record:
// a record larger than MaxTokens becomes a chunk of its own.
func (c Chunker) Chunk(records []Record) ([]Chunk, error) {
	if len(records) == 0 {
		return nil, nil
	}
	est := estimatorOrDefault(c.Estimator)
	keyFn := c.SortKey
	if keyFn == nil {
		keyFn = func(Record) SortKey { return DefaultSortKey }
	}

	keyed := make([]keyedRecord, 0, len(records))
	for _, r := range records {
		b, err := serializeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("serialize record: %w", err)
		}
		keyed = append(keyed, keyedRecord{rec: r, key: keyFn(r), tokens: est.Estimate(string(b))})
	}

	sort.SliceStable(keyed, func(i, j int) bool {
		a, b := keyed[i].key, keyed[j].key
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		return scoreGreater(a.Score, b.Score)
	})

	var (
		groups  [][]Record
		current []Record
		tokens  int
	)
	for _, kr := range keyed {
		if tokens+kr.tokens > c.MaxTokens && len(current) > 0 {
			groups = append(groups, current)
			current = nil
			tokens = 0
		}
		current = append(current, kr.rec)
		tokens += kr.tokens
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	chunks := make([]Chunk, 0, len(groups))
	for i, g := range groups {
		b, err := serializeRecords(g)
		if err != nil {
			return nil, fmt.Errorf("serialize chunk %d: %w", i, err)
		}
		t := est.Estimate(string(b))
		chunks = append(chunks, Chunk{
			Index:           i,
			TotalChunks:     len(groups),
			RecordCount:     len(g),
			EstimatedTokens: t,
			Oversized:       len(g) == 1 && t > c.MaxTokens,
			Records:         g,
		})
	}
	return chunks, nil
}
