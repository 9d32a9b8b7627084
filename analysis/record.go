package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is one input object. Values are whatever encoding/json produced for it
// (string, json.Number or float64, bool, nil, map[string]any, []any).
type Record map[string]any

// ReductionStats describes how much projection shrank the payload.
type ReductionStats struct {
	OriginalSizeBytes int     `json:"original_size_bytes"`
	FilteredSizeBytes int     `json:"filtered_size_bytes"`
	ReductionPercent  float64 `json:"reduction_percent"`
}

// Projector keeps only allow-listed fields of each record.
type Projector struct {
	allowed map[string]struct{}
}

// NewProjector fixes the allow-list. Duplicate names are ignored.
func NewProjector(fields []string) *Projector {
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}
	return &Projector{allowed: allowed}
}

// Fields returns the number of allow-listed field names.
func (p *Projector) Fields() int {
	return len(p.allowed)
}

// Project returns new records containing only allow-listed keys. Inputs are not modified.
func (p *Projector) Project(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		pr := make(Record, len(p.allowed))
		for k, v := range r {
			if _, ok := p.allowed[k]; ok {
				pr[k] = v
			}
		}
		out = append(out, pr)
	}
	return out
}

// CalculateReduction serializes both collections and compares their sizes.
// An empty original yields 0% rather than dividing by zero.
func CalculateReduction(original, filtered []Record) (ReductionStats, error) {
	ob, err := serializeRecords(original)
	if err != nil {
		return ReductionStats{}, fmt.Errorf("serialize original: %w", err)
	}
	fb, err := serializeRecords(filtered)
	if err != nil {
		return ReductionStats{}, fmt.Errorf("serialize filtered: %w", err)
	}
	stats := ReductionStats{OriginalSizeBytes: len(ob), FilteredSizeBytes: len(fb)}
	if stats.OriginalSizeBytes > 0 {
		stats.ReductionPercent = (1 - float64(stats.FilteredSizeBytes)/float64(stats.OriginalSizeBytes)) * 100
	}
	return stats, nil
}

func serializeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

func serializeRecord(r Record) ([]byte, error) {
	if r == nil {
		r = Record{}
	}
	return json.Marshal(r)
}

// LoadRecords decodes a JSON array of objects. If the document is an object, the array
// under wrapKey is used instead (e.g. {"records": [...]}).
func LoadRecords(r io.Reader, wrapKey string) ([]Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("read records: empty input")
	}

	if b[0] == '{' {
		var wrapped map[string]json.RawMessage
		if err := decodeUseNumber(b, &wrapped); err != nil {
			return nil, fmt.Errorf("decode records wrapper: %w", err)
		}
		if wrapKey == "" {
			return nil, errors.New("decode records: input is an object and no wrap key is configured")
		}
		inner, ok := wrapped[wrapKey]
		if !ok {
			return nil, fmt.Errorf("decode records: wrapper has no %q key", wrapKey)
		}
		b = inner
	}

	var records []Record
	if err := decodeUseNumber(b, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

func decodeUseNumber(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}
