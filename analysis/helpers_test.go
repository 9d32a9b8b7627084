package analysis

import (
	"encoding/json"
	"strings"
	"testing"
)

// sizedRecord returns a record whose compact JSON is exactly 4*tokens characters.
func sizedRecord(t *testing.T, id string, tokens int, extra Record) Record {
	t.Helper()

	r := Record{"id": id, "v": ""}
	for k, v := range extra {
		r[k] = v
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pad := 4*tokens - len(b)
	if pad < 0 {
		t.Fatalf("record %s: base size %d exceeds %d tokens", id, len(b), tokens)
	}
	r["v"] = strings.Repeat("a", pad)
	return r
}

func recordTokens(t *testing.T, r Record) int {
	t.Helper()

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return EstimateTokens(string(b))
}
