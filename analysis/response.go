package analysis

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis/fileutils"
)

var requiredResultKeys = []string{
	"chunk_index",
	"total_chunks",
	"records_analyzed",
	"high_priority_issues",
	"medium_priority_issues",
	"recommendations",
	"summary",
}

// DecodeResult parses model output into an AnalysisResult. Leading or trailing prose around
// the JSON object is tolerated; missing required keys and unknown keys are not.
func DecodeResult(outputText string) (AnalysisResult, error) {
	obj, err := fileutils.ExtractJSONObject(outputText)
	if err != nil {
		return AnalysisResult{}, &MalformedResponseError{Reason: "no JSON object", Err: err}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return AnalysisResult{}, &MalformedResponseError{Reason: "invalid JSON", Err: err}
	}

	var missing []string
	for _, k := range requiredResultKeys {
		if _, ok := top[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return AnalysisResult{}, &MalformedResponseError{Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}
	if extra := unknownKeys(top); len(extra) > 0 {
		return AnalysisResult{}, &MalformedResponseError{Reason: "unexpected fields: " + strings.Join(extra, ", ")}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.DisallowUnknownFields()
	var out AnalysisResult
	if err := dec.Decode(&out); err != nil {
		return AnalysisResult{}, &MalformedResponseError{Reason: "schema mismatch", Err: err}
	}
	out.Summary = strings.TrimSpace(out.Summary)
	return out, nil
}

func unknownKeys(top map[string]json.RawMessage) []string {
	known := make(map[string]struct{}, len(requiredResultKeys))
	for _, k := range requiredResultKeys {
		known[k] = struct{}{}
	}
	var out []string
	for k := range top {
		if _, ok := known[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
