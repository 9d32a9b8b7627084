package fileutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ExtractJSONObject returns the JSON object in a model response. Valid JSON is returned as-is;
// otherwise the span from the first '{' to the last '}' is used.
func ExtractJSONObject(outputText string) (string, error) {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return "", io.ErrUnexpectedEOF
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	return s[start : end+1], nil
}
