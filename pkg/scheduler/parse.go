package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedResponse is a successfully decoded batch translation response:
// string_id -> translated (still tokenized) text.
type ParsedResponse map[string]string

// ErrParse is returned when a model's response cannot be turned into a
// usable ParsedResponse even after the one repair attempt spec.md §4.5
// allows. It is always retryable at the batch level.
type ErrParse struct {
	Reason string
}

func (e *ErrParse) Error() string { return "parsing batch response: " + e.Reason }

// itemsShape mirrors spec.md §4.5's wire format for a batch response:
// {"items": [{"id": "...", "text": "..."}, ...]}.
type itemsShape struct {
	Items []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"items"`
}

// ParseBatchResponse decodes content into a ParsedResponse, accepting
// either the documented {"items":[{id,text}]} shape or a flat
// {"string_id": "translation"} object, after a fenced ```json ... ```
// code block or prose-wrapped JSON is stripped away (the one tolerant
// repair pass spec.md §4.5 calls for). It returns ErrParse, always
// retryable, on any other shape.
func ParseBatchResponse(content string) (ParsedResponse, error) {
	candidates := []string{content}
	if repaired := stripCodeFence(content); repaired != content {
		candidates = append(candidates, repaired)
	}
	if obj := extractFirstJSONObject(stripCodeFence(content)); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, c := range candidates {
		if resp, ok := tryParseItems(c); ok {
			return resp, nil
		}
		if resp, ok := tryParseFlat(c); ok {
			return resp, nil
		}
	}

	return nil, &ErrParse{Reason: "response is not a recognized JSON shape, even after fence-stripping and brace extraction"}
}

func tryParseItems(s string) (ParsedResponse, bool) {
	var shape itemsShape
	if err := json.Unmarshal([]byte(s), &shape); err != nil || len(shape.Items) == 0 {
		return nil, false
	}
	out := make(ParsedResponse, len(shape.Items))
	for _, item := range shape.Items {
		if item.ID == "" {
			return nil, false
		}
		out[item.ID] = item.Text
	}
	return out, true
}

func tryParseFlat(s string) (ParsedResponse, bool) {
	var out ParsedResponse
	if err := json.Unmarshal([]byte(s), &out); err != nil || len(out) == 0 {
		return nil, false
	}
	return out, true
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractFirstJSONObject returns the first balanced {...} span in s, or
// "" if none is found. This recovers from a model that wraps valid JSON
// in prose commentary.
func extractFirstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// CheckIDCoverage reports whether resp covers every id in wantIDs. A
// response with extra, unrequested IDs is still accepted — only a
// missing id forces the batch into the "parse, retryable, partial_match"
// path spec.md §4.5 describes; never drop here, only report.
func CheckIDCoverage(resp ParsedResponse, wantIDs []string) (missing []string, partialMatch bool) {
	for _, id := range wantIDs {
		if _, ok := resp[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, len(missing) > 0
}

// DescribeMissing formats a missing-id list for an ErrParse reason.
func DescribeMissing(missing []string) string {
	return fmt.Sprintf("response missing %d of the requested ids: %v", len(missing), missing)
}
