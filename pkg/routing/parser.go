package routing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// routingPlan is the JSON shape the LLM is instructed to emit.
type routingPlan struct {
	Agents []struct {
		Agent    string `json:"agent"`
		SubQuery string `json:"subQuery"`
	} `json:"agents"`
	Mode      string `json:"mode"`
	Reasoning string `json:"reasoning"`
}

// parsePlan decodes the model output defensively. Models wrap JSON in code
// fences, prepend prose, or bury the object in a thinking field; all of
// those are salvaged before giving up.
func parsePlan(raw string) (*routingPlan, error) {
	candidate := ExtractJSON(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in routing output: %q", truncate(raw, 200))
	}

	var plan routingPlan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		return nil, fmt.Errorf("decode routing plan: %w", err)
	}

	// Some models bury the real payload in a thinking field, leaving the
	// top-level object without an agents list.
	if len(plan.Agents) == 0 && plan.Reasoning == "" {
		var wrapper struct {
			Thinking string `json:"thinking"`
		}
		if err := json.Unmarshal([]byte(candidate), &wrapper); err == nil && wrapper.Thinking != "" {
			if rescued := ExtractJSON(wrapper.Thinking); rescued != "" {
				var nested routingPlan
				if err := json.Unmarshal([]byte(rescued), &nested); err == nil {
					return &nested, nil
				}
			}
		}
	}
	return &plan, nil
}

// ExtractJSON returns the outermost {...} object in the text, stripping
// Markdown code fences first. Returns "" when no balanced object exists.
func ExtractJSON(text string) string {
	text = stripFences(text)

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
