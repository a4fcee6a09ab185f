package conversation

import (
	"strings"

	json "github.com/goccy/go-json"
)

const (
	ActionCallTool = "call_tool"
	ActionReply    = "reply"
)

// Decision is the structured answer the model gives on every step.
type Decision struct {
	Action    string         `json:"action"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// parseDecision extracts the first decision object from raw model output.
// Text after the object is ignored. It reports false when the output is not
// a usable decision.
func parseDecision(raw string) (Decision, bool) {
	text := stripFences(raw)
	start := strings.Index(text, "{")
	if start < 0 {
		return Decision{}, false
	}

	var d Decision
	if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&d); err != nil {
		return Decision{}, false
	}
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	d.Tool = strings.TrimSpace(d.Tool)
	if d.Action == "" {
		switch {
		case d.Tool != "":
			d.Action = ActionCallTool
		case strings.TrimSpace(d.Message) != "":
			d.Action = ActionReply
		}
	}
	switch d.Action {
	case ActionCallTool:
		if d.Tool == "" {
			return Decision{}, false
		}
		if d.Arguments == nil {
			d.Arguments = map[string]any{}
		}
		return d, true
	case ActionReply:
		if strings.TrimSpace(d.Message) == "" {
			return Decision{}, false
		}
		return d, true
	default:
		return Decision{}, false
	}
}

// looksLikeDecision reports whether raw was meant as a decision object, so an
// unusable one is never shown to the patient verbatim.
func looksLikeDecision(raw string) bool {
	text := stripFences(raw)
	return strings.HasPrefix(text, "{") || strings.Contains(text, `"action"`)
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
