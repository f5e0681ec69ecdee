package diagnosis

import (
	"encoding/json"
	"strings"
)

var expectedKeys = []string{"status", "diagnosis", "recommendation"}

// ParseContent interprets the model's message content. A JSON object with
// at least one expected key becomes a structured result; anything else is
// returned verbatim as raw text.
func ParseContent(content string) Result {
	body := stripCodeFence(strings.TrimSpace(content))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil || fields == nil {
		return RawText(content)
	}

	values := make(map[string]string, len(expectedKeys))
	for _, key := range expectedKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		values[key] = stringValue(raw)
	}
	if len(values) == 0 {
		return RawText(content)
	}
	return Structured(values["status"], values["diagnosis"], values["recommendation"])
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Non-string values (numbers, nested objects) are kept as their JSON text.
	return strings.TrimSpace(string(raw))
}

// stripCodeFence removes a surrounding ``` or ```json markdown fence.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	newline := strings.IndexByte(text, '\n')
	if newline < 0 {
		return text
	}
	inner := text[newline+1:]
	inner = strings.TrimSpace(inner)
	inner = strings.TrimSuffix(inner, "```")
	return strings.TrimSpace(inner)
}
