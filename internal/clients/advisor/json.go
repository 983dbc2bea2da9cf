package advisor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// unmarshalJSONBlock parses the first JSON array or object embedded in
// model output, tolerating markdown code fences and surrounding prose.
func unmarshalJSONBlock(text string, out any) error {
	cleaned := stripCodeFences(text)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		start := strings.IndexByte(cleaned, pair[0])
		end := strings.LastIndexByte(cleaned, pair[1])
		if start >= 0 && end > start {
			if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no valid JSON block in response")
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}
