package llm

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ErrEmptyResponse is returned when the model answered with nothing.
var ErrEmptyResponse = errors.New("empty LLM response")

// StripCodeFence removes a surrounding markdown code block, if any.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// DecodeJSONResponse parses a JSON response from an LLM into v, handling
// markdown code blocks.
func DecodeJSONResponse(text string, v any) error {
	text = StripCodeFence(text)
	if text == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return errors.Wrap(err, "parsing LLM response as JSON")
	}
	return nil
}
