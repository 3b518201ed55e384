package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// jsonInstruction is appended to prompts for backends without a native JSON mode.
const jsonInstruction = "\n\nIMPORTANT: Respond ONLY with valid JSON, no explanations."

// StripCodeFence removes a surrounding markdown code fence (``` or ```json).
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
	if len(lines) < 2 {
		return strings.Trim(text, "`")
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// ParseJSON decodes an LLM reply into a JSON object. Fencing is stripped
// first; when the reply still carries prose around the object, the outermost
// {...} span is tried before giving up with a *ParseError.
func ParseJSON(provider, text string) (map[string]any, error) {
	cleaned := StripCodeFence(text)
	if cleaned == "" {
		return nil, &ParseError{Provider: provider, Raw: text, Err: errors.New("empty response")}
	}

	var result map[string]any
	err := json.Unmarshal([]byte(cleaned), &result)
	if err == nil {
		return result, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if jerr := json.Unmarshal([]byte(cleaned[start:end+1]), &result); jerr == nil {
			return result, nil
		}
	}

	return nil, &ParseError{Provider: provider, Raw: text, Err: err}
}
