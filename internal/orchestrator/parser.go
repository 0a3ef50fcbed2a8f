package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoStructuredReply indicates the model's text contained no well-formed
// structured object. Callers treat the reply as a plain terminal text
// answer, not as a failure.
var ErrNoStructuredReply = errors.New("no structured object in model reply")

// ParseResponse extracts the first balanced top-level JSON object from the
// reply text and decodes it as a ModelResponse. Prose before or after the
// object is tolerated; fenced code blocks around it are too. Anything else
// returns ErrNoStructuredReply.
func ParseResponse(text string) (*ModelResponse, error) {
	raw, ok := firstObject(text)
	if !ok {
		return nil, ErrNoStructuredReply
	}

	var resp ModelResponse
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&resp); err != nil {
		return nil, ErrNoStructuredReply
	}

	// An object that decodes but carries none of the expected fields is not
	// a control reply. Require at least an explanation.
	if resp.Explanation == "" {
		return nil, ErrNoStructuredReply
	}
	return &resp, nil
}

// firstObject returns the first balanced {...} substring of s. Braces
// inside JSON strings are skipped by tracking quote and escape state.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
