package gateway

import (
	"encoding/json"
	"strings"

	"github.com/teranos/courseforge/errors"
)

// DecodeJSON parses model output into out.
//
// Models often wrap JSON in prose or code fences, so when the text is not
// valid JSON as a whole the first balanced {...} region is tried instead.
func DecodeJSON(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	region, ok := FirstObject(trimmed)
	if !ok {
		err := errors.Wrap(errors.ErrMalformedResponse, "no JSON object in model response")
		return errors.WithDetail(err, "Response: "+truncate(trimmed, 200))
	}
	if err := json.Unmarshal([]byte(region), out); err != nil {
		err = errors.Mark(errors.Wrap(err, "model response JSON did not match the expected shape"), errors.ErrMalformedResponse)
		return errors.WithDetail(err, "Response: "+truncate(trimmed, 200))
	}
	return nil
}

// FirstObject returns the first balanced {...} region of s.
// Braces inside JSON strings are ignored.
func FirstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace finds the index of the brace closing the one at start
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
