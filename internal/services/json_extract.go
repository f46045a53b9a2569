package services

import (
	"encoding/json"
	"strings"
	"unicode"
)

// ExtractObject recovers a JSON object from free-form model output. It tries, in order:
// the whole text, the last balanced top-level object that ends the text, and the
// span from the first '{' to the last '}'.
func ExtractObject(raw string) (map[string]interface{}, bool) {
	s := stripCodeFences(stripInvisible(raw))
	if s == "" {
		return nil, false
	}

	if obj, ok := decodeObject(s); ok {
		return obj, true
	}

	if span, ok := trailingObject(s); ok {
		if obj, ok := decodeObject(span); ok {
			return obj, true
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		if obj, ok := decodeObject(s[start : end+1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// trailingObject returns the last top-level {...} span whose closing brace is the
// final non-space character. Braces inside string literals are ignored.
func trailingObject(s string) (string, bool) {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	if !strings.HasSuffix(s, "}") {
		return "", false
	}

	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && i == len(s)-1 {
				return s[start:], true
			}
		}
	}
	return "", false
}

// stripCodeFences removes a surrounding ```json ... ``` block.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
