package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// fencedBlockPattern matches ```json ... ``` or ``` ... ``` blocks.
var fencedBlockPattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractJSON pulls structured output out of generated text into out.
// Candidates are tried in order: the first fenced code block, the first
// balanced object/array literal, the whole trimmed text. Each candidate is
// parsed as-is first and then passed through jsonrepair before moving on.
func ExtractJSON(text string, out any) error {
	var candidates []string

	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if literal := balancedLiteral(text); literal != "" {
		candidates = append(candidates, literal)
	}
	candidates = append(candidates, strings.TrimSpace(text))

	var lastErr error
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		} else {
			lastErr = err
		}

		fixed, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(fixed), out); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// balancedLiteral returns the first balanced {...} or [...] literal in
// text, respecting string escapes, or "" when none closes.
func balancedLiteral(text string) string {
	start := -1
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
