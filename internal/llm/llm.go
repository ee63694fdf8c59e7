package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// JSON is the tagged result of a structured-output generation. Malformed
// output is not an error: the pipeline degrades it to a safe default
// (vectorstore route, not-relevant grade) instead of failing the run.
type JSON struct {
	Object    map[string]any
	Raw       string
	Malformed bool
}

// Field returns a string field from the parsed object, or "" when the
// result is malformed or the field is missing / not a string.
func (j JSON) Field(key string) string {
	if j.Malformed || j.Object == nil {
		return ""
	}
	s, _ := j.Object[key].(string)
	return s
}

// Generator provides text generation against the configured chat model.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (JSON, error)
}

// Embedder provides embedding generation APIs. The returned slice matches
// the input slice in length and order.
type Embedder interface {
	Embeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelFilter partitions the server's model list by a naming heuristic.
type ModelFilter string

const (
	FilterLLM       ModelFilter = "llm"
	FilterEmbedding ModelFilter = "embedding"
)

// ModelLister enumerates available models on the server.
type ModelLister interface {
	ListModels(ctx context.Context, filter ModelFilter) []string
}

// ExtractJSON pulls a JSON object out of raw model output. It tries a direct
// parse first, then scans for the first balanced {...} substring (models
// often wrap the object in commentary, sometimes with stray braces). A
// candidate that balances but does not parse is skipped and the scan resumes
// at the next brace. Returns ok=false when no object can be recovered.
func ExtractJSON(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}
	for from := 0; from < len(raw); {
		sub, start, ok := balancedObjectAt(raw, from)
		if !ok {
			return nil, false
		}
		if err := json.Unmarshal([]byte(sub), &obj); err == nil {
			return obj, true
		}
		from = start + 1
	}
	return nil, false
}

// balancedObjectAt finds the first {...} substring with balanced braces
// starting at or after from. A brace that never balances is skipped and the
// scan resumes after it, so stray braces in prose cannot mask a later valid
// object.
func balancedObjectAt(s string, from int) (string, int, bool) {
	for from < len(s) {
		i := strings.IndexByte(s[from:], '{')
		if i < 0 {
			return "", 0, false
		}
		from += i
		if end, ok := scanObject(s, from); ok {
			return s[from : end+1], from, true
		}
		from++
	}
	return "", 0, false
}

// scanObject scans the {...} group opening at start, skipping braces inside
// JSON string literals, and returns the index of its closing brace.
func scanObject(s string, start int) (int, bool) {
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
				return i, true
			}
		}
	}
	return 0, false
}
