package compare

import (
	"strconv"
	"strings"
)

// parsePath splits a dotted, bracket-indexed path such as ".a.b[2].c" into
// an ordered sequence of accessors: a string selects an object field, an
// int selects an array index.
func parsePath(path string) []any {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil
	}

	var out []any
	var field strings.Builder
	flush := func() {
		if field.Len() > 0 {
			out = append(out, field.String())
			field.Reset()
		}
	}

	for i := 0; i < len(path); {
		switch c := path[i]; c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return out
			}
			if n, err := strconv.Atoi(path[i+1 : i+end]); err == nil {
				out = append(out, n)
			}
			i += end + 1
		default:
			field.WriteByte(c)
			i++
		}
	}
	flush()
	return out
}

// getPath reads the value addressed by accessors within root.
func getPath(root any, accessors []any) (any, bool) {
	cur := root
	for _, acc := range accessors {
		switch a := acc.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[a]
			if !ok {
				return nil, false
			}
			cur = v
		case int:
			s, ok := cur.([]any)
			if !ok || a < 0 || a >= len(s) {
				return nil, false
			}
			cur = s[a]
		}
	}
	return cur, true
}

// setPath overwrites the value addressed by accessors within root.
// Reports whether the write succeeded.
func setPath(root any, accessors []any, value any) bool {
	if len(accessors) == 0 {
		return false
	}
	parent, ok := getPath(root, accessors[:len(accessors)-1])
	if !ok {
		return false
	}
	switch a := accessors[len(accessors)-1].(type) {
	case string:
		m, ok := parent.(map[string]any)
		if !ok {
			return false
		}
		m[a] = value
		return true
	case int:
		s, ok := parent.([]any)
		if !ok || a < 0 || a >= len(s) {
			return false
		}
		s[a] = value
		return true
	}
	return false
}

// deletePath removes the value addressed by accessors. An array element is
// nulled out rather than spliced, since splicing would shift every later
// index out from under a sibling redact path.
func deletePath(root any, accessors []any) bool {
	if len(accessors) == 0 {
		return false
	}
	parent, ok := getPath(root, accessors[:len(accessors)-1])
	if !ok {
		return false
	}
	switch a := accessors[len(accessors)-1].(type) {
	case string:
		m, ok := parent.(map[string]any)
		if !ok {
			return false
		}
		delete(m, a)
		return true
	case int:
		s, ok := parent.([]any)
		if !ok || a < 0 || a >= len(s) {
			return false
		}
		s[a] = nil
		return true
	}
	return false
}
