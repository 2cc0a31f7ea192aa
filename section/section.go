// Package section extracts named, delimiter-bounded sections from a .gctf
// test file: the quote-aware comment stripper and inline-option tokenizer
// that every other package builds on.
package section

import (
	"bufio"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/matgreaves/gctf/spec"
)

// headerRE matches a section delimiter line and captures the section name
// and the remainder of the line (where inline options live).
var headerRE = regexp.MustCompile(`^\s*---\s*([A-Za-z_][A-Za-z0-9_]*)(\s+.*)?\s*---\s*$`)

// delimRE matches the end-of-section delimiter: any line starting with
// "---", including a new section's own header.
var delimRE = regexp.MustCompile(`^\s*---`)

// Raw is one extracted section: its name, its full header line (needed to
// recover inline options), and its comment-stripped, line-trimmed body.
type Raw struct {
	Name   string
	Header string
	Body   string
}

// ParseFile reads path and extracts every section it contains, in file
// order. A read failure is reported as a *spec.Error with Kind FileAccess.
func ParseFile(path string) ([]Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &spec.Error{Kind: spec.FileAccess, Path: path, Err: err}
	}
	return Parse(string(data)), nil
}

// Parse extracts every section from content, in order. Text outside any
// section (before the first header, or whole-line "#" comments between
// sections) is discarded.
func Parse(content string) []Raw {
	var sections []Raw
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var cur *Raw
	var body []string

	flush := func() {
		if cur != nil {
			cur.Body = strings.Join(body, "\n")
			sections = append(sections, *cur)
		}
		cur = nil
		body = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if m := headerRE.FindStringSubmatch(line); m != nil {
			flush()
			cur = &Raw{Name: strings.ToUpper(m[1]), Header: strings.TrimSpace(line)}
			continue
		}
		if cur == nil {
			continue // outside any section: discard (includes bare "---" noise and top-level comments)
		}
		if delimRE.MatchString(line) {
			flush()
			continue
		}
		stripped := StripComment(line)
		body = append(body, strings.TrimSpace(stripped)) // blank lines survive: REQUEST uses them as body separators
	}
	flush()
	return sections
}

// Get returns the first section named name (case-insensitive), if any.
func Get(sections []Raw, name string) (Raw, bool) {
	name = strings.ToUpper(name)
	for _, s := range sections {
		if s.Name == name {
			return s, true
		}
	}
	return Raw{}, false
}

// All returns every section named name, in file order.
func All(sections []Raw, name string) []Raw {
	name = strings.ToUpper(name)
	var out []Raw
	for _, s := range sections {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// StripComment cuts line at the first "#" comment marker, whether it opens
// the line or trails a value, honoring double-quoted strings: a "#" inside an unescaped quoted string is literal text, not a
// comment marker. Implemented as the explicit two-state scanner the format
// requires rather than a regexp, since comment-vs-quote interaction is not
// regular.
func StripComment(line string) string {
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case c == '#' && !inString:
			return line[:i]
		}
	}
	return line
}

// TokenizeHeader splits the portion of a section header after its name
// into inline-option key/value pairs. Tokens are whitespace-separated
// outside double quotes; "key=value" pairs strip surrounding quotes from
// value, and a bare word is treated as a boolean flag ("key" -> "true").
// Bracketed keys such as "tolerance[.price]" are preserved whole.
func TokenizeHeader(header, name string) map[string]string {
	out := map[string]string{}
	rest := headerRemainder(header, name)
	for _, tok := range splitHeaderTokens(rest) {
		if tok == "" {
			continue
		}
		if i := strings.IndexByte(tok, '='); i >= 0 {
			key := tok[:i]
			val := strings.Trim(tok[i+1:], `"`)
			out[key] = val
			continue
		}
		out[tok] = "true"
	}
	return out
}

// headerRemainder strips the leading "--- NAME" and trailing "---" from a
// header line, returning the inline-option text between them.
func headerRemainder(header, name string) string {
	s := strings.TrimSpace(header)
	s = strings.TrimPrefix(s, "---")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, name)
	s = strings.TrimPrefix(s, strings.ToUpper(name))
	s = strings.TrimSuffix(strings.TrimSpace(s), "---")
	return strings.TrimSpace(s)
}

// FormatHeader renders a canonical section header line for name with the
// given inline options: keys sorted, bare "true" values emitted as flags,
// values containing spaces quoted. The output re-parses (via
// TokenizeHeader) to the same option map it was built from.
func FormatHeader(name string, opts map[string]string) string {
	var b strings.Builder
	b.WriteString("--- ")
	b.WriteString(strings.ToUpper(name))

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(' ')
		v := opts[k]
		if v == "true" {
			b.WriteString(k)
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		if strings.ContainsAny(v, " \t") {
			b.WriteByte('"')
			b.WriteString(v)
			b.WriteByte('"')
		} else {
			b.WriteString(v)
		}
	}
	b.WriteString(" ---")
	return b.String()
}

// splitHeaderTokens splits on whitespace outside double-quoted spans,
// keeping quoted values intact as a single token.
func splitHeaderTokens(s string) []string {
	var toks []string
	var cur strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inString = !inString
			cur.WriteByte(c)
		case (c == ' ' || c == '\t') && !inString:
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}
