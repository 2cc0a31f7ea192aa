package section

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/matgreaves/gctf/spec"
)

// BuildTestFile reads path, extracts its sections, and assembles a
// spec.TestFile from them, applying the per-section parsing rules: a
// single ADDRESS/ENDPOINT body, an ordered multi-JSON REQUEST body for
// streaming, a single RESPONSE or ERROR JSON value, HEADERS/REQUEST_HEADERS
// as "Name: value" lines, and ASSERTS as classified assertion lines.
// Inline options on the RESPONSE header merge into the returned file's
// Options. The result is validated before being returned.
func BuildTestFile(path string) (*spec.TestFile, error) {
	sections, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	tf := &spec.TestFile{Path: path, Options: spec.DefaultResponseOptions()}

	if s, ok := Get(sections, "ADDRESS"); ok {
		tf.Address = strings.TrimSpace(s.Body)
	}

	if s, ok := Get(sections, "ENDPOINT"); ok {
		tf.Endpoint = strings.TrimSpace(s.Body)
	}

	if s, ok := Get(sections, "REQUEST"); ok {
		reqs, err := splitJSONBodies(s.Body)
		if err != nil {
			return nil, &spec.Error{Kind: spec.ValidationError, Path: path, Err: fmt.Errorf("REQUEST: %w", err)}
		}
		tf.Requests = reqs
	}

	if s, ok := Get(sections, "RESPONSE"); ok {
		body := strings.TrimSpace(s.Body)
		if err := spec.CheckDuplicateKeys([]byte(body), "RESPONSE"); err != nil {
			return nil, &spec.Error{Kind: spec.ValidationError, Path: path, Err: err}
		}
		tf.ExpectedResponse = json.RawMessage(body)
		for k, v := range TokenizeHeader(s.Header, "RESPONSE") {
			tf.Options.ApplyInlineOption(k, v)
		}
	}

	if s, ok := Get(sections, "ERROR"); ok {
		body := strings.TrimSpace(s.Body)
		if err := spec.CheckDuplicateKeys([]byte(body), "ERROR"); err != nil {
			return nil, &spec.Error{Kind: spec.ValidationError, Path: path, Err: err}
		}
		tf.ExpectedError = parseExpectedError(s.Body)
	}

	for _, name := range []string{"RESPONSE_HEADERS", "RESPONSE_TRAILERS"} {
		if _, ok := Get(sections, name); ok {
			return nil, &spec.Error{
				Kind: spec.ValidationError,
				Path: path,
				Err:  fmt.Errorf("%s is not a recognized section; use @header()/@trailer() assertions instead", name),
			}
		}
	}

	var headerLines []string
	if s, ok := Get(sections, "HEADERS"); ok {
		headerLines = append(headerLines, nonEmptyLines(s.Body)...)
	}
	if s, ok := Get(sections, "REQUEST_HEADERS"); ok {
		headerLines = append(headerLines, nonEmptyLines(s.Body)...)
	}
	tf.RequestHeaders = headerLines

	if s, ok := Get(sections, "ASSERTS"); ok {
		tf.Asserts = parseAsserts(s.Body)
	}

	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return tf, nil
}

// splitJSONBodies splits a REQUEST body into its ordered sequence of JSON
// values, separated by one or more blank lines, per the client-streaming
// multi-body grammar.
func splitJSONBodies(body string) ([]json.RawMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}

	out := make([]json.RawMessage, 0, len(chunks))
	for _, c := range chunks {
		var v any
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON body %q: %w", c, err)
		}
		out = append(out, json.RawMessage(c))
	}
	return out, nil
}

// parseExpectedError interprets an ERROR section body as either a
// structured {code, message} JSON object or a bare literal message.
func parseExpectedError(body string) *spec.ExpectedError {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	if strings.HasPrefix(body, "{") {
		var obj struct {
			Code    *float64 `json:"code"`
			Message string   `json:"message"`
		}
		if err := json.Unmarshal([]byte(body), &obj); err == nil {
			e := &spec.ExpectedError{Message: obj.Message, Raw: body}
			if obj.Code != nil {
				code := int(*obj.Code)
				e.Code = &code
			}
			return e
		}
	}

	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		return &spec.ExpectedError{Message: s, Raw: body}
	}

	return &spec.ExpectedError{Message: body, Raw: body}
}

// parseAsserts classifies each non-empty ASSERTS line as a plugin call or a
// raw path predicate, extracting a leading "[k]" message-index prefix when
// present.
func parseAsserts(body string) []spec.AssertionLine {
	var lines []spec.AssertionLine
	lineNo := 0
	for _, raw := range strings.Split(body, "\n") {
		lineNo++
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		idx, rest := messageIndexPrefix(trimmed)
		call, _ := spec.ParsePluginCall(rest)
		lines = append(lines, spec.AssertionLine{
			Raw:          rest,
			LineNo:       lineNo,
			MessageIndex: idx,
			Plugin:       call,
		})
	}
	return lines
}

// messageIndexPrefix strips a leading "[k]" from line, returning the
// 1-indexed k (0 if absent) and the remainder.
func messageIndexPrefix(line string) (int, string) {
	if !strings.HasPrefix(line, "[") {
		return 0, line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return 0, line
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:end]))
	if err != nil {
		return 0, line
	}
	return n, strings.TrimSpace(line[end+1:])
}

func nonEmptyLines(body string) []string {
	var out []string
	for _, l := range strings.Split(body, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
