// Package assert evaluates an ASSERTS block against one or more streamed
// response messages: dispatching plugin calls to a plugin.Registry, and
// path-predicate lines to a jq-equivalent expression engine.
package assert

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/matgreaves/gctf/plugin"
	"github.com/matgreaves/gctf/spec"
)

// predicateLanguage combines gval's full operator set (comparisons,
// logic, regex, arithmetic) with jsonpath's "$"-rooted dot/bracket
// selectors and a "length" builtin, giving path-predicate lines
// jq-equivalent semantics once translatePredicate has rewritten the
// jq-style input (leading-dot paths, "| length") into this language's
// own syntax.
var predicateLanguage = gval.Full(jsonpath.Language(), gval.Function("length", jqLength))

// jqLength implements jq's "length" for the shapes a response document
// can take: a string's rune count, an array's or object's element count,
// and 0 for null.
func jqLength(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return len([]rune(t)), nil
	case []any:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	default:
		return nil, fmt.Errorf("length: unsupported value type %T", v)
	}
}

// leadingDotPath matches a jq-style path (".foo.bar[2]") wherever it
// appears at the start of the expression or after whitespace/an opening
// paren — never after a digit, so decimal literals like "0.1" are left
// alone.
var leadingDotPath = regexp.MustCompile(`(^|[\s(])(\.[A-Za-z_][\w.\[\]]*)`)

// translatePredicate rewrites a jq-style predicate into predicateLanguage's
// own syntax: every bare ".foo.bar" path gets a "$" root so jsonpath will
// evaluate it, and a top-level "EXPR | length" pipe becomes a
// "length(EXPR)" call, since gval's own "|" is the bitmask-OR operator,
// not a pipe.
func translatePredicate(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if left, right, ok := splitTopLevelPipe(expr); ok {
		leftExpr := rootPaths(strings.TrimSpace(left))
		right = strings.TrimSpace(right)
		switch {
		case right == "length":
			return fmt.Sprintf("length(%s)", leftExpr), nil
		case strings.HasPrefix(right, "length"):
			return fmt.Sprintf("length(%s)%s", leftExpr, strings.TrimPrefix(right, "length")), nil
		default:
			return "", fmt.Errorf("unsupported pipe stage %q in %q", right, expr)
		}
	}
	return rootPaths(expr), nil
}

// rootPaths prefixes every leading-dot path in expr with "$", turning
// jq's ".foo.bar" into jsonpath's "$.foo.bar".
func rootPaths(expr string) string {
	return leadingDotPath.ReplaceAllString(expr, `${1}$$${2}`)
}

// splitTopLevelPipe finds the first "|" in expr that is outside a
// double-quoted span and not part of a "||" operator, splitting expr
// into the stage before it and the stage after.
func splitTopLevelPipe(expr string) (left, right string, ok bool) {
	inString := false
	escaped := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case c == '|' && !inString:
			if i+1 < len(expr) && expr[i+1] == '|' {
				i++
				continue
			}
			if i > 0 && expr[i-1] == '|' {
				continue
			}
			return expr[:i], expr[i+1:], true
		}
	}
	return "", "", false
}

// Failure describes the first assertion line that failed evaluation.
type Failure struct {
	LineNo       int
	Line         string
	MessageIndex int // 1-indexed message this failure applies to; 0 for a single, non-streamed response.
	Payload      string
	Err          error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("assertion line %d (%q): %v", f.LineNo, f.Line, f.Err)
	}
	return fmt.Sprintf("assertion line %d (%q) did not hold", f.LineNo, f.Line)
}

func (f *Failure) Unwrap() error { return f.Err }

// Evaluate runs every line in lines against messages. A line with no
// "[k]" prefix runs against every message in messages; a failure on any
// one message fails the whole block. A line with MessageIndex set to k
// runs only against messages[k-1]. Returns the first Failure encountered,
// or nil if every line held everywhere it applied.
func Evaluate(messages [][]byte, lines []spec.AssertionLine, reg *plugin.Registry, base plugin.Context) error {
	for _, line := range lines {
		if line.MessageIndex > 0 {
			if line.MessageIndex > len(messages) {
				return &Failure{
					LineNo: line.LineNo, Line: line.Raw, MessageIndex: line.MessageIndex,
					Err: fmt.Errorf("message index %d out of range (%d messages)", line.MessageIndex, len(messages)),
				}
			}
			if err := evaluateAgainst(line, messages[line.MessageIndex-1], line.MessageIndex, reg, base); err != nil {
				return err
			}
			continue
		}

		for i, msg := range messages {
			idx := 0
			if len(messages) > 1 {
				idx = i + 1
			}
			if err := evaluateAgainst(line, msg, idx, reg, base); err != nil {
				return err
			}
		}
	}
	return nil
}

func evaluateAgainst(line spec.AssertionLine, msg []byte, idx int, reg *plugin.Registry, base plugin.Context) error {
	ok, err := evaluateLine(line, msg, reg, base)
	if err != nil {
		return &Failure{LineNo: line.LineNo, Line: line.Raw, MessageIndex: idx, Payload: string(msg), Err: err}
	}
	if !ok {
		return &Failure{LineNo: line.LineNo, Line: line.Raw, MessageIndex: idx, Payload: string(msg)}
	}
	return nil
}

func evaluateLine(line spec.AssertionLine, msg []byte, reg *plugin.Registry, base plugin.Context) (bool, error) {
	if line.Plugin != nil {
		ctx := base
		ctx.Response = msg
		return reg.Execute(line.Plugin.Name, ctx, *line.Plugin)
	}
	return evaluatePredicate(line.Raw, msg)
}

// evaluatePredicate evaluates a jq-equivalent path-predicate expression
// against the decoded response document. A predicate that references a
// path absent from the document is treated as false rather than an
// error — the same "missing key is falsy" behavior jq's own `?` operator
// gives you, and the only sane reading of a predicate like
// ".optional_field == null" against a response that omits the field
// entirely.
func evaluatePredicate(expr string, msg []byte) (bool, error) {
	var doc any
	if err := json.Unmarshal(msg, &doc); err != nil {
		return false, fmt.Errorf("response is not valid JSON: %w", err)
	}

	translated, err := translatePredicate(expr)
	if err != nil {
		return false, fmt.Errorf("invalid predicate %q: %w", expr, err)
	}

	eval, err := predicateLanguage.NewEvaluable(translated)
	if err != nil {
		return false, fmt.Errorf("invalid predicate %q: %w", expr, err)
	}

	v, err := eval(context.Background(), doc)
	if err != nil {
		if isMissingPathError(err) {
			return false, nil
		}
		return false, fmt.Errorf("evaluating %q: %w", expr, err)
	}

	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q did not evaluate to a boolean (got %T)", expr, v)
	}
	return b, nil
}

func isMissingPathError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unknown key") || strings.Contains(msg, "unsupported value type") || strings.Contains(msg, "out of bound")
}
