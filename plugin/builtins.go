package plugin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/matgreaves/gctf/spec"
)

func registerBuiltins(r *Registry) {
	r.Register("header", metadataHandler(false), "compare a response header by name", spec.Internal)
	r.Register("trailer", metadataHandler(true), "compare a response trailer by name", spec.Internal)
	r.Register("grpc_response_time", responseTimeHandler, "assert response latency falls within N or N-M milliseconds", spec.Internal)
	r.Register("asserts", configHookHandler, "extended assertion body hook", spec.Internal)
	r.Register("proto", configHookHandler, "proto descriptor configuration hook", spec.Internal)
	r.Register("tls", configHookHandler, "TLS configuration hook", spec.Internal)
}

// metadataHandler builds the header/trailer plugin: it looks up call.Arg
// in the response's header (or trailer, when trailer is true) metadata
// and compares it per call.Operation.
func metadataHandler(trailer bool) Handler {
	return func(ctx Context, call spec.PluginCall) (bool, error) {
		md := ctx.Headers
		if trailer {
			md = ctx.Trailers
		}
		values := lookupMetadata(md, call.Arg)

		switch call.Operation {
		case spec.OpExists:
			return len(values) > 0, nil
		case spec.OpEquals:
			for _, v := range values {
				if v == call.Value {
					return true, nil
				}
			}
			return false, nil
		case spec.OpTest:
			re, err := regexp.Compile(call.Value)
			if err != nil {
				return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("invalid pattern %q: %w", call.Value, err)}
			}
			for _, v := range values {
				if re.MatchString(v) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("header/trailer does not support legacy call syntax")}
		}
	}
}

func lookupMetadata(md map[string][]string, name string) []string {
	if md == nil {
		return nil
	}
	if v, ok := md[name]; ok {
		return v
	}
	lname := strings.ToLower(name)
	for k, v := range md {
		if strings.ToLower(k) == lname {
			return v
		}
	}
	return nil
}

// responseTimeHandler implements grpc_response_time. The bound is carried
// in call.Arg for the function-call forms ("@grpc_response_time(\"500\")")
// and falls back to call.LegacyArgs for the legacy colon form.
func responseTimeHandler(ctx Context, call spec.PluginCall) (bool, error) {
	bound := call.Arg
	if bound == "" {
		bound = call.LegacyArgs
	}
	lo, hi, err := parseRange(bound)
	if err != nil {
		return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("grpc_response_time: %w", err)}
	}
	return ctx.ResponseTimeMs >= lo && ctx.ResponseTimeMs <= hi, nil
}

// parseRange parses "N" (meaning [0, N]) or "N-M" (meaning [N, M]).
func parseRange(s string) (lo, hi int64, err error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i > 0 {
		lo, err = strconv.ParseInt(strings.TrimSpace(s[:i]), 10, 64)
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.ParseInt(strings.TrimSpace(s[i+1:]), 10, 64)
		return lo, hi, err
	}
	hi, err = strconv.ParseInt(s, 10, 64)
	return 0, hi, err
}

// configHookHandler backs asserts/proto/tls: extension points whose body is
// handed to the plugin as a raw string. The built-in behavior just
// requires a non-empty body. An external plugin of the same name does not
// replace it: Register rejects it as a conflicting registration.
func configHookHandler(_ Context, call spec.PluginCall) (bool, error) {
	body := call.LegacyArgs
	if body == "" {
		body = call.Arg
	}
	if body == "" {
		return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("%s: empty body", call.Name)}
	}
	return true, nil
}
