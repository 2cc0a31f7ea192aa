package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/matgreaves/gctf/spec"
)

// subprocessRequest is the JSON payload piped to an external plugin's
// stdin: everything the call needs, with no shell interpolation.
type subprocessRequest struct {
	Name           string              `json:"name"`
	Operation      string              `json:"operation"`
	Arg            string              `json:"arg"`
	Value          string              `json:"value"`
	Legacy         string              `json:"legacy_args"`
	Response       json.RawMessage     `json:"response"`
	Headers        map[string][]string `json:"headers"`
	Trailers       map[string][]string `json:"trailers"`
	ResponseTimeMs int64               `json:"response_time_ms"`
}

// LoadExternal scans dir for executable files and registers each as a
// plugin, keyed by its base filename with any extension stripped. Files
// without an executable bit are ignored silently. A plugin that fails to
// load (its file info cannot be read, or its name collides with a
// different handler) is skipped and reported through onError rather than
// aborting the scan — matching the registry's load semantics, where one
// bad plugin must not prevent the rest from loading.
func LoadExternal(r *Registry, dir string, onError func(name string, err error)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if onError != nil {
			onError(dir, err)
		}
		return
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(dir, de.Name())
		info, err := de.Info()
		if err != nil {
			if onError != nil {
				onError(de.Name(), err)
			}
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue // not executable; not a plugin
		}

		name := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		handler := subprocessHandler(path)
		if err := r.Register(name, handler, "external plugin: "+path, spec.External); err != nil {
			if onError != nil {
				onError(name, err)
			}
			continue
		}
	}
}

// subprocessHandler runs the executable at path once per call, feeding it
// a JSON request on stdin. Exit code 0 means pass, any other exit code
// means fail; a launch failure (missing binary, timeout) is a PluginError.
func subprocessHandler(path string) Handler {
	return func(ctx Context, call spec.PluginCall) (bool, error) {
		req := subprocessRequest{
			Name:           call.Name,
			Operation:      string(call.Operation),
			Arg:            call.Arg,
			Value:          call.Value,
			Legacy:         call.LegacyArgs,
			Response:       json.RawMessage(ctx.Response),
			Headers:        ctx.Headers,
			Trailers:       ctx.Trailers,
			ResponseTimeMs: ctx.ResponseTimeMs,
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("encoding request for %s: %w", path, err)}
		}

		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cmd := exec.CommandContext(runCtx, path)
		cmd.Stdin = strings.NewReader(string(payload))
		out, err := cmd.CombinedOutput()
		if err != nil {
			if runCtx.Err() != nil {
				return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("running %s: %w\n%s", path, runCtx.Err(), out)}
			}
			if _, ok := err.(*exec.ExitError); ok {
				return false, nil
			}
			return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("running %s: %w\n%s", path, err, out)}
		}
		return true, nil
	}
}
