// Command gctf runs declarative gRPC test files (.gctf) against a live
// service: discovering them under the given paths, invoking each one's
// endpoint with retry and reachability probing, comparing the observed
// result against its RESPONSE/ERROR/ASSERTS expectation, and reporting a
// summary — the CLI surface over the runner/orchestrator/report packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/matgreaves/gctf/aggregate"
	"github.com/matgreaves/gctf/discover"
	"github.com/matgreaves/gctf/grpcinvoke"
	"github.com/matgreaves/gctf/health"
	"github.com/matgreaves/gctf/orchestrator"
	"github.com/matgreaves/gctf/plugin"
	"github.com/matgreaves/gctf/report"
	"github.com/matgreaves/gctf/runner"
	"github.com/matgreaves/gctf/spec"
)

// Exit codes.
const (
	exitOK              = 0
	exitFailed          = 1
	exitInvalidArgs     = 2
	exitFileNotFound    = 3
	exitValidationError = 7
	exitInternal        = 10
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("gctf", flag.ContinueOnError)
	var (
		parallel       string
		timeoutSec     int
		noColor        bool
		dryRun         bool
		verbose        bool
		filterPattern  string
		excludePattern string
		maxDepth       int
		logFormat      string
		logOutput      string
		noRetry        bool
		retryCount     int
		retryDelaySec  float64
		address        string
		protoFile      string
	)
	fs.StringVar(&parallel, "parallel", "auto", "worker count, or \"auto\" for NumCPU capped at 2x")
	fs.IntVar(&timeoutSec, "timeout", 30, "per-test timeout in seconds")
	fs.BoolVar(&noColor, "no-color", false, "disable ANSI color in console output")
	fs.BoolVar(&dryRun, "dry-run", false, "preview tests without calling the target service")
	fs.BoolVar(&verbose, "verbose", false, "run sequentially and print each test as it finishes")
	fs.StringVar(&filterPattern, "filter", "", "only run test files whose path matches this regex")
	fs.StringVar(&excludePattern, "exclude", "", "skip test files whose path matches this regex")
	fs.IntVar(&maxDepth, "max-depth", 0, "limit directory recursion depth (0 = unlimited)")
	fs.StringVar(&logFormat, "log-format", "", "structured report format: junit or json")
	fs.StringVar(&logOutput, "log-output", "", "file to write the structured report to (default stdout)")
	fs.BoolVar(&noRetry, "no-retry", false, "disable retrying transient gRPC failures")
	fs.IntVar(&retryCount, "retry-count", 3, "maximum retry attempts for a transient failure")
	fs.Float64Var(&retryDelaySec, "retry-delay", 0.5, "initial retry backoff in seconds, doubling up to 10x itself")
	fs.StringVar(&address, "address", "", "default gRPC address (host:port) for tests without ADDRESS")
	fs.StringVar(&protoFile, "proto-file", "", "compiled FileDescriptorSet to resolve methods from instead of server reflection")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gctf [flags] <path> [path...]\n\nRuns every .gctf test file under the given paths.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	paths := fs.Args()
	if len(paths) == 0 {
		fs.Usage()
		return exitInvalidArgs
	}

	if address == "" {
		address = os.Getenv("GRPCTESTIFY_ADDRESS")
	}
	colorEnabled := !noColor && os.Getenv("GRPCTESTIFY_NO_COLOR") == "" && isTTY()
	report.SetColorEnabled(colorEnabled)

	var includeRE, excludeRE *regexp.Regexp
	if filterPattern != "" {
		re, err := regexp.Compile(filterPattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gctf: invalid --filter: %v\n", err)
			return exitInvalidArgs
		}
		includeRE = re
	}
	if excludePattern != "" {
		re, err := regexp.Compile(excludePattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gctf: invalid --exclude: %v\n", err)
			return exitInvalidArgs
		}
		excludeRE = re
	}

	files, err := discover.Discover(paths, discover.Options{Include: includeRE, Exclude: excludeRE, MaxDepth: maxDepth})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gctf: %v\n", err)
		return exitFileNotFound
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "gctf: no .gctf test files found under the given paths")
		return exitFileNotFound
	}

	registry := plugin.NewRegistry()
	if pluginDir := os.Getenv("GRPCTESTIFY_PLUGIN_PATH"); pluginDir != "" {
		plugin.LoadExternal(registry, pluginDir, func(name string, loadErr error) {
			fmt.Fprintf(os.Stderr, "gctf: skipping external plugin %q: %v\n", name, loadErr)
		})
	}

	invoker := grpcinvoke.New()
	defer invoker.Close()

	maxRetries := retryCount
	if noRetry {
		maxRetries = 1
	}
	initialDelay := time.Duration(retryDelaySec * float64(time.Second))

	rnr := &runner.Runner{
		Invoker:           invoker,
		Plugins:           registry,
		Breaker:           health.NewBreaker(),
		DefaultAddress:    address,
		MaxRetries:        maxRetries,
		RetryInitialDelay: initialDelay,
		RetryMaxDelay:     10 * initialDelay,
		DryRun:            dryRun,
		ProtoFile:         protoFile,
	}

	parallelN := 0
	if parallel != "" && parallel != "auto" {
		n, convErr := parsePositiveInt(parallel)
		if convErr != nil {
			fmt.Fprintf(os.Stderr, "gctf: invalid --parallel %q: must be \"auto\" or a positive integer\n", parallel)
			return exitInvalidArgs
		}
		parallelN = n
	}
	if verbose || dryRun {
		parallelN = 1
	}

	orch := &orchestrator.Orchestrator{
		Runner: rnr,
		Config: orchestrator.Config{
			Parallel:    parallelN,
			Timeout:     time.Duration(timeoutSec) * time.Second,
			FailFast:    true,
			Heartbeat:   5 * time.Second,
			MaxLifetime: 300 * time.Second,
		},
	}
	if verbose {
		orch.OnOutcome = func(o spec.TestOutcome) {
			report.WriteOutcome(os.Stdout, o)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := orch.Run(ctx, files)

	out := os.Stdout
	report.WriteConsole(out, summary)

	if logFormat != "" {
		if err := writeStructuredReport(logFormat, logOutput, summary); err != nil {
			fmt.Fprintf(os.Stderr, "gctf: %v\n", err)
			return exitInternal
		}
	}

	if !summary.Success() {
		if allValidationFailures(summary) {
			return exitValidationError
		}
		return exitFailed
	}
	return exitOK
}

// allValidationFailures reports whether every non-passing outcome in
// summary was a malformed test file rather than a test that actually ran
// and failed — the one case that gets its own exit code, so CI can tell
// "your tests are broken" apart from "your service is broken."
func allValidationFailures(summary aggregate.Summary) bool {
	sawFailure := false
	for _, o := range summary.Outcomes {
		if o.Status == spec.Pass || o.Status == spec.Skip {
			continue
		}
		if o.ErrorKind != spec.ValidationError {
			return false
		}
		sawFailure = true
	}
	return sawFailure
}

// writeStructuredReport serializes summary as either JUnit XML or JSON —
// a thin wrapper over report's two encoders.
func writeStructuredReport(format, outputPath string, summary aggregate.Summary) error {
	w := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("opening --log-output %s: %w", outputPath, err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "junit":
		return report.WriteJUnit(w, summary)
	case "json":
		return report.WriteJSON(w, summary)
	default:
		return fmt.Errorf("unsupported --log-format %q: must be junit or json", format)
	}
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be greater than zero")
	}
	return n, nil
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
