package discover

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func writeFixture(t *testing.T, dir, rel string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("--- ENDPOINT ---\npkg.Svc/Method\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDiscoverFindsNestedGctfFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.gctf")
	writeFixture(t, dir, "sub/b.gctf")
	writeFixture(t, dir, "sub/notes.txt")

	got, err := Discover([]string{dir}, Options{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 entries", got)
	}
}

func TestDiscoverExcludeFilter(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "keep.gctf")
	writeFixture(t, dir, "skip_integration.gctf")

	got, err := Discover([]string{dir}, Options{Exclude: regexp.MustCompile(`skip_`)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "keep.gctf" {
		t.Fatalf("got %v, want [keep.gctf]", got)
	}
}

func TestDiscoverIncludeFilter(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "unit_a.gctf")
	writeFixture(t, dir, "e2e_b.gctf")

	got, err := Discover([]string{dir}, Options{Include: regexp.MustCompile(`e2e_`)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "e2e_b.gctf" {
		t.Fatalf("got %v, want [e2e_b.gctf]", got)
	}
}

func TestDiscoverMaxDepth(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "top.gctf")
	writeFixture(t, dir, "one/deep.gctf")
	writeFixture(t, dir, "one/two/deeper.gctf")

	got, err := Discover([]string{dir}, Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	names := map[string]bool{}
	for _, p := range got {
		names[filepath.Base(p)] = true
	}
	if !names["top.gctf"] || !names["deep.gctf"] || names["deeper.gctf"] {
		t.Fatalf("got %v, want top.gctf and deep.gctf but not deeper.gctf", got)
	}
}

func TestDiscoverSingleFileArgument(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "only.gctf")

	got, err := Discover([]string{path}, Options{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0] != path {
		t.Fatalf("got %v, want [%s]", got, path)
	}
}

func TestSliceBoundaries(t *testing.T) {
	files := []string{"a", "b", "c"}
	cases := []struct {
		offset, limit int
		want          int
	}{
		{0, 0, 0},
		{3, 10, 0},
		{10, 10, 0},
		{0, 2, 2},
		{1, -1, 2},
		{0, 10, 3},
	}
	for _, c := range cases {
		if got := Slice(files, c.offset, c.limit); len(got) != c.want {
			t.Errorf("Slice(files, %d, %d) = %v, want %d entries", c.offset, c.limit, got, c.want)
		}
	}
}

func TestDiscoverDedupesOverlappingRoots(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.gctf")

	got, err := Discover([]string{dir, path}, Options{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %v, want 1 deduplicated entry", got)
	}
}
