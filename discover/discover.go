// Package discover walks a set of filesystem roots to find .gctf test
// files, honoring include/exclude regex filters and an optional max depth.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Options controls which .gctf files under a root are collected.
type Options struct {
	// Include, if set, is a regex a file's path must match to be kept.
	Include *regexp.Regexp

	// Exclude, if set, is a regex a file's path must not match.
	Exclude *regexp.Regexp

	// MaxDepth limits how many directory levels below each root are
	// descended into. Zero means unlimited.
	MaxDepth int
}

// Discover walks every entry in paths — a file is taken as-is, a
// directory is walked recursively — and returns the sorted, deduplicated
// set of .gctf files that pass opts' filters.
func Discover(paths []string, opts Options) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("discovering tests under %s: %w", root, err)
		}

		if !info.IsDir() {
			if keep(root, opts) {
				addUnique(&out, seen, root)
			}
			continue
		}

		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if opts.MaxDepth > 0 && path != root {
					depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
					if depth > opts.MaxDepth {
						return filepath.SkipDir
					}
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".gctf") {
				return nil
			}
			if keep(path, opts) {
				addUnique(&out, seen, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discovering tests under %s: %w", root, err)
		}
	}

	sort.Strings(out)
	return out, nil
}

// Slice returns the page of files starting at offset, at most limit
// entries long. An offset past the end or a limit of zero yields an empty
// page; a negative limit means "the rest".
func Slice(files []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(files) || limit == 0 {
		return nil
	}
	end := len(files)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return files[offset:end]
}

func keep(path string, opts Options) bool {
	if opts.Exclude != nil && opts.Exclude.MatchString(path) {
		return false
	}
	if opts.Include != nil && !opts.Include.MatchString(path) {
		return false
	}
	return true
}

func addUnique(out *[]string, seen map[string]struct{}, path string) {
	if _, ok := seen[path]; ok {
		return
	}
	seen[path] = struct{}{}
	*out = append(*out, path)
}
