package stillsuit

import (
	"fmt"
	"strings"
)

// FetchPath names a relationship to eager-load, segments separated by dots
// ("Lines", "Lines.Product"). Engines decide what a segment maps to.
type FetchPath string

// Path joins relationship names into a FetchPath
func Path(segments ...string) FetchPath {
	return FetchPath(strings.Join(segments, "."))
}

// Segments splits the path on dots
func (p FetchPath) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// Head returns the first relationship and the remaining path
func (p FetchPath) Head() (string, FetchPath) {
	head, rest, _ := strings.Cut(string(p), ".")
	return head, FetchPath(rest)
}

// SplitPaths groups paths by their first segment, dropping duplicates.
// The order of first appearance is kept so engines load deterministically.
func SplitPaths(paths []FetchPath) (heads []string, nested map[string][]FetchPath) {
	nested = make(map[string][]FetchPath)
	seen := make(map[FetchPath]bool)
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		head, rest := p.Head()
		if _, ok := nested[head]; !ok {
			heads = append(heads, head)
			nested[head] = nil
		}
		if rest != "" {
			nested[head] = append(nested[head], rest)
		}
	}
	return heads, nested
}

// fetchStore accumulates eager-load declarations for a repository
type fetchStore struct {
	paths []FetchPath
}

func (s *fetchStore) declare(paths []FetchPath) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: expected a non-empty set of eager-load paths", ErrInvalidArgument)
	}
	for _, p := range paths {
		for _, seg := range p.Segments() {
			if seg == "" {
				return fmt.Errorf("%w: malformed eager-load path %q", ErrInvalidArgument, p)
			}
		}
		if p == "" {
			return fmt.Errorf("%w: empty eager-load path", ErrInvalidArgument)
		}
	}
	s.paths = append(s.paths, paths...)
	return nil
}

func (s *fetchStore) snapshot() []FetchPath {
	if len(s.paths) == 0 {
		return nil
	}
	return append([]FetchPath(nil), s.paths...)
}
