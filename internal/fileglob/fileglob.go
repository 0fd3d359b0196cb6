// Package fileglob matches file paths against the constrained glob dialect
// used by task file scopes: `*` matches within a path segment, `**` crosses
// segments, `?` matches a single non-separator character.
//
// Patterns are guarded before matching: anything longer than 500 characters
// or containing a run of three or more stars degrades to literal equality, so
// adversarial patterns cannot blow up match time.
package fileglob

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const maxPatternLength = 500

type patternClass int

const (
	classLiteral patternClass = iota
	classGlob
)

// classCacheSize bounds the pattern classification cache. Pools see a small
// working set of patterns, so a few hundred entries is plenty.
const classCacheSize = 512

var classCache, _ = lru.New[string, patternClass](classCacheSize)

// Normalize converts backslashes to forward slashes and trims leading "./".
func Normalize(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	return strings.TrimPrefix(p, "./")
}

func classify(pattern string) patternClass {
	if class, ok := classCache.Get(pattern); ok {
		return class
	}
	class := classGlob
	if len(pattern) > maxPatternLength ||
		strings.Contains(pattern, "***") ||
		!doublestar.ValidatePattern(pattern) {
		class = classLiteral
	}
	classCache.Add(pattern, class)
	return class
}

// Match reports whether path matches pattern under the constrained dialect.
// Rejected patterns compare by literal equality.
func Match(pattern, path string) bool {
	pattern = Normalize(pattern)
	path = Normalize(path)

	if classify(pattern) == classLiteral {
		return pattern == path
	}
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return pattern == path
	}
	return ok
}

// MatchAny reports whether any candidate entry matches any of the patterns.
// Entries may themselves be globs (task file scopes mix concrete paths and
// patterns), so matching is attempted in both directions.
func MatchAny(patterns, entries []string) bool {
	for _, pattern := range patterns {
		for _, entry := range entries {
			if Match(pattern, entry) || Match(entry, pattern) {
				return true
			}
		}
	}
	return false
}
