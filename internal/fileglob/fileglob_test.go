package fileglob

import (
	"strings"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/*.go", "src/main.go", true},
		{"src/*.go", "src/sub/main.go", false},
		{"src/**/*.go", "src/sub/deep/main.go", true},
		{"**/*.ts", "a/b/c/d.ts", true},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
		{"file?.txt", "file/.txt", false},
		{"exact/path.go", "exact/path.go", true},
		{"exact/path.go", "other/path.go", false},
		// Backslash normalization.
		{`src\*.go`, `src\main.go`, true},
		{"src/*.go", `src\main.go`, true},
		// Guarded patterns degrade to literal equality.
		{"a/***/b", "a/x/b", false},
		{"a/***/b", "a/***/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.path, func(t *testing.T) {
			if got := Match(tt.pattern, tt.path); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchOverlongPatternIsLiteral(t *testing.T) {
	long := strings.Repeat("a*/", 200) + "b.go" // > 500 chars
	if Match(long, "a/x/b.go") {
		t.Error("overlong pattern matched as a glob")
	}
	if !Match(long, long) {
		t.Error("overlong pattern should still match itself literally")
	}
}

func TestMatchAdversarialPatternTerminatesQuickly(t *testing.T) {
	pattern := strings.Repeat("a*", 40) + "b"
	subject := strings.Repeat("a", 200)

	start := time.Now()
	Match(pattern, subject)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("match took %v, want well under a second", elapsed)
	}
}

func TestMatchAny(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		entries  []string
		want     bool
	}{
		{"direct hit", []string{"src/**"}, []string{"src/a/b.go"}, true},
		{"entry is the glob", []string{"src/pool.go"}, []string{"src/*.go"}, true},
		{"no overlap", []string{"docs/**"}, []string{"src/a.go"}, false},
		{"empty entries", []string{"src/**"}, nil, false},
		{"empty patterns", nil, []string{"src/a.go"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchAny(tt.patterns, tt.entries); got != tt.want {
				t.Errorf("MatchAny(%v, %v) = %v, want %v", tt.patterns, tt.entries, got, tt.want)
			}
		})
	}
}
