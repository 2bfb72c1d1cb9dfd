package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFileName is read from an item's root and merged into its exclusion patterns.
const IgnoreFileName = ".hoardignore"

// DefaultArchivePatterns are the only exclusions applied to complete backups.
var DefaultArchivePatterns = []string{
	"*.zip", "*.7z", "*.tar", "*.tar.gz", "*.tgz", "*.tar.bz2", "*.rar", "*.gz", "*.bz2", "*.xz",
}

// ignorePattern is a compiled exclusion pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	re        *regexp.Regexp
	matchPath bool // true = match against relative path; false = match against basename only
}

// IgnoreMatcher decides which paths of an item tree are left out of an archive.
//
// Patterns are compiled to regular expressions once, when the matcher is built:
//   - patterns without glob metacharacters match as a substring of the relative path
//   - glob patterns without '/' match against the basename only
//   - glob patterns with '/' match against the whole relative path; '*' crosses '/'
//
// Unless built with NewArchiveOnlyMatcher, any path component that begins with
// '_' or '.' is excluded regardless of patterns.
type IgnoreMatcher struct {
	patterns     []ignorePattern
	hiddenPrefix bool
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings and
// enables the hidden-component rule. Blank lines and lines starting with '#'
// are skipped.
func NewIgnoreMatcher(rawPatterns []string) (*IgnoreMatcher, error) {
	patterns, err := compilePatterns(rawPatterns)
	if err != nil {
		return nil, err
	}
	return &IgnoreMatcher{patterns: patterns, hiddenPrefix: true}, nil
}

// NewArchiveOnlyMatcher creates a matcher that applies only the given patterns,
// with the hidden-component rule suspended. Used for complete backups.
func NewArchiveOnlyMatcher(rawPatterns []string) (*IgnoreMatcher, error) {
	if len(rawPatterns) == 0 {
		rawPatterns = DefaultArchivePatterns
	}
	patterns, err := compilePatterns(rawPatterns)
	if err != nil {
		return nil, err
	}
	return &IgnoreMatcher{patterns: patterns}, nil
}

func compilePatterns(rawPatterns []string) ([]ignorePattern, error) {
	var patterns []ignorePattern
	seen := make(map[string]bool)
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSuffix(raw, "/")
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true

		p := ignorePattern{pattern: raw}
		var expr string
		if isGlob(raw) {
			p.matchPath = strings.Contains(raw, "/")
			expr = globToRegexp(raw)
		} else {
			p.matchPath = true
			expr = regexp.QuoteMeta(raw)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", raw, err)
		}
		p.re = re
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Match reports whether the given relative path should be excluded.
// relativePath should be relative to the item root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	normalized := filepath.ToSlash(relativePath)
	if normalized == "" || normalized == "." {
		return false
	}

	if m.hiddenPrefix {
		for _, part := range strings.Split(normalized, "/") {
			if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
				return true
			}
		}
	}

	basename := filepath.Base(normalized)
	for _, p := range m.patterns {
		target := basename
		if p.matchPath {
			target = normalized
		}
		if p.re.MatchString(target) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (m *IgnoreMatcher) Len() int { return len(m.patterns) }

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// globToRegexp translates a shell glob into an anchored regular expression.
// '*' matches any run of characters including '/'.
func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := i + 1
			if end < len(runes) && (runes[end] == '!' || runes[end] == '^') {
				end++
			}
			if end < len(runes) && runes[end] == ']' {
				end++
			}
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			if end >= len(runes) {
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[i+1 : end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			class = strings.ReplaceAll(class, `\`, `\\`)
			b.WriteString("[" + class + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

// PathSelector picks archive members for a selective restore. A pattern
// selects a path when it names the path or one of its parent directories, or
// when its glob matches the whole relative path. Globs without '/' also
// match the basename.
type PathSelector struct {
	patterns []ignorePattern
}

// NewPathSelector compiles patterns into a PathSelector.
func NewPathSelector(rawPatterns []string) (*PathSelector, error) {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(filepath.ToSlash(raw)), "./"), "/")
		if raw == "" {
			continue
		}
		p := ignorePattern{pattern: raw, matchPath: strings.Contains(raw, "/")}
		if isGlob(raw) {
			re, err := regexp.Compile(globToRegexp(raw))
			if err != nil {
				return nil, fmt.Errorf("compiling restore pattern %q: %w", raw, err)
			}
			p.re = re
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no restore patterns given")
	}
	return &PathSelector{patterns: patterns}, nil
}

// Match reports whether relativePath is selected.
func (s *PathSelector) Match(relativePath string) bool {
	normalized := filepath.ToSlash(relativePath)
	for _, p := range s.patterns {
		if p.re == nil {
			if normalized == p.pattern || strings.HasPrefix(normalized, p.pattern+"/") {
				return true
			}
			continue
		}
		if p.re.MatchString(normalized) {
			return true
		}
		if !p.matchPath && p.re.MatchString(filepath.Base(normalized)) {
			return true
		}
	}
	return false
}
