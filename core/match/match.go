// Package match decides which files under a source root are in scope. Ignore
// patterns are evaluated first and always win over the include pattern.
//
// Pattern syntax: "*" matches within one path segment, "**" matches across
// zero or more segments, "?" and "[...]" match single characters, and both
// "{a,b}" and "(a|b)" select one alternative. Patterns are anchored to the
// whole slash-separated path relative to the root.
package match

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of match decisions a Matcher remembers.
const DefaultCacheSize = 4096

var (
	// ErrInvalidPattern indicates an include or ignore pattern could not be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrEmptyInclude indicates no include pattern was given.
	ErrEmptyInclude = errors.New("include pattern is empty")
)

// Matcher is a compiled include pattern plus its ignore rules. It is safe for
// concurrent use.
type Matcher struct {
	include   *pattern
	ignore    []*pattern
	gitignore gitignore.Matcher
	cache     *lru.Cache[string, bool]
}

type options struct {
	cacheSize     int
	gitignoreRoot string
}

// Option configures Compile.
type Option func(*options)

// WithCacheSize bounds the decision cache. Zero disables caching.
func WithCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// WithGitignore adds the .gitignore rules found under root as extra ignore
// patterns.
func WithGitignore(root string) Option {
	return func(o *options) {
		o.gitignoreRoot = root
	}
}

// Compile builds a Matcher. All patterns are validated up front so a syntax
// error is reported once, before any path is evaluated.
func Compile(include string, ignore []string, opts ...Option) (*Matcher, error) {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(include) == "" {
		return nil, errors.Join(ErrInvalidPattern, ErrEmptyInclude)
	}

	inc, err := compilePattern(include)
	if err != nil {
		return nil, err
	}
	ign, err := compilePatterns(ignore)
	if err != nil {
		return nil, err
	}

	m := &Matcher{include: inc, ignore: ign}

	if o.gitignoreRoot != "" {
		if m.gitignore, err = loadGitignore(o.gitignoreRoot); err != nil {
			return nil, err
		}
	}

	if o.cacheSize > 0 {
		if m.cache, err = lru.New[string, bool](o.cacheSize); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Match reports whether relativePath is in scope.
func (m *Matcher) Match(relativePath string) bool {
	path := normalize(relativePath)

	if m.cache != nil {
		if decision, ok := m.cache.Get(path); ok {
			return decision
		}
	}

	decision := m.decide(path)

	if m.cache != nil {
		m.cache.Add(path, decision)
	}
	return decision
}

// Ignored reports whether relativePath is removed from scope by an ignore rule.
func (m *Matcher) Ignored(relativePath string) bool {
	return m.ignored(normalize(relativePath))
}

// Include returns the include pattern as written.
func (m *Matcher) Include() string {
	return m.include.raw
}

// IgnorePatterns returns the ignore patterns as written, in evaluation order.
func (m *Matcher) IgnorePatterns() []string {
	raws := make([]string, len(m.ignore))
	for i, p := range m.ignore {
		raws[i] = p.raw
	}
	return raws
}

func (m *Matcher) decide(path string) bool {
	if m.ignored(path) {
		return false
	}
	return m.include.match(path)
}

func (m *Matcher) ignored(path string) bool {
	for _, p := range m.ignore {
		if p.match(path) {
			return true
		}
	}
	if m.gitignore != nil && m.gitignore.Match(strings.Split(path, "/"), false) {
		return true
	}
	return false
}

// IsMatch compiles the patterns and evaluates a single path. Prefer Compile
// when evaluating many paths.
func IsMatch(relativePath, includePattern string, ignorePatterns []string) (bool, error) {
	m, err := Compile(includePattern, ignorePatterns, WithCacheSize(0))
	if err != nil {
		return false, err
	}
	return m.Match(relativePath), nil
}

func normalize(path string) string {
	path = filepath.ToSlash(path)
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	return path
}
