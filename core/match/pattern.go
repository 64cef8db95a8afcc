package match

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// maxGlobstarExpansions bounds how many "**/" segments are expanded into
// their zero-segment form. Further occurrences are compiled as written.
const maxGlobstarExpansions = 6

// pattern is one user-facing glob compiled into every variant needed to give
// "**/" its zero-or-more-segments meaning.
type pattern struct {
	raw      string
	variants []glob.Glob
}

func (p *pattern) match(path string) bool {
	for _, g := range p.variants {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func compilePattern(raw string) (*pattern, error) {
	translated, err := translate(raw, false)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, raw, err)
	}

	sources := expandGlobstars(translated)
	variants := make([]glob.Glob, 0, len(sources))
	for _, source := range sources {
		g, err := glob.Compile(source, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, raw, err)
		}
		variants = append(variants, g)
	}

	return &pattern{raw: raw, variants: variants}, nil
}

func compilePatterns(raws []string) ([]*pattern, error) {
	patterns := make([]*pattern, 0, len(raws))
	for _, raw := range raws {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// translate rewrites parenthesised alternation, "(a|b)" or "@(a|b)", into the
// brace form "{a,b}" understood by gobwas/glob. Native braces pass through.
func translate(p string, inAlternative bool) (string, error) {
	var b strings.Builder
	braces := 0

	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '\\':
			b.WriteByte(c)
			if i+1 < len(p) {
				i++
				b.WriteByte(p[i])
			}
		case c == '{':
			braces++
			b.WriteByte(c)
		case c == '}':
			if braces > 0 {
				braces--
			}
			b.WriteByte(c)
		case c == '@' && i+1 < len(p) && p[i+1] == '(':
			// "@(" is the extglob spelling of a plain group
		case c == '(':
			end := closingParen(p, i)
			if end < 0 {
				return "", fmt.Errorf("unbalanced '(' at offset %d", i)
			}
			group, err := translateGroup(p[i+1 : end])
			if err != nil {
				return "", err
			}
			b.WriteString(group)
			i = end
		case c == ')':
			return "", fmt.Errorf("unbalanced ')' at offset %d", i)
		case c == ',' && inAlternative && braces == 0:
			b.WriteString(`\,`)
		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

func translateGroup(body string) (string, error) {
	alternatives := splitAlternatives(body)
	parts := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		part, err := translate(alt, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// closingParen returns the index of the ')' matching the '(' at open, or -1.
func closingParen(p string, open int) int {
	depth := 0
	for i := open; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitAlternatives splits on '|' outside nested parentheses.
func splitAlternatives(body string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, body[start:])
}

// expandGlobstars returns every combination of keeping or dropping each
// "**/" that starts a path segment, so "**/*.js" also matches "a.js" and
// "node_modules/**/*" also matches "node_modules/a.js".
func expandGlobstars(p string) []string {
	var pieces []string
	start := 0
	for i := 0; i+3 <= len(p) && len(pieces) < maxGlobstarExpansions; i++ {
		if p[i:i+3] != "**/" || !segmentStart(p, i) {
			continue
		}
		pieces = append(pieces, p[start:i])
		start = i + 3
		i += 2
	}
	if len(pieces) == 0 {
		return []string{p}
	}
	tail := p[start:]

	variants := make([]string, 0, 1<<len(pieces))
	for mask := 0; mask < 1<<len(pieces); mask++ {
		var b strings.Builder
		for j, piece := range pieces {
			b.WriteString(piece)
			if mask&(1<<j) == 0 {
				b.WriteString("**/")
			}
		}
		b.WriteString(tail)
		variants = append(variants, b.String())
	}
	return variants
}

func segmentStart(p string, i int) bool {
	if i == 0 {
		return true
	}
	switch p[i-1] {
	case '/', '{', ',':
		return true
	}
	return false
}
