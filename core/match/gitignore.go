package match

import (
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// loadGitignore reads every .gitignore below root. A tree without any
// .gitignore yields a matcher that ignores nothing.
func loadGitignore(root string) (gitignore.Matcher, error) {
	patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		return nil, fmt.Errorf("read .gitignore under %s: %w", root, err)
	}
	return gitignore.NewMatcher(patterns), nil
}
