package match

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

var (
	// ErrRootPathEmpty indicates the root path was not specified.
	ErrRootPathEmpty = errors.New("root path cannot be empty")

	// ErrRootPathNotExist indicates the root path does not exist.
	ErrRootPathNotExist = errors.New("root path does not exist")

	// ErrRootPathNotDir indicates the root path is not a directory.
	ErrRootPathNotDir = errors.New("root path is not a directory")
)

// Enumerate walks root and returns the slash-separated paths, relative to
// root, of every regular file the matcher accepts. The result is sorted.
func Enumerate(ctx context.Context, root string, m *Matcher) ([]string, error) {
	if err := validateRoot(root); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return handleWalkError(walkErr)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if m.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func validateRoot(root string) error {
	if root == "" {
		return ErrRootPathEmpty
	}

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return ErrRootPathNotExist
	}
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return ErrRootPathNotDir
	}
	return nil
}

// handleWalkError skips entries we are not allowed to read.
func handleWalkError(err error) error {
	if os.IsPermission(err) {
		return nil
	}
	return err
}
