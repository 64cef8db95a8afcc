// Package watcher reports changes under a directory tree as a stream of
// ChangeEvent values. It does not decide which changes matter.
package watcher

import (
	"fmt"
	"time"
)

// =============================================================================
// Op
// =============================================================================

// Op is the kind of filesystem change observed.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpChmod:
		return "chmod"
	default:
		return "unknown"
	}
}

// =============================================================================
// ChangeEvent
// =============================================================================

// ChangeEvent is one filesystem notification translated to a path relative
// to the watched root.
type ChangeEvent struct {
	// Path is slash-separated and relative to Root.
	Path string

	// Root is the watched directory.
	Root string

	Op   Op
	Time time.Time
}

// =============================================================================
// State
// =============================================================================

// State is the watcher lifecycle: Created → Watching → Stopped.
type State int32

const (
	StateCreated State = iota
	StateWatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// =============================================================================
// SourceError
// =============================================================================

// SourceError reports a failure of the underlying notification source.
// Fatal errors are followed by the watcher stopping itself.
type SourceError struct {
	Err     error
	Attempt int
	Fatal   bool
}

func (e *SourceError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("%s (fatal, attempt %d): %v", ErrWatchSource, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s (attempt %d): %v", ErrWatchSource, e.Attempt, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrWatchSource, e.Err}
}
