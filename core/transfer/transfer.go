// Package transfer runs the external file-transfer program that copies
// files from the source tree to the destination.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTransferStart indicates the transfer program could not be started.
	ErrTransferStart = errors.New("transfer program failed to start")

	// ErrTransferFailed indicates the transfer program exited unsuccessfully.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrEmptyRequest indicates a request without files or destination.
	ErrEmptyRequest = errors.New("transfer request is empty")
)

// Invoker performs one transfer per request.
type Invoker interface {
	Transfer(ctx context.Context, req Request) (*Result, error)
}

// Request names the files to send, relative to WorkingDir.
type Request struct {
	ID          string
	Files       []string
	Destination string
	WorkingDir  string
}

// NewRequest builds a request with a fresh id. Files are copied.
func NewRequest(files []string, destination, workingDir string) Request {
	return Request{
		ID:          uuid.NewString(),
		Files:       slices.Clone(files),
		Destination: destination,
		WorkingDir:  workingDir,
	}
}

func (r Request) validate() error {
	if len(r.Files) == 0 {
		return fmt.Errorf("%w: no files", ErrEmptyRequest)
	}
	if r.Destination == "" {
		return fmt.Errorf("%w: no destination", ErrEmptyRequest)
	}
	return nil
}

// Result is the outcome of one invocation. ExitCode is -1 when the process
// was killed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a non-zero exit of the transfer program.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", ErrTransferFailed, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", ErrTransferFailed, e.Code, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return ErrTransferFailed
}
