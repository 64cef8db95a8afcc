package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/adalundhe/rsyncwatch/core/retry"
)

// DefaultProgram is the transfer program used when none is configured.
const DefaultProgram = "rsync"

// DefaultFlags keep paths relative to the working directory, preserve
// metadata, compress, and mirror deletions of the listed files.
var DefaultFlags = []string{"-R", "-a", "-z", "-P", "--delete", "--delete-missing-args"}

const (
	maxRetryDelay = 30 * time.Second
	waitDelay     = 2 * time.Second
)

// Options configures an Rsync invoker.
type Options struct {
	Program string
	Flags   []string

	// Stdout receives the program's standard output line by line.
	Stdout io.Writer

	// Retries is the number of extra attempts after a non-zero exit.
	Retries    int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Rsync invokes an rsync-compatible program as
// <program> <flags...> --files-from=- --from0 -- . <destination>, writing the
// NUL-separated file list to its standard input. File names never reach the
// command line, so the list length is not bounded by the argument limit and
// a name starting with '-' cannot be read as an option.
type Rsync struct {
	program string
	flags   []string
	stdout  io.Writer
	policy  *retry.Policy
	logger  *slog.Logger
}

func NewRsync(opts Options) *Rsync {
	program := opts.Program
	if program == "" {
		program = DefaultProgram
	}
	flags := opts.Flags
	if len(flags) == 0 {
		flags = DefaultFlags
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Rsync{
		program: program,
		flags:   slices.Clone(flags),
		stdout:  opts.Stdout,
		policy: &retry.Policy{
			MaxAttempts:   max(opts.Retries, 0),
			InitialDelay:  opts.RetryDelay,
			MaxDelay:      maxRetryDelay,
			Multiplier:    2.0,
			JitterPercent: 0.1,
		},
		logger: logger.With("component", "transfer", "program", program),
	}
}

// Args returns the argument list used for req. The files themselves are
// sent on standard input, see FileList.
func (r *Rsync) Args(req Request) []string {
	args := make([]string, 0, len(r.flags)+5)
	args = append(args, r.flags...)
	return append(args, "--files-from=-", "--from0", "--", ".", req.Destination)
}

// FileList encodes req.Files as the NUL-terminated list read by --from0.
func FileList(req Request) []byte {
	var buf bytes.Buffer
	for _, f := range req.Files {
		buf.WriteString(f)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Transfer runs the program for req, retrying non-zero exits per the
// configured policy. The returned Result belongs to the last attempt.
func (r *Rsync) Transfer(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *Result
	err := retry.Do(ctx, r.policy, func(attempt int) error {
		if attempt > 0 {
			r.logger.Warn("transfer retry", "id", req.ID, "attempt", attempt)
		}
		var runErr error
		result, runErr = r.run(ctx, req)
		return runErr
	}, func(err error) bool {
		return errors.Is(err, ErrTransferFailed) && ctx.Err() == nil
	})
	return result, err
}

func (r *Rsync) run(ctx context.Context, req Request) (*Result, error) {
	cmd := exec.CommandContext(ctx, r.program, r.Args(req)...)
	cmd.Dir = req.WorkingDir
	cmd.WaitDelay = waitDelay
	cmd.Stdin = bytes.NewReader(FileList(req))

	stdout := newStreamWriter(r.stdout)
	stderr := newStreamWriter(nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Debug("transfer starting",
		"id", req.ID,
		"files", len(req.Files),
		"destination", req.Destination,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransferStart, r.program, err)
	}
	waitErr := cmd.Wait()
	stdout.flush()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		result.ExitCode = extractExitCode(waitErr)
		exitErr := &ExitError{Code: result.ExitCode, Stderr: strings.TrimSpace(result.Stderr)}
		if ctx.Err() != nil {
			return result, errors.Join(exitErr, ctx.Err())
		}
		return result, exitErr
	}

	r.logger.Debug("transfer complete", "id", req.ID, "duration", result.Duration)
	return result, nil
}

func extractExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
