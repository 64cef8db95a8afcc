// Package dispatch turns filesystem changes into transfers: one bulk
// transfer of everything in scope at startup, then one transfer per matched
// change.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/adalundhe/rsyncwatch/core/config"
	"github.com/adalundhe/rsyncwatch/core/match"
	"github.com/adalundhe/rsyncwatch/core/transfer"
	"github.com/adalundhe/rsyncwatch/core/watcher"
)

var (
	// ErrMissingConfig indicates New was called without a configuration.
	ErrMissingConfig = errors.New("dispatcher requires a config")

	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("dispatcher already running")

	// ErrBulkTransfer indicates the startup transfer failed.
	ErrBulkTransfer = errors.New("initial transfer failed")
)

// Watcher is the change source the dispatcher consumes.
type Watcher interface {
	Start(ctx context.Context) (<-chan watcher.ChangeEvent, error)
	Errors() <-chan error
	Stop() error
}

// WatcherFactory builds the change source for a run.
type WatcherFactory func(cfg watcher.WatchConfig) (Watcher, error)

// FSWatcherFactory builds an fsnotify-backed watcher.
func FSWatcherFactory(cfg watcher.WatchConfig) (Watcher, error) {
	w, err := watcher.NewFSWatcher(cfg)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Options configures a Dispatcher. Matcher, Invoker and WatcherFactory are
// derived from Config when nil.
type Options struct {
	Config         *config.Config
	Matcher        *match.Matcher
	Invoker        transfer.Invoker
	WatcherFactory WatcherFactory
	Logger         *slog.Logger
}

// Stats counts transfer requests since the dispatcher was created.
type Stats struct {
	Dispatched int64
	Succeeded  int64
	Failed     int64
	Ignored    int64
}

type Dispatcher struct {
	config      *config.Config
	root        string
	destination string
	matcher     *match.Matcher
	invoker     transfer.Invoker
	newWatcher  WatcherFactory
	logger      *slog.Logger
	queue       *pathQueue

	mu       sync.Mutex
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	workCtx  context.Context
	loopDone chan struct{}

	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	ignored    atomic.Int64
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Config == nil {
		return nil, ErrMissingConfig
	}
	cfg := opts.Config.Clone()

	root, err := filepath.Abs(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("resolve source %s: %w", cfg.Source, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	matcher := opts.Matcher
	if matcher == nil {
		var matchOpts []match.Option
		if cfg.Gitignore {
			matchOpts = append(matchOpts, match.WithGitignore(root))
		}
		matcher, err = match.Compile(cfg.Glob, cfg.Ignore, matchOpts...)
		if err != nil {
			return nil, err
		}
	}

	invoker := opts.Invoker
	if invoker == nil {
		invoker = transfer.NewRsync(transfer.Options{
			Program:    cfg.Transfer.Program,
			Flags:      cfg.Transfer.Flags,
			Retries:    cfg.Transfer.Retries,
			RetryDelay: cfg.Transfer.RetryDelay,
			Logger:     logger,
		})
	}

	newWatcher := opts.WatcherFactory
	if newWatcher == nil {
		newWatcher = FSWatcherFactory
	}

	d := &Dispatcher{
		config:      cfg,
		root:        root,
		destination: cfg.DestinationAddress(),
		matcher:     matcher,
		invoker:     invoker,
		newWatcher:  newWatcher,
		logger:      logger.With("component", "dispatch"),
		workCtx:     context.Background(),
		loopDone:    make(chan struct{}),
	}
	d.queue = newPathQueue(d.execute)
	return d, nil
}

// =============================================================================
// Run
// =============================================================================

// Run performs the startup transfer, then watches the source until ctx is
// done or Stop is called. It returns nil on a requested stop and an error
// when startup or the change source fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, err := d.begin(ctx)
	if err != nil {
		return err
	}
	defer close(d.loopDone)
	if ctx == nil {
		return nil
	}

	if err := d.syncAll(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	w, err := d.newWatcher(watcher.WatchConfig{
		Root:     d.root,
		Debounce: d.config.Debounce,
		Logger:   d.logger,
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", d.root, err)
	}
	defer w.Stop()

	events, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", d.root, err)
	}
	d.logger.Info("watching for changes", "source", d.root, "destination", d.destination)

	return d.loop(ctx, w, events)
}

// begin marks the dispatcher running. A nil context means Stop already ran.
func (d *Dispatcher) begin(parent context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil, ErrAlreadyRunning
	}
	d.running = true
	if d.stopped {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.workCtx = context.WithoutCancel(parent)
	return ctx, nil
}

// syncAll sends every file currently in scope in a single request.
func (d *Dispatcher) syncAll(ctx context.Context) error {
	files, err := match.Enumerate(ctx, d.root, d.matcher)
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", d.root, err)
	}
	if len(files) == 0 {
		d.logger.Info("no files to sync", "source", d.root)
		return nil
	}

	req := transfer.NewRequest(files, d.destination, d.root)
	d.logger.Info("initial sync", "id", req.ID, "files", len(files), "destination", d.destination)

	d.dispatched.Add(1)
	if _, err := d.invoker.Transfer(ctx, req); err != nil {
		d.failed.Add(1)
		return fmt.Errorf("%w: %w", ErrBulkTransfer, err)
	}
	d.succeeded.Add(1)
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, w Watcher, events <-chan watcher.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return d.closedErr(ctx, w)
			}
			d.handleEvent(ctx, event)
		case err := <-w.Errors():
			if fatal := d.handleWatchError(err); fatal != nil {
				return fatal
			}
		}
	}
}

// closedErr reports why the event stream ended: a pending fatal source
// error, or nil for a requested stop.
func (d *Dispatcher) closedErr(ctx context.Context, w Watcher) error {
	if ctx.Err() != nil {
		return nil
	}
	for {
		select {
		case err := <-w.Errors():
			if fatal := d.handleWatchError(err); fatal != nil {
				return fatal
			}
		default:
			return nil
		}
	}
}

func (d *Dispatcher) handleWatchError(err error) error {
	var sourceErr *watcher.SourceError
	if errors.As(err, &sourceErr) && sourceErr.Fatal {
		d.logger.Error("watch failed", "source", d.root, "error", err)
		return fmt.Errorf("watch %s: %w", d.root, err)
	}
	d.logger.Warn("watch error", "source", d.root, "error", err)
	return nil
}

// handleEvent enqueues a single-file transfer for a matched change. Paths
// that are directories are skipped; their files produce their own events.
func (d *Dispatcher) handleEvent(ctx context.Context, event watcher.ChangeEvent) {
	if ctx.Err() != nil {
		return
	}
	if !d.matcher.Match(event.Path) {
		d.ignored.Add(1)
		d.logger.Debug("change ignored", "path", event.Path, "op", event.Op)
		return
	}

	info, err := os.Lstat(filepath.Join(d.root, filepath.FromSlash(event.Path)))
	if err == nil && info.IsDir() {
		return
	}

	req := transfer.NewRequest([]string{event.Path}, d.destination, d.root)
	d.dispatched.Add(1)
	d.logger.Debug("change dispatched", "id", req.ID, "path", event.Path, "op", event.Op)
	d.queue.enqueue(event.Path, req)
}

// execute runs one queued request. Failures are logged and counted; they do
// not reach the event loop.
func (d *Dispatcher) execute(req transfer.Request) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("transfer panic", "id", req.ID, "files", req.Files, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	d.mu.Lock()
	ctx := d.workCtx
	d.mu.Unlock()

	result, err := d.invoker.Transfer(ctx, req)
	if err != nil {
		d.failed.Add(1)
		attrs := []any{
			"id", req.ID,
			"files", req.Files,
			"destination", req.Destination,
			"error", err,
		}
		var exitErr *transfer.ExitError
		if errors.As(err, &exitErr) {
			attrs = append(attrs, "exit_code", exitErr.Code, "stderr", exitErr.Stderr)
		}
		d.logger.Error("transfer failed", attrs...)
		return
	}

	d.succeeded.Add(1)
	attrs := []any{"id", req.ID, "files", req.Files}
	if result != nil {
		attrs = append(attrs, "duration", result.Duration)
	}
	d.logger.Info("synced", attrs...)
}

// =============================================================================
// Stop / Wait / Stats
// =============================================================================

// Stop ends event delivery and returns once the event loop has exited, so no
// transfer is dispatched after it returns. Transfers already dispatched still
// run; use Wait to block until they finish. Stop is idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		cancel := d.cancel
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		d.logger.Debug("dispatcher stopped")
	})
	d.awaitLoop()
}

// Wait blocks until Run has returned and every dispatched transfer has
// completed.
func (d *Dispatcher) Wait() {
	d.awaitLoop()
	d.queue.wait()
}

// awaitLoop blocks until Run has returned, if Run was ever called. Only the
// loop enqueues, so once it is done the queue's wait group cannot grow.
func (d *Dispatcher) awaitLoop() {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	if running {
		<-d.loopDone
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Succeeded:  d.succeeded.Load(),
		Failed:     d.failed.Load(),
		Ignored:    d.ignored.Load(),
	}
}

// Root returns the absolute source directory.
func (d *Dispatcher) Root() string {
	return d.root
}

// Destination returns the address transfers are sent to.
func (d *Dispatcher) Destination() string {
	return d.destination
}
