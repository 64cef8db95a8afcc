package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/adalundhe/rsyncwatch/core/retry"
	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultDebounce is the default window in which repeated notifications for
// one path collapse into a single event.
const DefaultDebounce = 100 * time.Millisecond

const (
	defaultMaxRearmAttempts = 3
	defaultRearmDelay       = 200 * time.Millisecond
	errorBufferSize         = 8
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPathNotExist indicates the watch root does not exist.
	ErrPathNotExist = errors.New("watch path does not exist")

	// ErrPathNotDirectory indicates the watch root is not a directory.
	ErrPathNotDirectory = errors.New("watch path is not a directory")

	// ErrWatchSource indicates the underlying notification source failed.
	ErrWatchSource = errors.New("watch source error")

	// ErrRootRemoved indicates the watch root disappeared while watching.
	ErrRootRemoved = errors.New("watch root removed")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrWatcherStopped indicates the watcher has reached its terminal state.
	ErrWatcherStopped = errors.New("watcher stopped")

	// ErrWatcherPanic indicates the event loop panicked and stopped.
	ErrWatcherPanic = errors.New("watcher panic")
)

// =============================================================================
// WatchConfig
// =============================================================================

// WatchConfig configures the file system watcher.
type WatchConfig struct {
	// Root is the directory watched recursively.
	Root string

	// Debounce collapses notifications for the same path. Zero or negative
	// delivers every notification as it arrives.
	Debounce time.Duration

	// MaxRearmAttempts bounds how often the watch is rebuilt after a source
	// error before the watcher gives up. Default is 3.
	MaxRearmAttempts int

	// RearmDelay is the initial backoff before rebuilding the watch.
	RearmDelay time.Duration

	Logger *slog.Logger
}

// DefaultWatchConfig returns a configuration with sensible defaults.
func DefaultWatchConfig(root string) WatchConfig {
	return WatchConfig{
		Root:             root,
		Debounce:         DefaultDebounce,
		MaxRearmAttempts: defaultMaxRearmAttempts,
		RearmDelay:       defaultRearmDelay,
	}
}

// =============================================================================
// FSWatcher
// =============================================================================

type pendingEvent struct {
	event ChangeEvent
	timer *time.Timer
}

// FSWatcher observes a directory tree with fsnotify.
type FSWatcher struct {
	config  WatchConfig
	root    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	rearm   *retry.Policy

	mu       sync.Mutex
	state    State
	pending  map[string]*pendingEvent
	attempts int

	eventCh  chan ChangeEvent
	errCh    chan error
	ready    chan string
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

// NewFSWatcher validates the root and prepares a watcher in the Created state.
func NewFSWatcher(config WatchConfig) (*FSWatcher, error) {
	root, err := validateRoot(config.Root)
	if err != nil {
		return nil, err
	}
	applyDefaults(&config)

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Join(ErrWatchSource, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FSWatcher{
		config:  config,
		root:    root,
		watcher: source,
		logger:  logger.With("component", "watcher", "root", root),
		rearm: &retry.Policy{
			MaxAttempts:   config.MaxRearmAttempts,
			InitialDelay:  config.RearmDelay,
			MaxDelay:      10 * config.RearmDelay,
			Multiplier:    2.0,
			JitterPercent: 0.1,
		},
		state:    StateCreated,
		pending:  make(map[string]*pendingEvent),
		eventCh:  make(chan ChangeEvent),
		errCh:    make(chan error, errorBufferSize),
		ready:    make(chan string),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// validateRoot checks that root exists and is a directory, returning its
// absolute form.
func validateRoot(root string) (string, error) {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return "", ErrPathNotExist
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", ErrPathNotDirectory
	}
	return filepath.Abs(root)
}

func applyDefaults(config *WatchConfig) {
	if config.MaxRearmAttempts <= 0 {
		config.MaxRearmAttempts = defaultMaxRearmAttempts
	}
	if config.RearmDelay <= 0 {
		config.RearmDelay = defaultRearmDelay
	}
}

// Root returns the absolute path being watched.
func (w *FSWatcher) Root() string {
	return w.root
}

// State returns the current lifecycle state.
func (w *FSWatcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Errors reports source failures. A SourceError with Fatal set is the last
// value sent before the watcher stops itself.
func (w *FSWatcher) Errors() <-chan error {
	return w.errCh
}

// =============================================================================
// Start
// =============================================================================

// Start watches the root and every directory below it. The returned channel
// is closed when ctx is done, Stop is called, or a fatal source error occurs.
func (w *FSWatcher) Start(ctx context.Context) (<-chan ChangeEvent, error) {
	w.mu.Lock()
	switch w.state {
	case StateWatching:
		w.mu.Unlock()
		return nil, ErrAlreadyStarted
	case StateStopped:
		w.mu.Unlock()
		return nil, ErrWatcherStopped
	}
	w.mu.Unlock()

	if err := w.addTree(w.root, false); err != nil {
		return nil, errors.Join(ErrWatchSource, err)
	}

	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return nil, ErrWatcherStopped
	}
	w.state = StateWatching
	w.mu.Unlock()

	go w.run(ctx)
	w.logger.Debug("watching")
	return w.eventCh, nil
}

// addTree registers dir and its subdirectories. With announce set, every
// entry found below dir is reported as created, covering files that landed
// before the new directory's watch was in place.
func (w *FSWatcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if announce && path != dir {
			w.schedule(path, OpCreate)
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// =============================================================================
// Event Processing
// =============================================================================

func (w *FSWatcher) run(ctx context.Context) {
	defer close(w.loopDone)
	defer w.cleanup()
	defer w.recoverPanic()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if stop := w.handleFSEvent(ctx, event); stop {
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if stop := w.handleSourceError(ctx, err); stop {
				return
			}
		case path := <-w.ready:
			w.flush(ctx, path)
		}
	}
}

// recoverPanic turns a panic in the loop into a fatal source error, so the
// consumer sees the watcher end instead of the process crashing.
func (w *FSWatcher) recoverPanic() {
	if r := recover(); r != nil {
		w.logger.Error("watch loop panic", "panic", r, "stack", string(debug.Stack()))
		w.publish(&SourceError{Err: fmt.Errorf("%w: %v", ErrWatcherPanic, r), Attempt: 1, Fatal: true})
	}
}

// handleFSEvent translates one notification. It returns true when the
// watcher must stop.
func (w *FSWatcher) handleFSEvent(ctx context.Context, event fsnotify.Event) bool {
	if filepath.Clean(event.Name) == w.root {
		return w.handleRootEvent(event)
	}

	if event.Has(fsnotify.Create) {
		w.handlePossibleNewDirectory(event.Name)
	}

	op := mapFSNotifyOperation(event.Op)
	if w.config.Debounce <= 0 {
		if e, ok := w.toChangeEvent(event.Name, op); ok {
			w.deliver(ctx, e)
		}
		return false
	}
	w.schedule(event.Name, op)
	return false
}

func (w *FSWatcher) handleRootEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if _, err := os.Stat(w.root); err == nil {
		return false
	}
	w.publish(&SourceError{Err: ErrRootRemoved, Attempt: 1, Fatal: true})
	return true
}

// handlePossibleNewDirectory extends the watch over a directory created
// after Start.
func (w *FSWatcher) handlePossibleNewDirectory(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}

	if err := w.addTree(path, true); err != nil {
		w.logger.Warn("watch add failed", "path", path, "error", err)
		w.publish(&SourceError{Err: err})
	}
}

// handleSourceError rebuilds the watch with backoff. Once the attempts are
// used up, the failure is reported as fatal.
func (w *FSWatcher) handleSourceError(ctx context.Context, err error) bool {
	w.mu.Lock()
	w.attempts++
	attempt := w.attempts
	w.mu.Unlock()

	w.logger.Warn("watch source error", "error", err, "attempt", attempt)

	if attempt > w.rearm.MaxAttempts {
		w.publish(&SourceError{Err: err, Attempt: attempt, Fatal: true})
		return true
	}
	w.publish(&SourceError{Err: err, Attempt: attempt})

	delay := retry.AddJitter(retry.CalculateDelay(attempt-1, w.rearm), w.rearm.JitterPercent)
	if waitErr := w.wait(ctx, delay); waitErr != nil {
		return true
	}

	if rearmErr := w.addTree(w.root, false); rearmErr != nil {
		w.logger.Error("watch rearm failed", "error", rearmErr, "attempt", attempt)
		if _, statErr := os.Stat(w.root); statErr != nil {
			w.publish(&SourceError{Err: errors.Join(ErrRootRemoved, rearmErr), Attempt: attempt, Fatal: true})
			return true
		}
		return false
	}
	w.logger.Info("watch rearmed", "attempt", attempt)
	return false
}

func (w *FSWatcher) wait(ctx context.Context, delay time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return retry.Wait(ctx, delay)
}

// fsOpMappings defines the mapping from fsnotify operations to Op.
// Order matters: first match wins.
var fsOpMappings = []struct {
	fsOp fsnotify.Op
	op   Op
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpWrite},
	{fsnotify.Remove, OpRemove},
	{fsnotify.Rename, OpRename},
	{fsnotify.Chmod, OpChmod},
}

func mapFSNotifyOperation(op fsnotify.Op) Op {
	for _, m := range fsOpMappings {
		if op.Has(m.fsOp) {
			return m.op
		}
	}
	return OpWrite
}

func (w *FSWatcher) toChangeEvent(path string, op Op) (ChangeEvent, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return ChangeEvent{}, false
	}
	return ChangeEvent{
		Path: filepath.ToSlash(rel),
		Root: w.root,
		Op:   op,
		Time: time.Now(),
	}, true
}

// =============================================================================
// Debouncing
// =============================================================================

// schedule records the latest op for path and (re)starts its debounce timer.
func (w *FSWatcher) schedule(path string, op Op) {
	event, ok := w.toChangeEvent(path, op)
	if !ok {
		return
	}

	if w.config.Debounce <= 0 {
		w.mu.Lock()
		w.pending[path] = &pendingEvent{event: event}
		w.mu.Unlock()
		go w.signalReady(path)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateStopped {
		return
	}

	if existing, ok := w.pending[path]; ok {
		existing.timer.Stop()
		existing.event = event
		existing.timer = w.createDebounceTimer(path)
		return
	}

	w.pending[path] = &pendingEvent{
		event: event,
		timer: w.createDebounceTimer(path),
	}
}

func (w *FSWatcher) createDebounceTimer(path string) *time.Timer {
	return time.AfterFunc(w.config.Debounce, func() {
		w.signalReady(path)
	})
}

func (w *FSWatcher) signalReady(path string) {
	select {
	case w.ready <- path:
	case <-w.done:
	case <-w.loopDone:
	}
}

// flush delivers the pending event for path, if it is still pending.
func (w *FSWatcher) flush(ctx context.Context, path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if ok {
		w.deliver(ctx, p.event)
	}
}

// deliver hands one event to the consumer. Only the run loop sends on
// eventCh, so nothing is delivered once the loop has returned.
func (w *FSWatcher) deliver(ctx context.Context, event ChangeEvent) {
	select {
	case <-w.done:
		return
	default:
	}

	select {
	case w.eventCh <- event:
		w.mu.Lock()
		w.attempts = 0
		w.mu.Unlock()
	case <-w.done:
	case <-ctx.Done():
	}
}

// publish reports a source error without blocking the loop.
func (w *FSWatcher) publish(err error) {
	select {
	case w.errCh <- err:
	default:
		w.logger.Warn("watch error dropped", "error", err)
	}
}

// =============================================================================
// Stop
// =============================================================================

// Stop stops the watcher and closes the event channel. It is safe to call
// more than once and from any goroutine; once it returns no further event is
// delivered.
func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		started := w.state == StateWatching
		w.state = StateStopped
		w.mu.Unlock()

		close(w.done)
		err = w.watcher.Close()

		if !started {
			close(w.loopDone)
			close(w.eventCh)
		}
	})
	<-w.loopDone
	return err
}

// cleanup runs when the loop exits, whatever the reason.
func (w *FSWatcher) cleanup() {
	w.mu.Lock()
	w.state = StateStopped
	for _, p := range w.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	w.pending = make(map[string]*pendingEvent)
	w.mu.Unlock()

	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	close(w.eventCh)
}
