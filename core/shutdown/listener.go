package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Listener turns termination signals into a shutdown trigger.
type Listener struct {
	state  *State
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	sigCh   chan os.Signal
}

func NewListener(state *State, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		state:  state,
		logger: logger,
		stopCh: make(chan struct{}),
		sigCh:  make(chan os.Signal, 1),
	}
}

// Listen registers the shutdown signals for state until ctx is done or
// shutdown has run.
func Listen(ctx context.Context, state *State) *Listener {
	l := NewListener(state, nil)
	l.Start()
	go func() {
		select {
		case <-ctx.Done():
		case <-state.Done():
		case <-l.stopCh:
		}
		l.Stop()
	}()
	return l
}

// Start registers the signals. Calling it again has no effect.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	l.running = true
	signal.Notify(l.sigCh, shutdownSignals...)
	go l.listen()
}

func (l *Listener) listen() {
	for {
		select {
		case <-l.stopCh:
			return
		case sig := <-l.sigCh:
			l.logger.Info("shutdown signal received", "signal", sig.String())
			go l.state.TriggerOnce()
		}
	}
}

func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}

	signal.Stop(l.sigCh)
	close(l.stopCh)
	l.running = false
}

func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
