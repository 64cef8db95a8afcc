//go:build !windows

package shutdown

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListen_SignalTriggersShutdown(t *testing.T) {
	for _, sig := range []unix.Signal{unix.SIGUSR1, unix.SIGUSR2} {
		t.Run(sig.String(), func(t *testing.T) {
			s := New(nil)
			l := Listen(context.Background(), s)
			defer l.Stop()

			require.True(t, l.IsRunning())
			require.NoError(t, unix.Kill(os.Getpid(), sig))

			select {
			case <-s.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("%v did not trigger shutdown", sig)
			}
			assert.Eventually(t, func() bool { return !l.IsRunning() }, time.Second, time.Millisecond)
		})
	}
}

func TestListen_StopsWithContext(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	l := Listen(ctx, s)
	require.True(t, l.IsRunning())

	cancel()
	assert.Eventually(t, func() bool { return !l.IsRunning() }, time.Second, time.Millisecond)
	assert.False(t, s.Triggered())
}

func TestListener_StartStopIdempotent(t *testing.T) {
	l := NewListener(New(nil), nil)

	l.Start()
	l.Start()
	assert.True(t, l.IsRunning())

	l.Stop()
	l.Stop()
	assert.False(t, l.IsRunning())
}
