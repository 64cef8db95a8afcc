package transfer

import (
	"bytes"
	"io"
	"sync"
)

const maxCaptureSize = 1 << 20

// streamWriter captures process output and forwards complete lines to passTo.
type streamWriter struct {
	mu      sync.Mutex
	buffer  bytes.Buffer
	partial []byte
	passTo  io.Writer
}

func newStreamWriter(passTo io.Writer) *streamWriter {
	return &streamWriter{passTo: passTo}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buffer.Len()+len(p) <= maxCaptureSize {
		w.buffer.Write(p)
	}

	if w.passTo == nil {
		return len(p), nil
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		_, _ = w.passTo.Write(w.partial[:i+1])
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush forwards a trailing line that had no newline.
func (w *streamWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.passTo != nil && len(w.partial) > 0 {
		_, _ = w.passTo.Write(append(w.partial, '\n'))
	}
	w.partial = nil
}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffer.String()
}
