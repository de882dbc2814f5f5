package device

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// testTransport is a channel-backed Transport. Reads block until a chunk
// is pushed, a read error is injected, or the transport is closed.
type testTransport struct {
	chunks  chan []byte
	readErr chan error
	closed  chan struct{}
	pending []byte

	mu        sync.Mutex
	written   bytes.Buffer
	writeErr  error
	closeOnce sync.Once
	closes    int
}

func newTestTransport() *testTransport {
	return &testTransport{
		chunks:  make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (t *testTransport) push(s string) { t.chunks <- []byte(s) }

func (t *testTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		select {
		case b := <-t.chunks:
			t.pending = b
		case err := <-t.readErr:
			return 0, err
		case <-t.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *testTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	select {
	case <-t.closed:
		return 0, errors.New("write on closed transport")
	default:
	}
	return t.written.Write(p)
}

func (t *testTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *testTransport) writtenString() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

func (t *testTransport) failWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *testTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}
