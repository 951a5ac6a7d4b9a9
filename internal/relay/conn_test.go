package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"
)

// fakeConn is an in-memory Conn for exercising the registry and the relay
// loops without a network.
type fakeConn struct {
	in chan []byte

	// readErr is returned once the in channel is drained and closed.
	readErr error

	mu          sync.Mutex
	writes      [][]byte
	writeErr    error
	closeCalls  int
	closeCode   websocket.StatusCode
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 64),
		readErr: websocket.CloseError{Code: websocket.StatusNormalClosure},
	}
}

// queue enqueues frames and then closes the input, so a pump loop reading
// from this conn processes every frame and then observes readErr.
func (f *fakeConn) queue(frames ...string) {
	for _, fr := range frames {
		f.in <- []byte(fr)
	}
	close(f.in)
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, f.readErr
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeCalls > 1 {
		return errors.New("already closed")
	}
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeConn) closedWith() (int, websocket.StatusCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls, f.closeCode
}
