package transport

import (
	"sync"
)

const pipeBuffer = 64

// pipe is the state shared by both ends of an in-memory link pair.
type pipe struct {
	closeOnce sync.Once
	closed    chan struct{}
}

// PipeLink is one end of an in-memory link pair.
type PipeLink struct {
	p    *pipe
	in   <-chan []byte
	out  chan<- []byte
	name string
}

// Pipe returns two connected in-memory links. Closing either end closes
// both, like a network connection. Messages written before the close are
// still delivered to the reader.
func Pipe() (*PipeLink, *PipeLink) {
	p := &pipe{closed: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	return &PipeLink{p: p, in: ba, out: ab, name: "pipe-a"},
		&PipeLink{p: p, in: ab, out: ba, name: "pipe-b"}
}

// Read returns the next message.
func (l *PipeLink) Read() ([]byte, error) {
	select {
	case data := <-l.in:
		return data, nil
	case <-l.p.closed:
		select {
		case data := <-l.in:
			return data, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Write queues a copy of data for the peer.
func (l *PipeLink) Write(data []byte) error {
	select {
	case <-l.p.closed:
		return ErrClosed
	default:
	}

	msg := append([]byte(nil), data...)
	select {
	case l.out <- msg:
		return nil
	case <-l.p.closed:
		return ErrClosed
	}
}

// Close closes both ends.
func (l *PipeLink) Close() error {
	l.p.closeOnce.Do(func() { close(l.p.closed) })
	return nil
}

// Closed returns a channel that is closed when the pair is closed.
func (l *PipeLink) Closed() <-chan struct{} {
	return l.p.closed
}

// RemoteAddr names the pipe end.
func (l *PipeLink) RemoteAddr() string {
	return l.name
}
