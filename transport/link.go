package transport

import (
	"errors"
	"time"

	"github.com/opd-ai/botcomet/limits"
)

// ErrClosed is returned by operations on a link that has been closed
// locally or by the peer.
var ErrClosed = errors.New("link closed")

// Link is one persistent, message-oriented duplex connection.
type Link interface {
	// Read blocks until the next message arrives. It returns ErrClosed once
	// the link is closed.
	Read() ([]byte, error)

	// Write sends one message. Safe for concurrent use.
	Write(data []byte) error

	// Close closes the link. Pending and later reads fail with ErrClosed.
	Close() error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// Options tunes WebSocket links.
type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ReadLimit:    limits.MaxEnvelopeSize,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  30 * time.Second,
	}
}
