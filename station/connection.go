package station

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opd-ai/botcomet/ctxcache"
	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/transport"
)

// errConnectionClosed is returned for operations on a connection the
// station already closed.
var errConnectionClosed = errors.New("connection closed")

// Role is what a connection has identified itself as.
type Role uint8

const (
	RoleUnidentified Role = iota
	RoleComet
	RolePlugin
)

// String returns the role name used in logs and metrics.
func (r Role) String() string {
	switch r {
	case RoleUnidentified:
		return "unidentified"
	case RoleComet:
		return "comet"
	case RolePlugin:
		return "plugin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// State is the handshake state of a connection.
type State uint8

const (
	StateUnidentified State = iota
	StateAwaitingChallengeResponse
	StateAuthenticated
	StateRejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateAwaitingChallengeResponse:
		return "awaiting_challenge_response"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Connection is one accepted link and everything the station knows about
// its peer. All mutable fields are guarded by mu; the context cache has its
// own lock.
type Connection struct {
	link       transport.Link
	cache      *ctxcache.Cache
	limiter    *rate.Limiter
	acceptedAt time.Time

	mu      sync.Mutex
	id      string
	role    Role
	state   State
	address string
	closed  bool
	timer   *time.Timer
}

func newConnection(link transport.Link, opts *Options) *Connection {
	c := &Connection{
		link:       link,
		acceptedAt: time.Now(),
		id:         protocol.UnidentifiedName,
	}
	c.cache = ctxcache.NewWithTimeProvider(link.RemoteAddr(), opts.IDs, opts.ContextMaxAge, opts.Clock)
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(opts.RateLimit, opts.RateBurst)
	}
	return c
}

// ID returns the client id, or protocol.UnidentifiedName before the peer is
// identified.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Role returns the peer's role.
func (c *Connection) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// State returns the handshake state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the plugin address claimed during the handshake.
func (c *Connection) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// RemoteAddr describes the peer's network endpoint.
func (c *Connection) RemoteAddr() string {
	return c.link.RemoteAddr()
}

// PendingContexts returns the number of open context entries.
func (c *Connection) PendingContexts() int {
	return c.cache.Len()
}

func (c *Connection) snapshot() (string, Role, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.role, c.state
}

func (c *Connection) awaitChallenge(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAwaitingChallengeResponse
	c.address = address
}

// authenticate moves the connection to the authenticated state. It fails if
// the connection was closed meanwhile, for example by the handshake timer.
func (c *Connection) authenticate(id string, role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.id = id
	c.role = role
	c.state = StateAuthenticated
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return true
}

// markClosed reports whether this call closed the connection. With
// unauthenticatedOnly set an authenticated connection is left open.
func (c *Connection) markClosed(unauthenticatedOnly bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (unauthenticatedOnly && c.state == StateAuthenticated) {
		return false
	}
	c.closed = true
	if c.state != StateAuthenticated {
		c.state = StateRejected
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return true
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) setTimer(d time.Duration, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.timer = time.AfterFunc(d, f)
	}
}

// send writes env unless the connection has been closed.
func (c *Connection) send(env *protocol.Envelope) error {
	if c.isClosed() {
		return errConnectionClosed
	}
	return c.write(env)
}

func (c *Connection) write(env *protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.link.Write(raw)
}
