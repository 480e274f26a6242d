package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/botcomet/ctxcache"
	"github.com/opd-ai/botcomet/directory"
	"github.com/opd-ai/botcomet/idgen"
	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/transport"
	"github.com/opd-ai/botcomet/vault"
)

// ErrRouterClosed is returned by Serve once the router has been closed.
var ErrRouterClosed = errors.New("router closed")

// IDSource issues fresh opaque identifiers.
type IDSource interface {
	Next() string
}

// Options configures a Router.
type Options struct {
	// HandshakeTimeout bounds the time from accept to identification.
	HandshakeTimeout time.Duration
	// LookupTimeout bounds each directory lookup.
	LookupTimeout time.Duration
	// ContextMaxAge is the age after which pending contexts are abandoned.
	ContextMaxAge time.Duration
	// SweepInterval is how often RunJanitor evicts expired contexts.
	SweepInterval time.Duration
	// VaultCapacity bounds identifier pairs per domain; zero is unbounded.
	VaultCapacity int
	// RateLimit is the sustained inbound message rate per connection; zero
	// disables limiting.
	RateLimit rate.Limit
	RateBurst int

	// IDs issues obfuscated identifiers and context ids.
	IDs IDSource
	// ClientIDs issues client ids.
	ClientIDs func() string
	// Clock drives context expiry.
	Clock ctxcache.TimeProvider
	// Recorder receives metrics; nil disables them.
	Recorder *Recorder
}

// DefaultOptions returns the options used by the station daemon when no
// configuration overrides them.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		LookupTimeout:    5 * time.Second,
		ContextMaxAge:    2 * time.Minute,
		SweepInterval:    30 * time.Second,
		RateLimit:        50,
		RateBurst:        100,
	}
}

func (o *Options) setDefaults() {
	if o.IDs == nil {
		o.IDs = idgen.Default()
	}
	if o.ClientIDs == nil {
		o.ClientIDs = uuid.NewString
	}
	if o.Clock == nil {
		o.Clock = ctxcache.DefaultTimeProvider{}
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
}

// Router owns every connection and routes messages between authenticated
// ones. It is safe for concurrent use.
type Router struct {
	opts      Options
	directory directory.Directory
	vault     *vault.Vault
	metrics   *Recorder

	mu      sync.RWMutex
	conns   map[*Connection]struct{}
	clients map[string]*Connection
	closed  bool
}

// NewRouter creates a router that authenticates plugins against dir.
func NewRouter(dir directory.Directory, opts Options) *Router {
	opts.setDefaults()
	return &Router{
		opts:      opts,
		directory: dir,
		vault:     vault.New(opts.IDs, opts.VaultCapacity),
		metrics:   opts.Recorder,
		conns:     make(map[*Connection]struct{}),
		clients:   make(map[string]*Connection),
	}
}

// Vault returns the identifier vault shared by all connections.
func (r *Router) Vault() *vault.Vault {
	return r.vault
}

// Connection returns the authenticated connection with the given client id.
func (r *Router) Connection(clientID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// Clients returns the client ids of authenticated connections with role.
func (r *Router) Clients(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id, c := range r.clients {
		if c.Role() == role {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live connections, identified or not.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Serve runs the connection on link until the peer disconnects, ctx is
// cancelled or the station closes the link. It returns nil when the link
// simply went away and the cause when the station closed it for a protocol
// violation or an authentication failure.
func (r *Router) Serve(ctx context.Context, link transport.Link) error {
	conn, err := r.accept(link)
	if err != nil {
		link.Close()
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		r.closeConnection(conn, ctx.Err())
	})
	defer stop()

	for {
		raw, err := link.Read()
		if err != nil {
			r.closeConnection(conn, nil)
			return nil
		}

		if conn.limiter != nil {
			if err := conn.limiter.Wait(ctx); err != nil {
				r.closeConnection(conn, nil)
				return nil
			}
		}

		if err := r.handle(ctx, conn, raw); err != nil {
			if conn.isClosed() {
				return nil
			}
			if errors.Is(err, protocol.ErrProtocolViolation) {
				r.metrics.observeViolation()
			}
			if errors.Is(err, protocol.ErrAuthenticationFailure) {
				if conn.markClosed(false) {
					r.rejectAuthentication(conn)
					r.teardown(conn, err)
				}
				return err
			}
			r.closeConnection(conn, err)
			return err
		}
	}
}

func (r *Router) accept(link transport.Link) (*Connection, error) {
	conn := newConnection(link, &r.opts)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRouterClosed
	}
	r.conns[conn] = struct{}{}
	r.mu.Unlock()

	r.metrics.observeAccepted()
	if r.opts.HandshakeTimeout > 0 {
		conn.setTimer(r.opts.HandshakeTimeout, func() {
			if conn.markClosed(true) {
				r.metrics.observeRejected(conn.Role())
				r.rejectAuthentication(conn)
				r.teardown(conn, fmt.Errorf("%w: handshake timeout", protocol.ErrAuthenticationFailure))
			}
		})
	}

	logrus.WithFields(logrus.Fields{
		"function": "accept",
		"remote":   link.RemoteAddr(),
	}).Debug("Accepted connection")
	return conn, nil
}

// identify registers an authenticated connection under clientID.
func (r *Router) identify(conn *Connection, clientID string, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.clients[clientID]; taken {
		return fmt.Errorf("client id %s already in use", clientID)
	}
	if !conn.authenticate(clientID, role) {
		return errConnectionClosed
	}
	r.clients[clientID] = conn

	r.metrics.observeIdentified(role, time.Since(conn.acceptedAt))
	logrus.WithFields(logrus.Fields{
		"function":  "identify",
		"remote":    conn.RemoteAddr(),
		"client_id": clientID,
		"role":      role.String(),
	}).Info("Connection identified")
	return nil
}

// closeConnection marks conn dead, removes it from routing, abandons its
// pending contexts and closes its link. cause is nil for ordinary
// disconnects.
func (r *Router) closeConnection(conn *Connection, cause error) {
	if conn.markClosed(false) {
		r.teardown(conn, cause)
	}
}

func (r *Router) teardown(conn *Connection, cause error) {
	id, role, state := conn.snapshot()

	r.mu.Lock()
	delete(r.conns, conn)
	if state == StateAuthenticated && r.clients[id] == conn {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	abandoned := conn.cache.Close()
	r.metrics.observeAbandoned(len(abandoned))
	if state == StateAuthenticated {
		r.metrics.observeDisconnected(role)
	}
	conn.link.Close()

	fields := logrus.Fields{
		"function":  "closeConnection",
		"remote":    conn.RemoteAddr(),
		"client_id": id,
		"role":      role.String(),
		"abandoned": len(abandoned),
	}
	if cause != nil {
		fields["reason"] = cause.Error()
		logrus.WithFields(fields).Warn("Closed connection")
		return
	}
	logrus.WithFields(fields).Info("Connection closed")
}

// Sweep evicts expired contexts from every connection and returns how many
// were removed.
func (r *Router) Sweep() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	total := 0
	for _, c := range conns {
		total += c.cache.EvictExpired()
	}
	r.metrics.observeAbandoned(total)
	return total
}

// RunJanitor sweeps expired contexts every SweepInterval until ctx is done.
func (r *Router) RunJanitor(ctx context.Context) {
	if r.opts.SweepInterval <= 0 || r.opts.ContextMaxAge <= 0 {
		return
	}

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				logrus.WithFields(logrus.Fields{
					"function": "RunJanitor",
					"evicted":  n,
				}).Debug("Swept abandoned contexts")
			}
		}
	}
}

// Close closes every connection and makes Serve reject new links.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.closeConnection(c, nil)
	}
}

// lookup returns the live connection registered under clientID. A
// connection that is closing is no longer a destination even before
// teardown unregisters it.
func (r *Router) lookup(clientID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clients[clientID]
	if c == nil || c.isClosed() {
		return nil
	}
	return c
}

func (r *Router) plugins() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Role() == RolePlugin && !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}
