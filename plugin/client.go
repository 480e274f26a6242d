// Package plugin is the plugin side of the station protocol.
//
// A Client proves possession of its certificate's private key to the
// station and then exchanges full envelopes with comets and other plugins.
// Chat-platform identifiers it receives are obfuscated; sending them back
// in a message_send is the only way to act on them.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/botcomet/crypto"
	"github.com/opd-ai/botcomet/ctxcache"
	"github.com/opd-ai/botcomet/idgen"
	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/transport"
)

// ErrNotAuthenticated is returned by Send before the handshake completes.
var ErrNotAuthenticated = errors.New("plugin not authenticated")

// Handler receives every routed message with its decoded payload.
type Handler func(env *protocol.Envelope, payload protocol.Payload)

// Client is a plugin connection to a station.
type Client struct {
	link  transport.Link
	cert  *crypto.Certificate
	cache *ctxcache.Cache

	mu       sync.Mutex
	clientID string
	handler  Handler

	authenticated chan struct{}
	authOnce      sync.Once
	done          chan struct{}
	doneOnce      sync.Once
}

// New wraps an established link.
func New(link transport.Link, cert *crypto.Certificate) *Client {
	return &Client{
		link:          link,
		cert:          cert,
		cache:         ctxcache.New("plugin", idgen.Default(), 0),
		authenticated: make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Dial connects to the station at url.
func Dial(ctx context.Context, url string, cert *crypto.Certificate, opts transport.Options) (*Client, error) {
	link, err := transport.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return New(link, cert), nil
}

// OnMessage sets the handler for routed messages. Messages arriving without
// a handler are dropped.
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// ClientID returns the id assigned by the station, or "" before
// authentication.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Authenticate starts the handshake and waits for the station to accept
// it. Run must be serving the link.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	contextID, err := c.cache.Open(string(protocol.TypePluginConnectResponse), nil)
	if err != nil {
		return "", err
	}
	env, err := protocol.NewFull(protocol.StationName, protocol.UnidentifiedName, contextID,
		&protocol.PluginConnect{Address: c.cert.Address().String()})
	if err != nil {
		return "", err
	}
	if err := c.write(env); err != nil {
		return "", fmt.Errorf("send plugin_connect: %w", err)
	}

	select {
	case <-c.authenticated:
		return c.ClientID(), nil
	case <-c.done:
		return "", fmt.Errorf("%w: station closed the connection", protocol.ErrAuthenticationFailure)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send delivers payload to the client dst.
func (c *Client) Send(dst string, payload protocol.Payload) error {
	return c.send(dst, "", payload)
}

// Reply answers env, carrying its context id back to the sender.
func (c *Client) Reply(env *protocol.Envelope, payload protocol.Payload) error {
	return c.send(env.Src, env.Context, payload)
}

func (c *Client) send(dst, contextID string, payload protocol.Payload) error {
	id := c.ClientID()
	if id == "" {
		return ErrNotAuthenticated
	}
	env, err := protocol.NewFull(dst, id, contextID, payload)
	if err != nil {
		return err
	}
	return c.write(env)
}

// Run reads from the station until the link closes or ctx is done. It
// returns protocol.ErrAuthenticationFailure if the station rejects the
// handshake.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.markDone()
	defer c.link.Close()

	for {
		raw, err := c.link.Read()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"error":    err.Error(),
			}).Warn("Dropping malformed message from station")
			continue
		}
		if err := c.dispatch(env); err != nil {
			return err
		}
	}
}

func (c *Client) dispatch(env *protocol.Envelope) error {
	payload, err := env.Payload()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"type":     string(env.Type),
			"error":    err.Error(),
		}).Warn("Dropping undecodable message")
		return nil
	}

	switch p := payload.(type) {
	case *protocol.PluginVerify:
		return c.answerChallenge(env, p)
	case *protocol.PluginConnectResponse:
		c.completeHandshake(env, p)
		return nil
	case *protocol.Error:
		if p.Kind == protocol.KindAuthenticationFailure {
			return fmt.Errorf("%w: rejected by station", protocol.ErrAuthenticationFailure)
		}
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(env, payload)
	}
	return nil
}

func (c *Client) answerChallenge(env *protocol.Envelope, p *protocol.PluginVerify) error {
	sealed, err := p.Sealed()
	if err != nil {
		return err
	}
	plaintext, err := c.cert.Unlock(sealed)
	if err != nil {
		return fmt.Errorf("unlock challenge: %w", err)
	}
	defer crypto.ZeroBytes(plaintext)

	resp, err := protocol.NewFull(protocol.StationName, protocol.UnidentifiedName, env.Context,
		protocol.NewPluginVerifyResponse(plaintext))
	if err != nil {
		return err
	}
	return c.write(resp)
}

func (c *Client) completeHandshake(env *protocol.Envelope, p *protocol.PluginConnectResponse) {
	if _, err := c.cache.Resolve(env.Context, string(env.Type)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "completeHandshake",
			"context":  env.Context,
			"error":    err.Error(),
		}).Warn("Unexpected plugin_connect_response")
		return
	}

	c.authOnce.Do(func() {
		c.mu.Lock()
		c.clientID = p.ClientID
		c.mu.Unlock()
		close(c.authenticated)
	})

	logrus.WithFields(logrus.Fields{
		"function":  "completeHandshake",
		"address":   c.cert.Address().String(),
		"client_id": p.ClientID,
	}).Info("Plugin authenticated")
}

func (c *Client) write(env *protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.link.Write(raw)
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Close closes the link.
func (c *Client) Close() error {
	c.cache.Close()
	return c.link.Close()
}
