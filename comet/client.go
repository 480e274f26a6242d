// Package comet is the comet side of the station protocol: a chat-platform
// bridge that forwards platform events to the station and executes the
// commands plugins send back.
package comet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/transport"
)

// Handler receives messages routed to the comet with their decoded payload.
type Handler func(env *protocol.Envelope, payload protocol.Payload)

// Client is a comet connection to a station.
type Client struct {
	link transport.Link

	mu       sync.Mutex
	clientID string
	handler  Handler

	connected   chan struct{}
	connectOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once
}

// New wraps an established link.
func New(link transport.Link) *Client {
	return &Client{
		link:      link,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Dial connects to the station at url.
func Dial(ctx context.Context, url string, opts transport.Options) (*Client, error) {
	link, err := transport.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return New(link), nil
}

// OnStationMessage sets the handler for messages from the station.
func (c *Client) OnStationMessage(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// ClientID returns the id assigned by the station, or "" before Connect
// completes.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Connect identifies the comet and waits for its client id. Run must be
// serving the link.
func (c *Client) Connect(ctx context.Context) (string, error) {
	if err := c.SendToStation(&protocol.CometConnect{}); err != nil {
		return "", fmt.Errorf("send comet_connect: %w", err)
	}

	select {
	case <-c.connected:
		return c.ClientID(), nil
	case <-c.done:
		return "", errors.New("station closed the connection")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SendToStation sends payload addressed to the station itself.
func (c *Client) SendToStation(payload protocol.Payload) error {
	return c.Send(protocol.StationName, payload)
}

// Send sends payload to the client destination.
func (c *Client) Send(destination string, payload protocol.Payload) error {
	env, err := protocol.NewMinimal(destination, payload)
	if err != nil {
		return err
	}
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.link.Write(raw)
}

// PublishMessage hands a platform message to every connected plugin.
func (c *Client) PublishMessage(msg *protocol.MessageCreate) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.SendToStation(msg)
}

// Run reads from the station until the link closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.link.Close() })
	defer stop()
	defer c.doneOnce.Do(func() { close(c.done) })
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
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env *protocol.Envelope) {
	payload, err := env.Payload()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"type":     string(env.Type),
			"error":    err.Error(),
		}).Warn("Dropping undecodable message")
		return
	}

	if resp, ok := payload.(*protocol.CometConnectResponse); ok {
		c.connectOnce.Do(func() {
			c.mu.Lock()
			c.clientID = resp.ClientID
			c.mu.Unlock()
			close(c.connected)
		})
		return
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(env, payload)
	}
}

// Close closes the link.
func (c *Client) Close() error {
	return c.link.Close()
}
