package station

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/botcomet/crypto"
	"github.com/opd-ai/botcomet/directory"
	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/transport"
)

const readTimeout = 2 * time.Second

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t      *testing.T
	router *Router
	dir    *directory.Static
	ctx    context.Context
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dir := directory.NewStatic()
	router := NewRouter(dir, opts)
	t.Cleanup(func() {
		router.Close()
		cancel()
	})
	return &harness{t: t, router: router, dir: dir, ctx: ctx}
}

// peer is the client end of a served pipe.
type peer struct {
	t      *testing.T
	link   *transport.PipeLink
	result chan error
}

func (h *harness) dial() *peer {
	client, server := transport.Pipe()
	p := &peer{t: h.t, link: client, result: make(chan error, 1)}
	go func() { p.result <- h.router.Serve(h.ctx, server) }()
	return p
}

func (p *peer) sendRaw(raw string) {
	p.t.Helper()
	require.NoError(p.t, p.link.Write([]byte(raw)))
}

func (p *peer) send(env *protocol.Envelope) {
	p.t.Helper()
	raw, err := protocol.Encode(env)
	require.NoError(p.t, err)
	require.NoError(p.t, p.link.Write(raw))
}

func (p *peer) sendFull(dst, contextID string, payload protocol.Payload) {
	p.t.Helper()
	env, err := protocol.NewFull(dst, "", contextID, payload)
	require.NoError(p.t, err)
	p.send(env)
}

func (p *peer) sendMinimal(dst string, payload protocol.Payload) {
	p.t.Helper()
	env, err := protocol.NewMinimal(dst, payload)
	require.NoError(p.t, err)
	p.send(env)
}

func (p *peer) read() *protocol.Envelope {
	p.t.Helper()
	type result struct {
		raw []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := p.link.Read()
		ch <- result{raw, err}
	}()

	select {
	case res := <-ch:
		require.NoError(p.t, res.err)
		env, err := protocol.Decode(res.raw)
		require.NoError(p.t, err)
		return env
	case <-time.After(readTimeout):
		p.t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (p *peer) payload(env *protocol.Envelope, into interface{}) {
	p.t.Helper()
	require.NoError(p.t, json.Unmarshal(env.Data, into))
}

// closed waits for the station to close the link and returns Serve's result.
func (p *peer) closed() error {
	p.t.Helper()
	select {
	case err := <-p.result:
		select {
		case <-p.link.Closed():
		case <-time.After(readTimeout):
			p.t.Fatal("link not closed")
		}
		return err
	case <-time.After(readTimeout):
		p.t.Fatal("connection was not closed")
		return nil
	}
}

// rejected reads the authentication failure sent before the link closes.
func (p *peer) rejected() {
	p.t.Helper()
	env := p.read()
	require.Equal(p.t, protocol.TypeError, env.Type)
	require.Equal(p.t, protocol.ShapeFull, env.Shape)
	require.Equal(p.t, protocol.UnidentifiedName, env.Dst)
	require.Empty(p.t, env.Context)
	require.JSONEq(p.t, `{"kind":"authentication_failure"}`, string(env.Data))
}

// assertSilent fails if a message is already queued for the peer.
func (p *peer) assertSilent() {
	p.t.Helper()
	ch := make(chan []byte, 1)
	go func() {
		if raw, err := p.link.Read(); err == nil {
			ch <- raw
		}
	}()
	select {
	case raw := <-ch:
		p.t.Fatalf("unexpected message: %s", raw)
	case <-time.After(20 * time.Millisecond):
	}
}

func (p *peer) assertOpen() {
	p.t.Helper()
	select {
	case <-p.link.Closed():
		p.t.Fatal("connection closed unexpectedly")
	case <-time.After(20 * time.Millisecond):
	}
}

func (h *harness) connectComet() (*peer, string) {
	h.t.Helper()
	p := h.dial()
	p.sendMinimal(protocol.StationName, &protocol.CometConnect{})

	env := p.read()
	require.Equal(h.t, protocol.TypeCometConnectResponse, env.Type)
	require.Equal(h.t, protocol.ShapeMinimal, env.Shape)

	var resp protocol.CometConnectResponse
	p.payload(env, &resp)
	require.Equal(h.t, resp.ClientID, env.Dst)
	return p, resp.ClientID
}

func (h *harness) newPluginCert() *crypto.Certificate {
	h.t.Helper()
	cert, err := crypto.GenerateCertificate()
	require.NoError(h.t, err)
	h.dir.Register(cert.PublicKey())
	return cert
}

// startHandshake sends plugin_connect and returns the plugin_verify envelope.
func (h *harness) startHandshake(p *peer, cert *crypto.Certificate, contextID string) *protocol.Envelope {
	h.t.Helper()
	p.sendFull(protocol.StationName, contextID, &protocol.PluginConnect{Address: cert.Address().String()})

	env := p.read()
	require.Equal(h.t, protocol.TypePluginVerify, env.Type)
	require.Equal(h.t, protocol.ShapeFull, env.Shape)
	require.Equal(h.t, protocol.UnidentifiedName, env.Dst)
	require.Equal(h.t, protocol.StationName, env.Src)
	require.NotEmpty(h.t, env.Context)
	require.NotEqual(h.t, contextID, env.Context)
	return env
}

func (h *harness) unlock(cert *crypto.Certificate, verify *protocol.Envelope) []byte {
	h.t.Helper()
	var p protocol.PluginVerify
	require.NoError(h.t, json.Unmarshal(verify.Data, &p))
	sealed, err := p.Sealed()
	require.NoError(h.t, err)
	plaintext, err := cert.Unlock(sealed)
	require.NoError(h.t, err)
	return plaintext
}

func (h *harness) connectPlugin() (*peer, string, *crypto.Certificate) {
	h.t.Helper()
	cert := h.newPluginCert()
	p := h.dial()

	verify := h.startHandshake(p, cert, "plugin-ctx")
	p.sendFull(protocol.StationName, verify.Context, protocol.NewPluginVerifyResponse(h.unlock(cert, verify)))

	env := p.read()
	require.Equal(h.t, protocol.TypePluginConnectResponse, env.Type)
	require.Equal(h.t, "plugin-ctx", env.Context)
	require.Equal(h.t, protocol.StationName, env.Src)

	var resp protocol.PluginConnectResponse
	p.payload(env, &resp)
	require.Equal(h.t, resp.ClientID, env.Dst)
	return p, resp.ClientID, cert
}
