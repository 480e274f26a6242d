package station

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/vault"
)

func realMessage() *protocol.MessageCreate {
	return &protocol.MessageCreate{
		ID:        "m-1",
		Content:   "hello",
		ChannelID: "c-1",
		GuildID:   "g-1",
		AuthorID:  "u-1",
	}
}

func TestMessageCreateFanoutObfuscates(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, cometID := h.connectComet()
	pluginA, idA, _ := h.connectPlugin()
	pluginB, idB, _ := h.connectPlugin()

	comet.sendMinimal(protocol.StationName, realMessage())

	var seen []protocol.MessageCreate
	for _, tc := range []struct {
		p  *peer
		id string
	}{{pluginA, idA}, {pluginB, idB}} {
		env := tc.p.read()
		assert.Equal(t, protocol.TypeMessageCreate, env.Type)
		assert.Equal(t, protocol.ShapeFull, env.Shape)
		assert.Equal(t, tc.id, env.Dst)
		assert.Equal(t, cometID, env.Src)

		var got protocol.MessageCreate
		tc.p.payload(env, &got)
		assert.Equal(t, "hello", got.Content)
		for _, id := range []string{got.ID, got.ChannelID, got.GuildID, got.AuthorID} {
			assert.NotContains(t, []string{"m-1", "c-1", "g-1", "u-1"}, id)
			assert.NotEmpty(t, id)
		}
		seen = append(seen, got)
	}
	assert.Equal(t, seen[0], seen[1], "every plugin sees the same obfuscated ids")

	v := h.router.Vault()
	channel, err := v.Reveal(vault.DomainChannel, seen[0].ChannelID)
	require.NoError(t, err)
	assert.Equal(t, "c-1", channel)
	_, err = v.Reveal(vault.DomainUser, seen[0].ChannelID)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestMessageCreateWithoutPlugins(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, _ := h.connectComet()

	comet.sendMinimal(protocol.StationName, realMessage())
	comet.assertOpen()
}

func TestPluginMessageSendRevealsIdentifiers(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, cometID := h.connectComet()
	plugin, _, _ := h.connectPlugin()

	comet.sendMinimal(protocol.StationName, realMessage())
	var created protocol.MessageCreate
	plugin.payload(plugin.read(), &created)

	plugin.sendFull(cometID, "reply-1", &protocol.MessageSend{
		ChannelID: created.ChannelID,
		Content:   "pong",
		ReplyTo:   created.ID,
	})

	env := comet.read()
	assert.Equal(t, protocol.TypeMessageSend, env.Type)
	assert.Equal(t, protocol.ShapeMinimal, env.Shape)
	assert.Equal(t, cometID, env.Dst)

	var send protocol.MessageSend
	comet.payload(env, &send)
	assert.Equal(t, protocol.MessageSend{ChannelID: "c-1", Content: "pong", ReplyTo: "m-1"}, send)
}

func TestPluginMessageSendUnknownIdentifier(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, cometID := h.connectComet()
	plugin, _, _ := h.connectPlugin()

	plugin.sendFull(cometID, "ctx-9", &protocol.MessageSend{ChannelID: "never-issued", Content: "x"})

	env := plugin.read()
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Equal(t, "ctx-9", env.Context)

	var e protocol.Error
	plugin.payload(env, &e)
	assert.Equal(t, protocol.Error{
		Kind:   protocol.KindRoutingFailure,
		Reason: protocol.ReasonUnknownIdentifier,
		Type:   protocol.TypeMessageSend,
	}, e)
	comet.assertOpen()
	plugin.assertOpen()
}

func TestRoutingUnknownDestination(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	plugin, _, _ := h.connectPlugin()
	comet, _ := h.connectComet()

	plugin.sendFull("nobody", "ctx-1", &protocol.MessageSend{ChannelID: "c", Content: "x"})
	env := plugin.read()
	var e protocol.Error
	plugin.payload(env, &e)
	assert.Equal(t, protocol.KindRoutingFailure, e.Kind)
	assert.Equal(t, protocol.ReasonDestinationUnavailable, e.Reason)

	comet.sendMinimal("nobody", realMessage())
	env = comet.read()
	assert.Equal(t, protocol.ShapeMinimal, env.Shape)
	comet.payload(env, &e)
	assert.Equal(t, protocol.KindRoutingFailure, e.Kind)

	plugin.assertOpen()
	comet.assertOpen()
}

func TestRoutingToUnauthenticatedConnection(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	plugin, _, _ := h.connectPlugin()

	pending := h.dial()
	h.startHandshake(pending, h.newPluginCert(), "c1")

	// A connection mid-handshake is addressed by the placeholder only.
	plugin.sendFull(protocol.UnidentifiedName, "", &protocol.MessageSend{ChannelID: "c", Content: "x"})
	var e protocol.Error
	plugin.payload(plugin.read(), &e)
	assert.Equal(t, protocol.ReasonDestinationUnavailable, e.Reason)
}

func TestUnsupportedTypeOnIdentifiedLink(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	plugin, pluginID, _ := h.connectPlugin()

	plugin.sendRaw(`{"type":"bogus","dst":"` + pluginID + `","src":"","context":"x1","data":{}}`)

	env := plugin.read()
	var e protocol.Error
	plugin.payload(env, &e)
	assert.Equal(t, protocol.KindUnsupportedMessageType, e.Kind)
	assert.Equal(t, protocol.Type("bogus"), e.Type)
	assert.Equal(t, "x1", env.Context)
	plugin.assertOpen()
}

func TestStationOnlyTypesFromClients(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	plugin, _, _ := h.connectPlugin()
	comet, cometID := h.connectComet()

	plugin.sendFull(cometID, "", &protocol.CometConnectResponse{ClientID: "spoof"})
	assert.ErrorIs(t, plugin.closed(), protocol.ErrProtocolViolation)
	comet.assertOpen()
}

func TestWrongEnvelopeShapeForRole(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, _ := h.connectComet()
	plugin, pluginID, _ := h.connectPlugin()

	comet.sendFull(pluginID, "", realMessage())
	assert.ErrorIs(t, comet.closed(), protocol.ErrProtocolViolation)

	plugin.sendMinimal(pluginID, &protocol.MessageSend{ChannelID: "c", Content: "x"})
	assert.ErrorIs(t, plugin.closed(), protocol.ErrProtocolViolation)
}

func TestPluginToPluginKeepsContext(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	a, idA, _ := h.connectPlugin()
	b, idB, _ := h.connectPlugin()

	a.sendFull(idB, "corr-1", &protocol.MessageSend{ChannelID: "opaque", Content: "hi"})

	env := b.read()
	assert.Equal(t, idB, env.Dst)
	assert.Equal(t, idA, env.Src, "source is stamped with the sender's id")
	assert.Equal(t, "corr-1", env.Context)

	var send protocol.MessageSend
	b.payload(env, &send)
	assert.Equal(t, "opaque", send.ChannelID, "ids are not translated between plugins")
}

func TestCometToPluginDirect(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, cometID := h.connectComet()
	plugin, pluginID, _ := h.connectPlugin()

	comet.sendMinimal(pluginID, realMessage())

	env := plugin.read()
	assert.Equal(t, cometID, env.Src)
	var got protocol.MessageCreate
	plugin.payload(env, &got)
	assert.NotEqual(t, "c-1", got.ChannelID)
}

func TestSourceCannotBeSpoofed(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	a, idA, _ := h.connectPlugin()
	b, idB, _ := h.connectPlugin()

	env, err := protocol.NewFull(idB, "someone-else", "", &protocol.MessageSend{ChannelID: "c", Content: "x"})
	require.NoError(t, err)
	a.send(env)

	assert.Equal(t, idA, b.read().Src)
}

func TestDisconnectRemovesFromRouting(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, cometID := h.connectComet()
	plugin, _, _ := h.connectPlugin()

	require.NoError(t, comet.link.Close())
	assert.NoError(t, comet.closed())

	plugin.sendFull(cometID, "", &protocol.MessageSend{ChannelID: "c", Content: "x"})
	var e protocol.Error
	plugin.payload(plugin.read(), &e)
	assert.Equal(t, protocol.ReasonDestinationUnavailable, e.Reason)
}

func TestClosingConnectionIsNotADestination(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, _ := h.connectComet()
	plugin, pluginID, _ := h.connectPlugin()

	// Closed but not yet torn down: still registered under its id.
	conn, ok := h.router.Connection(pluginID)
	require.True(t, ok)
	require.True(t, conn.markClosed(false))

	comet.sendMinimal(pluginID, realMessage())
	var e protocol.Error
	comet.payload(comet.read(), &e)
	assert.Equal(t, protocol.KindRoutingFailure, e.Kind)
	assert.Equal(t, protocol.ReasonDestinationUnavailable, e.Reason)

	comet.sendMinimal(protocol.StationName, realMessage())
	comet.sendMinimal("nobody", realMessage())
	comet.payload(comet.read(), &e)
	assert.Equal(t, protocol.ReasonDestinationUnavailable, e.Reason)
	plugin.assertSilent()

	h.router.teardown(conn, nil)
	assert.NoError(t, plugin.closed())
}

func TestRouteReturnsRoutingFailure(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, cometID := h.connectComet()
	plugin, _, _ := h.connectPlugin()

	from, ok := h.router.Connection(cometID)
	require.True(t, ok)
	env, err := protocol.NewMinimal("nobody", realMessage())
	require.NoError(t, err)

	err = h.router.route(from, RoleComet, env, realMessage())
	assert.ErrorIs(t, err, protocol.ErrRoutingFailure)
	assert.Contains(t, err.Error(), protocol.ReasonDestinationUnavailable)

	var e protocol.Error
	comet.payload(comet.read(), &e)
	assert.Equal(t, protocol.KindRoutingFailure, e.Kind)
	plugin.assertSilent()
}

func TestRouterClose(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	comet, _ := h.connectComet()

	h.router.Close()
	assert.NoError(t, comet.closed())
	assert.Zero(t, h.router.Len())

	p := h.dial()
	assert.ErrorIs(t, <-p.result, ErrRouterClosed)
}

func TestRecorderCountsTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := DefaultOptions()
	opts.Recorder = NewRecorder(reg)
	h := newHarness(t, opts)

	comet, _ := h.connectComet()
	plugin, _, _ := h.connectPlugin()
	comet.sendMinimal(protocol.StationName, realMessage())
	plugin.read()

	rec := opts.Recorder
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.accepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.connections.WithLabelValues("comet")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.connections.WithLabelValues("plugin")))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(rec.routed.WithLabelValues(string(protocol.TypeMessageCreate))) == 1
	}, readTimeout, 10*time.Millisecond)

	require.NoError(t, comet.link.Close())
	comet.closed()
	assert.Equal(t, float64(0), testutil.ToFloat64(rec.connections.WithLabelValues("comet")))
}
