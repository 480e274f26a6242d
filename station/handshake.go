package station

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/botcomet/crypto"
	"github.com/opd-ai/botcomet/protocol"
)

// pendingChallenge is stored in the plugin's context cache between
// plugin_verify and plugin_verify_response.
type pendingChallenge struct {
	challenge     []byte
	originContext string
	address       string
}

// authFailure builds an authentication failure. The detail is logged by the
// caller of Serve and never sent to the peer.
func authFailure(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", protocol.ErrAuthenticationFailure, fmt.Sprintf(format, args...))
}

// rejectAuthentication tells the peer its handshake failed. Every cause gets
// the same kind-only error so the reply reveals nothing about which check
// failed. It writes even when the connection is already marked closed.
func (r *Router) rejectAuthentication(conn *Connection) {
	env, err := protocol.NewFull(protocol.UnidentifiedName, protocol.StationName, "",
		&protocol.Error{Kind: protocol.KindAuthenticationFailure})
	if err == nil {
		err = conn.write(env)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rejectAuthentication",
			"remote":   conn.RemoteAddr(),
			"error":    err.Error(),
		}).Debug("Failed to deliver authentication failure")
	}
}

func (r *Router) connectComet(conn *Connection) error {
	clientID := r.opts.ClientIDs()
	if err := r.identify(conn, clientID, RoleComet); err != nil {
		return err
	}

	env, err := protocol.NewMinimal(clientID, &protocol.CometConnectResponse{ClientID: clientID})
	if err != nil {
		return err
	}
	return conn.send(env)
}

func (r *Router) connectPlugin(ctx context.Context, conn *Connection, env *protocol.Envelope, p *protocol.PluginConnect) error {
	address, err := crypto.ParseAddress(p.Address)
	if err != nil {
		r.metrics.observeRejected(RolePlugin)
		return authFailure("malformed address: %v", err)
	}

	lookupCtx := ctx
	if r.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.opts.LookupTimeout)
		defer cancel()
	}
	publicKey, err := r.directory.LookupPublicKey(lookupCtx, p.Address)
	if err != nil {
		r.metrics.observeRejected(RolePlugin)
		return authFailure("directory lookup for %s: %v", p.Address, err)
	}
	if !address.Matches(publicKey) {
		r.metrics.observeRejected(RolePlugin)
		return authFailure("directory key for %s does not match the address", p.Address)
	}

	challenge, err := crypto.NewChallenge()
	if err != nil {
		return err
	}
	sealed, err := crypto.SealChallenge(challenge, publicKey)
	if err != nil {
		return err
	}

	contextID, err := conn.cache.Open(string(protocol.TypePluginVerifyResponse), &pendingChallenge{
		challenge:     challenge,
		originContext: env.Context,
		address:       p.Address,
	})
	if err != nil {
		return err
	}
	conn.awaitChallenge(p.Address)

	verify, err := protocol.NewFull(protocol.UnidentifiedName, protocol.StationName, contextID, protocol.NewPluginVerify(sealed))
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "connectPlugin",
		"remote":   conn.RemoteAddr(),
		"address":  p.Address,
	}).Debug("Sent plugin challenge")
	return conn.send(verify)
}

func (r *Router) verifyPlugin(conn *Connection, env *protocol.Envelope, p *protocol.PluginVerifyResponse) error {
	stored, err := conn.cache.Resolve(env.Context, string(env.Type))
	if err != nil {
		r.metrics.observeRejected(RolePlugin)
		return authFailure("challenge context: %v", err)
	}
	pending := stored.(*pendingChallenge)
	defer crypto.ZeroBytes(pending.challenge)

	plaintext, err := p.Plaintext()
	if err != nil {
		r.metrics.observeRejected(RolePlugin)
		return authFailure("challenge response: %v", err)
	}
	if !crypto.ChallengeEqual(pending.challenge, plaintext) {
		r.metrics.observeRejected(RolePlugin)
		return authFailure("challenge mismatch for %s", pending.address)
	}

	clientID := r.opts.ClientIDs()
	if err := r.identify(conn, clientID, RolePlugin); err != nil {
		return err
	}

	resp, err := protocol.NewFull(clientID, protocol.StationName, pending.originContext, &protocol.PluginConnectResponse{ClientID: clientID})
	if err != nil {
		return err
	}
	return conn.send(resp)
}
