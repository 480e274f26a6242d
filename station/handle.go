package station

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/botcomet/protocol"
)

// handle processes one inbound message. A returned error closes the
// connection; recoverable failures are reported to the sender instead.
func (r *Router) handle(ctx context.Context, conn *Connection, raw []byte) error {
	env, err := protocol.Decode(raw)
	if err != nil {
		return err
	}

	_, role, state := conn.snapshot()
	switch state {
	case StateUnidentified:
		return r.handleUnidentified(ctx, conn, env)
	case StateAwaitingChallengeResponse:
		return r.handleAwaiting(conn, env)
	case StateAuthenticated:
		return r.handleAuthenticated(conn, role, env)
	default:
		return fmt.Errorf("%w: message on %s connection", protocol.ErrProtocolViolation, state)
	}
}

func (r *Router) handleUnidentified(ctx context.Context, conn *Connection, env *protocol.Envelope) error {
	if env.Dst != protocol.StationName {
		return fmt.Errorf("%w: unidentified connection addressed %q", protocol.ErrProtocolViolation, env.Dst)
	}

	switch env.Type {
	case protocol.TypeCometConnect:
		if env.Shape != protocol.ShapeMinimal {
			return fmt.Errorf("%w: comet_connect must use the minimal envelope", protocol.ErrProtocolViolation)
		}
		if _, err := env.Payload(); err != nil {
			return err
		}
		return r.connectComet(conn)
	case protocol.TypePluginConnect:
		if env.Shape != protocol.ShapeFull {
			return fmt.Errorf("%w: plugin_connect must use the full envelope", protocol.ErrProtocolViolation)
		}
		payload, err := env.Payload()
		if err != nil {
			return err
		}
		return r.connectPlugin(ctx, conn, env, payload.(*protocol.PluginConnect))
	default:
		return fmt.Errorf("%w: %s before identification", protocol.ErrProtocolViolation, env.Type)
	}
}

func (r *Router) handleAwaiting(conn *Connection, env *protocol.Envelope) error {
	if env.Type != protocol.TypePluginVerifyResponse || env.Shape != protocol.ShapeFull || env.Dst != protocol.StationName {
		return fmt.Errorf("%w: expected plugin_verify_response, got %s", protocol.ErrProtocolViolation, env.Type)
	}
	payload, err := env.Payload()
	if err != nil {
		return err
	}
	return r.verifyPlugin(conn, env, payload.(*protocol.PluginVerifyResponse))
}

func (r *Router) handleAuthenticated(conn *Connection, role Role, env *protocol.Envelope) error {
	if want := shapeFor(role); env.Shape != want {
		return fmt.Errorf("%w: %s sent a %s envelope", protocol.ErrProtocolViolation, role, env.Shape)
	}

	payload, err := env.Payload()
	switch {
	case errors.Is(err, protocol.ErrUnsupportedType):
		logrus.WithFields(logrus.Fields{
			"function":  "handleAuthenticated",
			"client_id": conn.ID(),
			"type":      string(env.Type),
		}).Warn("Unsupported message type")
		r.reply(conn, env, protocol.KindUnsupportedMessageType, "")
		return nil
	case err != nil:
		return err
	}

	switch payload.(type) {
	case *protocol.CometConnect, *protocol.PluginConnect, *protocol.PluginVerifyResponse:
		return fmt.Errorf("%w: %s replayed after authentication", protocol.ErrProtocolViolation, env.Type)
	case *protocol.PluginVerify, *protocol.PluginConnectResponse, *protocol.CometConnectResponse, *protocol.Error:
		return fmt.Errorf("%w: %s is issued by the station only", protocol.ErrProtocolViolation, env.Type)
	}

	if env.Dst == protocol.StationName {
		if create, ok := payload.(*protocol.MessageCreate); ok && role == RoleComet {
			r.fanout(conn, create)
			return nil
		}
		r.reply(conn, env, protocol.KindUnsupportedMessageType, "")
		return nil
	}

	if err := r.route(conn, role, env, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handleAuthenticated",
			"client_id": conn.ID(),
			"error":     err.Error(),
		}).Debug("Message not routed")
	}
	return nil
}

func shapeFor(role Role) protocol.Shape {
	if role == RoleComet {
		return protocol.ShapeMinimal
	}
	return protocol.ShapeFull
}

// reply reports a failure back to the sender of env. Comets get a minimal
// envelope, plugins a full one carrying the original context id.
func (r *Router) reply(conn *Connection, env *protocol.Envelope, kind, reason string) {
	r.metrics.observeRoutingError(kind)

	payload := &protocol.Error{Kind: kind, Reason: reason, Type: env.Type}
	id, role, _ := conn.snapshot()

	var (
		out *protocol.Envelope
		err error
	)
	if role == RoleComet {
		out, err = protocol.NewMinimal(id, payload)
	} else {
		out, err = protocol.NewFull(id, protocol.StationName, env.Context, payload)
	}
	if err == nil {
		err = conn.send(out)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "reply",
			"client_id": id,
			"kind":      kind,
			"error":     err.Error(),
		}).Warn("Failed to deliver error reply")
	}
}
