package station

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/vault"
)

// errUnknownIdentifier marks a reveal of an id the vault never issued.
var errUnknownIdentifier = errors.New("unknown identifier")

// fanout delivers a comet's message_create to every authenticated plugin.
// Identifiers are obfuscated once; the vault is shared so every plugin sees
// the same obfuscated ids.
func (r *Router) fanout(from *Connection, create *protocol.MessageCreate) {
	if err := r.obfuscate(create); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "fanout",
			"client_id": from.ID(),
			"error":     err.Error(),
		}).Error("Failed to obfuscate message identifiers")
		return
	}

	src := from.ID()
	for _, plugin := range r.plugins() {
		env, err := protocol.NewFull(plugin.ID(), src, "", create)
		if err != nil {
			continue
		}
		r.deliver(plugin, env)
	}
}

// route forwards env from an authenticated sender to its destination. On
// failure the sender gets a routing_failure reply and the returned error
// wraps protocol.ErrRoutingFailure.
func (r *Router) route(from *Connection, role Role, env *protocol.Envelope, payload protocol.Payload) error {
	target := r.lookup(env.Dst)
	if target == nil {
		return r.routingFailure(from, env, protocol.ReasonDestinationUnavailable)
	}

	out, err := r.translate(from, role, target.Role(), env, payload)
	if err != nil {
		reason := protocol.ReasonSendFailed
		if errors.Is(err, errUnknownIdentifier) {
			reason = protocol.ReasonUnknownIdentifier
		}
		return r.routingFailure(from, env, reason)
	}

	if !r.deliver(target, out) {
		return r.routingFailure(from, env, protocol.ReasonSendFailed)
	}
	return nil
}

func (r *Router) routingFailure(from *Connection, env *protocol.Envelope, reason string) error {
	r.reply(from, env, protocol.KindRoutingFailure, reason)
	return fmt.Errorf("%w: %s to %q: %s", protocol.ErrRoutingFailure, env.Type, env.Dst, reason)
}

// translate builds the envelope the target receives: in the target's shape,
// with the sender's real client id as source and identifiers translated at
// the comet/plugin boundary.
func (r *Router) translate(from *Connection, fromRole, toRole Role, env *protocol.Envelope, payload protocol.Payload) (*protocol.Envelope, error) {
	if ided, ok := payload.(protocol.Identified); ok && fromRole != toRole {
		var err error
		if fromRole == RoleComet {
			err = r.obfuscate(ided)
		} else {
			err = r.reveal(ided)
		}
		if err != nil {
			return nil, err
		}
		translated, err := env.WithPayload(payload)
		if err != nil {
			return nil, err
		}
		env = translated
	}

	out := *env
	if toRole == RoleComet {
		out.Shape = protocol.ShapeMinimal
		out.Src = ""
		out.Context = ""
	} else {
		out.Shape = protocol.ShapeFull
		out.Src = from.ID()
		if fromRole == RoleComet {
			out.Context = ""
		}
	}
	return &out, nil
}

func (r *Router) obfuscate(p protocol.Identified) error {
	for _, ref := range p.Identifiers() {
		obfuscated, err := r.vault.Obfuscate(ref.Domain, *ref.Value)
		if err != nil {
			return fmt.Errorf("obfuscate %s id: %w", ref.Domain, err)
		}
		*ref.Value = obfuscated
	}
	return nil
}

func (r *Router) reveal(p protocol.Identified) error {
	for _, ref := range p.Identifiers() {
		realID, err := r.vault.Reveal(ref.Domain, *ref.Value)
		if errors.Is(err, vault.ErrNotFound) {
			return fmt.Errorf("%w: %s %q", errUnknownIdentifier, ref.Domain, *ref.Value)
		}
		if err != nil {
			return fmt.Errorf("reveal %s id: %w", ref.Domain, err)
		}
		*ref.Value = realID
	}
	return nil
}

// deliver writes env to target. A failed write means the link is gone, so
// the target is closed.
func (r *Router) deliver(target *Connection, env *protocol.Envelope) bool {
	if err := target.send(env); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "deliver",
			"client_id": target.ID(),
			"type":      string(env.Type),
			"error":     err.Error(),
		}).Warn("Delivery failed, closing destination")
		r.closeConnection(target, nil)
		return false
	}
	r.metrics.observeRouted(string(env.Type))
	return true
}
