package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation covers malformed envelopes, envelopes of the wrong
	// shape for the connection state and replayed handshake steps. The
	// connection is closed.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnsupportedType is returned for type tags outside the closed set.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported message type", ErrProtocolViolation)

	// ErrAuthenticationFailure covers unknown addresses and failed
	// challenges. The peer receives an error of kind
	// KindAuthenticationFailure with no reason, then the link is closed.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrRoutingFailure is wrapped by routing errors: an unknown or closed
	// destination, an identifier the vault never issued or a failed write.
	// It is reported to the sender; the connection stays open.
	ErrRoutingFailure = errors.New("routing failure")
)

// Error kinds carried in the data of an error message.
const (
	KindAuthenticationFailure  = "authentication_failure"
	KindRoutingFailure         = "routing_failure"
	KindUnsupportedMessageType = "unsupported_message_type"
)

// Error reasons carried in the data of an error message.
const (
	ReasonDestinationUnavailable = "destination_unavailable"
	ReasonUnknownIdentifier      = "unknown_identifier"
	ReasonSendFailed             = "send_failed"
)

// violation wraps a detail message as a protocol violation.
func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
