// Package limits provides centralized size limits for station traffic.
// This ensures consistent validation across the transport, the protocol
// decoder and the router.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxEnvelopeSize is the largest wire envelope accepted from any peer.
	// The transport read limit is set to this value.
	MaxEnvelopeSize = 64 * 1024

	// MaxContentLength bounds the text content of chat messages.
	MaxContentLength = 4000

	// MaxIdentifierLength bounds client ids, context ids and chat-platform
	// identifiers carried in envelopes.
	MaxIdentifierLength = 128

	// ChallengeSize is the plaintext size of a handshake challenge.
	ChallengeSize = 32

	// SealedChallengeOverhead is the overhead of a NaCl sealed box: an
	// ephemeral public key plus the Poly1305 tag.
	SealedChallengeOverhead = 48 // golang.org/x/crypto/nacl/box.AnonymousOverhead

	// MaxSealedChallenge is the size of a sealed challenge.
	MaxSealedChallenge = ChallengeSize + SealedChallengeOverhead
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrIdentifierTooLong indicates an identifier exceeds MaxIdentifierLength
	ErrIdentifierTooLong = errors.New("identifier too long")
)

// ValidateEnvelope validates a raw wire envelope against MaxEnvelopeSize.
func ValidateEnvelope(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxEnvelopeSize {
		return fmt.Errorf("%w: envelope size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxEnvelopeSize)
	}
	return nil
}

// ValidateContent validates chat message content. Empty content is allowed
// because attachments and embeds may carry no text.
func ValidateContent(content string) error {
	if len(content) > MaxContentLength {
		return fmt.Errorf("%w: content size %d exceeds limit %d", ErrMessageTooLarge, len(content), MaxContentLength)
	}
	return nil
}

// ValidateIdentifier validates an identifier's length.
func ValidateIdentifier(id string) error {
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrIdentifierTooLong, len(id), MaxIdentifierLength)
	}
	return nil
}
