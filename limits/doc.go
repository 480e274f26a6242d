// Package limits provides centralized size constants and validation
// functions for the station's wire protocol.
//
// # Size Hierarchy
//
//   - MaxEnvelopeSize (64 KiB): the largest JSON envelope read from any
//     link. The WebSocket read limit uses the same value so oversized frames
//     are refused before they are buffered.
//
//   - MaxContentLength (4000 bytes): chat message text.
//
//   - MaxIdentifierLength (128 bytes): client ids, context ids and
//     chat-platform identifiers.
//
//   - MaxSealedChallenge (80 bytes): a 32 byte challenge in a NaCl sealed
//     box. The overhead matches golang.org/x/crypto/nacl/box.AnonymousOverhead.
//
// # Validation Functions
//
//	if err := limits.ValidateEnvelope(raw); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
package limits
