// Package protocol defines the station wire format.
//
// Every message is a JSON object carrying a type tag and a type specific
// data object. Two envelope shapes coexist on the wire:
//
//	minimal (comet-facing): {"type", "destination", "data"}
//	full (plugin-facing):   {"type", "dst", "src", "context", "data"}
//
// [Decode] accepts either shape and records which one was used; [Encode]
// writes an [Envelope] back in its own shape. The data object is decoded
// into one of a closed set of [Payload] types by [DecodePayload]; any other
// type tag fails with [ErrUnsupportedType].
//
// Payloads that carry chat-platform identifiers implement [Identified] so
// the station can translate those identifiers at the comet/plugin boundary
// without knowing each payload's layout.
package protocol
