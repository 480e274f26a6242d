package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opd-ai/botcomet/limits"
)

// Reserved logical names.
const (
	// StationName addresses the station itself.
	StationName = "STATION"
	// UnidentifiedName is the placeholder client id of a connection that has
	// not been identified yet.
	UnidentifiedName = "CONNECTION"
)

// Shape identifies which envelope layout a message uses.
type Shape uint8

const (
	// ShapeMinimal is {type, destination, data}.
	ShapeMinimal Shape = iota
	// ShapeFull is {type, dst, src, context, data}.
	ShapeFull
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeMinimal:
		return "minimal"
	case ShapeFull:
		return "full"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

// Envelope is a decoded wire message.
type Envelope struct {
	Shape   Shape
	Type    Type
	Dst     string
	Src     string
	Context string
	Data    json.RawMessage
}

type minimalWire struct {
	Type        Type            `json:"type"`
	Destination string          `json:"destination"`
	Data        json.RawMessage `json:"data"`
}

type fullWire struct {
	Type    Type            `json:"type"`
	Dst     string          `json:"dst"`
	Src     string          `json:"src"`
	Context string          `json:"context,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// inboundWire uses pointers to tell absent fields from empty ones.
type inboundWire struct {
	Type        *string         `json:"type"`
	Destination *string         `json:"destination"`
	Dst         *string         `json:"dst"`
	Src         *string         `json:"src"`
	Context     *string         `json:"context"`
	Data        json.RawMessage `json:"data"`
}

var emptyObject = json.RawMessage(`{}`)

// Decode parses a raw wire message. Any structural problem is reported as
// ErrProtocolViolation.
func Decode(raw []byte) (*Envelope, error) {
	if err := limits.ValidateEnvelope(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	var w inboundWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, violation("malformed envelope: %v", err)
	}
	if w.Type == nil || *w.Type == "" {
		return nil, violation("missing type")
	}

	env := &Envelope{Type: Type(*w.Type)}

	switch {
	case w.Destination != nil && (w.Dst != nil || w.Src != nil || w.Context != nil):
		return nil, violation("envelope mixes minimal and full fields")
	case w.Destination != nil:
		env.Shape = ShapeMinimal
		env.Dst = *w.Destination
	case w.Dst != nil:
		env.Shape = ShapeFull
		env.Dst = *w.Dst
		if w.Src != nil {
			env.Src = *w.Src
		}
		if w.Context != nil {
			env.Context = *w.Context
		}
	default:
		return nil, violation("missing destination")
	}

	if env.Dst == "" {
		return nil, violation("empty destination")
	}
	for _, id := range []string{env.Dst, env.Src, env.Context} {
		if err := limits.ValidateIdentifier(id); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
	}

	data := bytes.TrimSpace(w.Data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		env.Data = emptyObject
	case data[0] != '{':
		return nil, violation("data must be an object")
	default:
		env.Data = w.Data
	}

	return env, nil
}

// Encode serializes the envelope in its own shape.
func Encode(env *Envelope) ([]byte, error) {
	data := env.Data
	if len(data) == 0 {
		data = emptyObject
	}

	switch env.Shape {
	case ShapeMinimal:
		return json.Marshal(minimalWire{Type: env.Type, Destination: env.Dst, Data: data})
	case ShapeFull:
		return json.Marshal(fullWire{Type: env.Type, Dst: env.Dst, Src: env.Src, Context: env.Context, Data: data})
	default:
		return nil, fmt.Errorf("unknown envelope shape %s", env.Shape)
	}
}

// NewFull builds a full envelope around payload.
func NewFull(dst, src, context string, payload Payload) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", payload.MessageType(), err)
	}
	return &Envelope{
		Shape:   ShapeFull,
		Type:    payload.MessageType(),
		Dst:     dst,
		Src:     src,
		Context: context,
		Data:    data,
	}, nil
}

// NewMinimal builds a minimal envelope around payload.
func NewMinimal(destination string, payload Payload) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", payload.MessageType(), err)
	}
	return &Envelope{
		Shape: ShapeMinimal,
		Type:  payload.MessageType(),
		Dst:   destination,
		Data:  data,
	}, nil
}

// WithPayload returns a copy of env whose data is payload. Type, shape and
// addressing are kept.
func (env *Envelope) WithPayload(payload Payload) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", payload.MessageType(), err)
	}
	out := *env
	out.Data = data
	return &out, nil
}

// Payload decodes the envelope's data according to its type.
func (env *Envelope) Payload() (Payload, error) {
	return DecodePayload(env.Type, env.Data)
}
