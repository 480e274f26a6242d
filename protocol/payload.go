package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/opd-ai/botcomet/limits"
	"github.com/opd-ai/botcomet/vault"
)

// Type is the discriminating tag of a message.
type Type string

const (
	TypeCometConnect          Type = "comet_connect"
	TypeCometConnectResponse  Type = "comet_connect_response"
	TypeMessageCreate         Type = "message_create"
	TypeMessageSend           Type = "message_send"
	TypePluginConnect         Type = "plugin_connect"
	TypePluginVerify          Type = "plugin_verify"
	TypePluginVerifyResponse  Type = "plugin_verify_response"
	TypePluginConnectResponse Type = "plugin_connect_response"
	TypeError                 Type = "error"
)

// Payload is the data object of one message type. The set of payloads is
// closed: only types in this package implement it.
type Payload interface {
	MessageType() Type
	Validate() error
	sealed()
}

// IDRef points at one chat-platform identifier inside a payload.
type IDRef struct {
	Domain vault.Domain
	Value  *string
}

// Identified is implemented by payloads that carry chat-platform
// identifiers. Identifiers returns references to every non-empty one.
type Identified interface {
	Payload
	Identifiers() []IDRef
}

// DecodePayload decodes data as the payload for t.
func DecodePayload(t Type, data json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case TypeCometConnect:
		p = &CometConnect{}
	case TypeCometConnectResponse:
		p = &CometConnectResponse{}
	case TypeMessageCreate:
		p = &MessageCreate{}
	case TypeMessageSend:
		p = &MessageSend{}
	case TypePluginConnect:
		p = &PluginConnect{}
	case TypePluginVerify:
		p = &PluginVerify{}
	case TypePluginVerifyResponse:
		p = &PluginVerifyResponse{}
	case TypePluginConnectResponse:
		p = &PluginConnectResponse{}
	case TypeError:
		p = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, violation("malformed %s data: %v", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid %s data: %w", ErrProtocolViolation, t, err)
	}
	return p, nil
}

// CometConnect announces a comet to the station.
type CometConnect struct{}

func (*CometConnect) MessageType() Type { return TypeCometConnect }
func (*CometConnect) Validate() error   { return nil }
func (*CometConnect) sealed()           {}

// CometConnectResponse tells a comet the client id it was assigned.
type CometConnectResponse struct {
	ClientID string `json:"client_id"`
}

func (*CometConnectResponse) MessageType() Type { return TypeCometConnectResponse }
func (p *CometConnectResponse) Validate() error { return requireID("client_id", p.ClientID) }
func (*CometConnectResponse) sealed()           {}

// MessageCreate is a chat message event. Comets send real identifiers;
// plugins only ever see obfuscated ones.
type MessageCreate struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`
}

func (*MessageCreate) MessageType() Type { return TypeMessageCreate }
func (*MessageCreate) sealed()           {}

func (p *MessageCreate) Validate() error {
	if err := requireID("id", p.ID); err != nil {
		return err
	}
	if err := validateOptionalIDs(p.ChannelID, p.GuildID, p.AuthorID); err != nil {
		return err
	}
	return limits.ValidateContent(p.Content)
}

func (p *MessageCreate) Identifiers() []IDRef {
	return collectRefs(
		IDRef{vault.DomainMessage, &p.ID},
		IDRef{vault.DomainChannel, &p.ChannelID},
		IDRef{vault.DomainGuild, &p.GuildID},
		IDRef{vault.DomainUser, &p.AuthorID},
	)
}

// MessageSend asks a comet to post a message.
type MessageSend struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

func (*MessageSend) MessageType() Type { return TypeMessageSend }
func (*MessageSend) sealed()           {}

func (p *MessageSend) Validate() error {
	if err := requireID("channel_id", p.ChannelID); err != nil {
		return err
	}
	if err := validateOptionalIDs(p.ReplyTo); err != nil {
		return err
	}
	if p.Content == "" {
		return fmt.Errorf("empty content")
	}
	return limits.ValidateContent(p.Content)
}

func (p *MessageSend) Identifiers() []IDRef {
	return collectRefs(
		IDRef{vault.DomainChannel, &p.ChannelID},
		IDRef{vault.DomainMessage, &p.ReplyTo},
	)
}

// PluginConnect starts a plugin handshake.
type PluginConnect struct {
	Address string `json:"address"`
}

func (*PluginConnect) MessageType() Type { return TypePluginConnect }
func (p *PluginConnect) Validate() error { return requireID("address", p.Address) }
func (*PluginConnect) sealed()           {}

// PluginVerify carries a sealed challenge, base64 encoded.
type PluginVerify struct {
	Challenge string `json:"challenge"`
}

// NewPluginVerify encodes a sealed challenge.
func NewPluginVerify(sealed []byte) *PluginVerify {
	return &PluginVerify{Challenge: base64.StdEncoding.EncodeToString(sealed)}
}

func (*PluginVerify) MessageType() Type { return TypePluginVerify }
func (*PluginVerify) sealed()           {}

func (p *PluginVerify) Validate() error {
	_, err := p.Sealed()
	return err
}

// Sealed decodes the sealed challenge.
func (p *PluginVerify) Sealed() ([]byte, error) {
	return decodeChallenge(p.Challenge, limits.MaxSealedChallenge)
}

// PluginVerifyResponse carries the unlocked challenge, base64 encoded.
type PluginVerifyResponse struct {
	Challenge string `json:"challenge"`
}

// NewPluginVerifyResponse encodes an unlocked challenge.
func NewPluginVerifyResponse(plaintext []byte) *PluginVerifyResponse {
	return &PluginVerifyResponse{Challenge: base64.StdEncoding.EncodeToString(plaintext)}
}

func (*PluginVerifyResponse) MessageType() Type { return TypePluginVerifyResponse }
func (*PluginVerifyResponse) sealed()           {}

func (p *PluginVerifyResponse) Validate() error {
	_, err := p.Plaintext()
	return err
}

// Plaintext decodes the unlocked challenge.
func (p *PluginVerifyResponse) Plaintext() ([]byte, error) {
	return decodeChallenge(p.Challenge, limits.ChallengeSize)
}

// PluginConnectResponse completes a plugin handshake.
type PluginConnectResponse struct {
	ClientID string `json:"client_id"`
}

func (*PluginConnectResponse) MessageType() Type { return TypePluginConnectResponse }
func (p *PluginConnectResponse) Validate() error { return requireID("client_id", p.ClientID) }
func (*PluginConnectResponse) sealed()           {}

// Error reports a failure back to the sender of a message.
type Error struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
	Type   Type   `json:"type,omitempty"`
}

func (*Error) MessageType() Type { return TypeError }
func (*Error) sealed()           {}

func (p *Error) Validate() error {
	if p.Kind == "" {
		return fmt.Errorf("missing kind")
	}
	return nil
}

func requireID(field, value string) error {
	if value == "" {
		return fmt.Errorf("missing %s", field)
	}
	return limits.ValidateIdentifier(value)
}

func validateOptionalIDs(ids ...string) error {
	for _, id := range ids {
		if err := limits.ValidateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

func collectRefs(refs ...IDRef) []IDRef {
	out := refs[:0]
	for _, ref := range refs {
		if *ref.Value != "" {
			out = append(out, ref)
		}
	}
	return out
}

func decodeChallenge(encoded string, size int) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("missing challenge")
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > size+3 {
		return nil, fmt.Errorf("challenge too long")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("challenge is not base64: %w", err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("challenge is %d bytes, want %d", len(raw), size)
	}
	return raw, nil
}
