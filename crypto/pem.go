package crypto

import (
	"encoding/pem"
	"errors"
	"fmt"
)

// PEM block types for plugin key material.
const (
	PublicKeyPEMType  = "BOTCOMET PUBLIC KEY"
	PrivateKeyPEMType = "BOTCOMET PRIVATE KEY"
)

// ErrInvalidPEM is returned when key material cannot be decoded.
var ErrInvalidPEM = errors.New("invalid PEM key")

// EncodePublicKeyPEM encodes a public key as a PEM block.
func EncodePublicKeyPEM(publicKey [32]byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PublicKeyPEMType, Bytes: publicKey[:]})
}

// EncodePrivateKeyPEM encodes a private key as a PEM block.
func EncodePrivateKeyPEM(privateKey [32]byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PrivateKeyPEMType, Bytes: privateKey[:]})
}

// DecodePublicKeyPEM decodes a public key from a PEM block.
func DecodePublicKeyPEM(data []byte) ([32]byte, error) {
	return decodeKeyPEM(data, PublicKeyPEMType)
}

// DecodePrivateKeyPEM decodes a private key from a PEM block.
func DecodePrivateKeyPEM(data []byte) ([32]byte, error) {
	return decodeKeyPEM(data, PrivateKeyPEMType)
}

func decodeKeyPEM(data []byte, blockType string) ([32]byte, error) {
	var key [32]byte

	block, _ := pem.Decode(data)
	if block == nil {
		return key, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}
	defer ZeroBytes(block.Bytes)

	if block.Type != blockType {
		return key, fmt.Errorf("%w: unexpected block type %q", ErrInvalidPEM, block.Type)
	}
	if len(block.Bytes) != len(key) {
		return key, fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidPEM, len(block.Bytes), len(key))
	}

	copy(key[:], block.Bytes)
	return key, nil
}
