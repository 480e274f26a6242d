package crypto

import (
	"errors"
	"fmt"
)

// Certificate is a plugin's identity proof: its key pair and the address
// derived from the public key. Only the plugin process holds a Certificate
// with a private key; the station works from public keys alone.
type Certificate struct {
	keyPair *KeyPair
	address Address
}

// NewCertificate wraps an existing key pair.
func NewCertificate(keyPair *KeyPair) (*Certificate, error) {
	if keyPair == nil {
		return nil, errors.New("nil key pair")
	}
	return &Certificate{
		keyPair: keyPair,
		address: NewAddress(keyPair.Public),
	}, nil
}

// GenerateCertificate creates a certificate with a fresh key pair.
func GenerateCertificate() (*Certificate, error) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return NewCertificate(keyPair)
}

// LoadCertificate builds a certificate from PEM encoded keys. The public key
// must belong to the private key.
func LoadCertificate(publicPEM, privatePEM []byte) (*Certificate, error) {
	publicKey, err := DecodePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, err
	}
	privateKey, err := DecodePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}

	keyPair, err := FromSecretKey(privateKey)
	ZeroBytes(privateKey[:])
	if err != nil {
		return nil, err
	}
	if keyPair.Public != publicKey {
		WipeKeyPair(keyPair)
		return nil, errors.New("public key does not match private key")
	}

	return NewCertificate(keyPair)
}

// Address returns the plugin address of this certificate.
func (c *Certificate) Address() Address {
	return c.address
}

// PublicKey returns the public half of the key pair.
func (c *Certificate) PublicKey() [32]byte {
	return c.keyPair.Public
}

// Unlock decrypts a challenge the station sealed for this certificate.
func (c *Certificate) Unlock(ciphertext []byte) ([]byte, error) {
	plaintext, err := OpenChallenge(ciphertext, c.keyPair)
	if err != nil {
		NewLogger("Unlock").
			WithField("address", c.address.String()).
			WithError(err, "unlock_error", "open_challenge").
			Warn("Failed to unlock challenge")
		return nil, err
	}
	return plaintext, nil
}

// PEM returns the PEM encodings of the public and private keys.
func (c *Certificate) PEM() (publicPEM, privatePEM []byte) {
	return EncodePublicKeyPEM(c.keyPair.Public), EncodePrivateKeyPEM(c.keyPair.Private)
}

// Wipe erases the private key. The certificate cannot unlock afterwards.
func (c *Certificate) Wipe() error {
	return WipeKeyPair(c.keyPair)
}
