package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/botcomet/limits"
)

// ChallengeSize is the number of random bytes in a handshake challenge.
const ChallengeSize = limits.ChallengeSize

// ErrUnlockFailed is returned when a sealed challenge cannot be opened with
// the given key pair.
var ErrUnlockFailed = errors.New("unlock failed")

// NewChallenge returns a fresh, single-use random challenge.
func NewChallenge() ([]byte, error) {
	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// SealChallenge encrypts challenge so that only the holder of the private
// half of recipientPK can read it.
func SealChallenge(challenge []byte, recipientPK [32]byte) ([]byte, error) {
	if len(challenge) == 0 {
		return nil, errors.New("empty challenge")
	}

	logger := NewLogger("SealChallenge").WithFields(SecureFieldHash(recipientPK[:], "recipient_pk"))

	sealed, err := box.SealAnonymous(nil, challenge, &recipientPK, rand.Reader)
	if err != nil {
		logger.WithError(err, "seal_error", "box_seal_anonymous").Error("Failed to seal challenge")
		return nil, err
	}

	logger.WithField("sealed_size", len(sealed)).Debug("Challenge sealed")
	return sealed, nil
}

// OpenChallenge decrypts a challenge sealed for keyPair.
func OpenChallenge(sealed []byte, keyPair *KeyPair) ([]byte, error) {
	if keyPair == nil {
		return nil, errors.New("nil key pair")
	}
	if len(sealed) <= box.AnonymousOverhead {
		return nil, ErrUnlockFailed
	}

	opened, ok := box.OpenAnonymous(nil, sealed, &keyPair.Public, &keyPair.Private)
	if !ok {
		return nil, ErrUnlockFailed
	}
	return opened, nil
}

// ChallengeEqual compares two challenges in constant time.
func ChallengeEqual(expected, actual []byte) bool {
	return subtle.ConstantTimeCompare(expected, actual) == 1
}
