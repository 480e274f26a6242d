package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the number of digest bytes kept in an address.
const FingerprintSize = 20

// AddressLength is the length of the hexadecimal address string:
// fingerprint plus a two byte checksum.
const AddressLength = (FingerprintSize + 2) * 2

// addressDomainKey separates address digests from any other BLAKE3 use of
// the same key bytes. Changing it invalidates every published address.
var addressDomainKey = [32]byte{
	'b', 'o', 't', 'c', 'o', 'm', 'e', 't', '.', 'p', 'l', 'u', 'g', 'i', 'n', '.',
	'a', 'd', 'd', 'r', 'e', 's', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var (
	// ErrInvalidAddressLength is returned for address strings of the wrong size.
	ErrInvalidAddressLength = errors.New("invalid address length")
	// ErrInvalidAddressChecksum is returned when the trailing checksum does not match.
	ErrInvalidAddressChecksum = errors.New("invalid address checksum")
)

// Address is the public, deterministic identity a plugin claims before the
// station assigns it a client id.
type Address struct {
	Fingerprint [FingerprintSize]byte
	Checksum    [2]byte
}

// NewAddress derives the address of a public key.
func NewAddress(publicKey [32]byte) Address {
	var addr Address
	copy(addr.Fingerprint[:], fingerprint(publicKey))
	addr.calculateChecksum()
	return addr
}

// ParseAddress parses an address from its hexadecimal string representation.
func ParseAddress(s string) (Address, error) {
	if len(s) != AddressLength {
		return Address{}, ErrInvalidAddressLength
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}

	var addr Address
	copy(addr.Fingerprint[:], data[:FingerprintSize])
	copy(addr.Checksum[:], data[FingerprintSize:])

	expected := Address{Fingerprint: addr.Fingerprint}
	expected.calculateChecksum()
	if addr.Checksum != expected.Checksum {
		return Address{}, ErrInvalidAddressChecksum
	}

	return addr, nil
}

// String returns the hexadecimal string representation of the address.
func (a Address) String() string {
	data := make([]byte, 0, FingerprintSize+2)
	data = append(data, a.Fingerprint[:]...)
	data = append(data, a.Checksum[:]...)
	return hex.EncodeToString(data)
}

// Matches reports whether publicKey is the key this address was derived from.
func (a Address) Matches(publicKey [32]byte) bool {
	return subtle.ConstantTimeCompare(a.Fingerprint[:], fingerprint(publicKey)) == 1
}

func (a *Address) calculateChecksum() {
	var checksum [2]byte
	for i, b := range a.Fingerprint {
		checksum[i%2] ^= b
	}
	a.Checksum = checksum
}

func fingerprint(publicKey [32]byte) []byte {
	// NewKeyed only fails for keys that are not 32 bytes long.
	hasher, err := blake3.NewKeyed(addressDomainKey[:])
	if err != nil {
		panic("crypto: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(publicKey[:])
	return hasher.Sum(nil)[:FingerprintSize]
}
