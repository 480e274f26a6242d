// Package directory resolves plugin addresses to their registered public
// keys.
//
// The station consults a Directory once per plugin handshake. [Static]
// keeps registrations in memory; [File] loads them from a YAML document and
// can watch it for changes.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/botcomet/crypto"
)

// ErrNotFound is returned when no key is registered for an address.
var ErrNotFound = errors.New("address not registered")

// Directory looks up the public key registered for a plugin address.
type Directory interface {
	LookupPublicKey(ctx context.Context, address string) ([32]byte, error)
}

// Static is an in-memory Directory. It is safe for concurrent use.
type Static struct {
	mu   sync.RWMutex
	keys map[string][32]byte
}

// NewStatic creates an empty directory.
func NewStatic() *Static {
	return &Static{keys: make(map[string][32]byte)}
}

// Register adds publicKey under its derived address and returns the address.
func (s *Static) Register(publicKey [32]byte) string {
	address := crypto.NewAddress(publicKey).String()
	s.RegisterAddress(address, publicKey)
	return address
}

// RegisterAddress stores publicKey under an explicit address. The station
// rejects entries whose key does not hash to the address, so this is only
// useful for tests and migrations.
func (s *Static) RegisterAddress(address string, publicKey [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[address] = publicKey
}

// Revoke removes the registration for address.
func (s *Static) Revoke(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, address)
}

// Len returns the number of registrations.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// LookupPublicKey implements Directory.
func (s *Static) LookupPublicKey(ctx context.Context, address string) ([32]byte, error) {
	if err := ctx.Err(); err != nil {
		return [32]byte{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[address]
	if !ok {
		return [32]byte{}, ErrNotFound
	}
	return key, nil
}

// replace swaps the whole key set.
func (s *Static) replace(keys map[string][32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}
