// Package idgen issues opaque identifiers that never repeat within a
// process and reveal nothing about when, where or in which order they were
// issued.
//
// Each identifier is one AES block: eight fresh random bytes followed by a
// monotonically increasing counter, encrypted under a key that is generated
// when the Generator is created and never leaves it. Distinct counters give
// distinct plaintext blocks, and AES is a permutation, so outputs are
// unique; without the key the counter cannot be recovered.
package idgen

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// encoding is lowercase base32 without padding: 26 characters per id.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Generator issues unique opaque identifiers. It is safe for concurrent use.
type Generator struct {
	block   cipher.Block
	counter atomic.Uint64
}

// New creates a generator with a fresh random key. It panics if the system
// random source fails, since no identifier could be issued safely.
func New() *Generator {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		panic("idgen: failed to read random key: " + err.Error())
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic("idgen: failed to create cipher: " + err.Error())
	}
	return &Generator{block: block}
}

// Next returns an identifier that this generator has never returned before.
func (g *Generator) Next() string {
	var plain, sealed [aes.BlockSize]byte
	if _, err := rand.Read(plain[:8]); err != nil {
		// The counter alone still guarantees uniqueness.
		clear(plain[:8])
	}
	binary.BigEndian.PutUint64(plain[8:], g.counter.Add(1))
	g.block.Encrypt(sealed[:], plain[:])
	return encoding.EncodeToString(sealed[:])
}

var (
	defaultOnce      sync.Once
	defaultGenerator *Generator
)

// Default returns the process-wide generator.
func Default() *Generator {
	defaultOnce.Do(func() { defaultGenerator = New() })
	return defaultGenerator
}

// Next returns an identifier from the process-wide generator.
func Next() string {
	return Default().Next()
}
