// Package vault keeps the bidirectional mapping between real chat-platform
// identifiers and the obfuscated identifiers exposed to plugins.
//
// Mappings are partitioned by Domain. An obfuscated user id can never be
// revealed as a channel id: each domain is an independent namespace with
// its own lock, so traffic touching different domains never contends.
package vault

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"
)

// Domain is an identifier namespace.
type Domain string

const (
	DomainGuild   Domain = "guild"
	DomainChannel Domain = "channel"
	DomainUser    Domain = "user"
	DomainMessage Domain = "message"
)

// Domains lists every domain a Vault manages.
var Domains = []Domain{DomainGuild, DomainChannel, DomainUser, DomainMessage}

var (
	// ErrNotFound is returned when an obfuscated id was never issued in the
	// requested domain, or has been evicted.
	ErrNotFound = errors.New("identifier not found")
	// ErrUnknownDomain is returned for domains outside Domains.
	ErrUnknownDomain = errors.New("unknown identifier domain")
	// ErrEmptyIdentifier is returned when an empty real id is obfuscated.
	ErrEmptyIdentifier = errors.New("empty identifier")
)

// IDSource issues fresh obfuscated identifiers.
type IDSource interface {
	Next() string
}

// Vault maps real identifiers to obfuscated ones and back. It is safe for
// concurrent use.
type Vault struct {
	domains map[Domain]*table
}

type table struct {
	domain  Domain
	mu      sync.Mutex
	forward *simplelru.LRU[string, string] // real -> obfuscated
	reverse map[string]string              // obfuscated -> real
	ids     IDSource
}

// New creates a vault. capacity bounds the number of live pairs per domain;
// when it is reached the least recently used pair is dropped in both
// directions. A capacity of zero or less means unbounded.
func New(ids IDSource, capacity int) *Vault {
	if capacity <= 0 {
		capacity = math.MaxInt
	}

	v := &Vault{domains: make(map[Domain]*table, len(Domains))}
	for _, d := range Domains {
		t := &table{
			domain:  d,
			reverse: make(map[string]string),
			ids:     ids,
		}
		forward, err := simplelru.NewLRU[string, string](capacity, t.onEvict)
		if err != nil {
			// Only a non-positive size fails, which is excluded above.
			panic("vault: " + err.Error())
		}
		t.forward = forward
		v.domains[d] = t
	}
	return v
}

// Obfuscate returns the obfuscated id for realID in domain, creating the
// mapping on first use. Repeated calls return the same value.
func (v *Vault) Obfuscate(domain Domain, realID string) (string, error) {
	t, ok := v.domains[domain]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	if realID == "" {
		return "", ErrEmptyIdentifier
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if obfuscated, ok := t.forward.Get(realID); ok {
		return obfuscated, nil
	}

	obfuscated := t.ids.Next()
	if _, taken := t.reverse[obfuscated]; taken {
		panic(fmt.Sprintf("vault: id source issued duplicate identifier in domain %s", domain))
	}
	t.forward.Add(realID, obfuscated)
	t.reverse[obfuscated] = realID

	logrus.WithFields(logrus.Fields{
		"function": "Obfuscate",
		"domain":   domain,
		"size":     len(t.reverse),
	}).Debug("Registered identifier mapping")

	return obfuscated, nil
}

// Reveal returns the real id behind obfuscatedID in domain.
func (v *Vault) Reveal(domain Domain, obfuscatedID string) (string, error) {
	t, ok := v.domains[domain]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	realID, ok := t.reverse[obfuscatedID]
	if !ok {
		return "", ErrNotFound
	}
	// Get also refreshes the pair's recency.
	if forward, ok := t.forward.Get(realID); !ok || forward != obfuscatedID {
		panic(fmt.Sprintf("vault: bijection broken in domain %s", domain))
	}
	return realID, nil
}

// Len returns the number of live pairs in domain.
func (v *Vault) Len(domain Domain) int {
	t, ok := v.domains[domain]
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reverse)
}

// onEvict runs under t.mu from inside forward.Add.
func (t *table) onEvict(realID, obfuscated string) {
	delete(t.reverse, obfuscated)
	logrus.WithFields(logrus.Fields{
		"function": "onEvict",
		"domain":   t.domain,
	}).Debug("Evicted least recently used identifier mapping")
}
