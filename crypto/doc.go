// Package crypto implements the identity primitives used to authenticate
// plugins to the station.
//
// A plugin identity is a NaCl crypto_box key pair (Curve25519). The public
// half is published to the station's directory under an [Address], a
// stable fingerprint derived from the public key. The private half never
// leaves the plugin process.
//
// # Challenge / Response
//
// The station proves that a connecting plugin holds the private key for the
// address it claims without the key ever crossing the wire:
//
//	challenge, _ := crypto.NewChallenge()
//	sealed, _ := crypto.SealChallenge(challenge, publicKey)
//	// ... sealed is sent to the plugin, which calls cert.Unlock(sealed)
//	if !crypto.ChallengeEqual(challenge, answer) {
//	    // reject
//	}
//
// Sealed boxes (box.SealAnonymous) are used so the station needs no key pair
// of its own. Comparison is constant time via crypto/subtle.
//
// # Key Material
//
// Keys are stored as PEM blocks. [Certificate] bundles a key pair with its
// derived address:
//
//	cert, err := crypto.LoadCertificate(publicPEM, privatePEM)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cert.Wipe()
//
// Sensitive buffers should be cleared with [SecureWipe] once they are no
// longer needed.
package crypto
