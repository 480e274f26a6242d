package limits

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

// TestSealedOverheadMatchesNaCl verifies that SealedChallengeOverhead matches
// golang.org/x/crypto/nacl/box
func TestSealedOverheadMatchesNaCl(t *testing.T) {
	if SealedChallengeOverhead != box.AnonymousOverhead {
		t.Errorf("SealedChallengeOverhead = %d, want %d (box.AnonymousOverhead)", SealedChallengeOverhead, box.AnonymousOverhead)
	}
}

// TestActualSealedBoxSize seals a challenge-sized buffer and checks the result
func TestActualSealedBoxSize(t *testing.T) {
	publicKey, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	challenge := make([]byte, ChallengeSize)
	sealed, err := box.SealAnonymous(nil, challenge, publicKey, rand.Reader)
	if err != nil {
		t.Fatalf("SealAnonymous failed: %v", err)
	}
	if len(sealed) != MaxSealedChallenge {
		t.Errorf("sealed size = %d, want %d", len(sealed), MaxSealedChallenge)
	}
}

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, ErrMessageEmpty},
		{"one byte", 1, nil},
		{"at limit", MaxEnvelopeSize, nil},
		{"over limit", MaxEnvelopeSize + 1, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelope(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateEnvelope(%d bytes) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateContentAndIdentifier(t *testing.T) {
	if err := ValidateContent(""); err != nil {
		t.Errorf("empty content should be allowed, got %v", err)
	}
	if err := ValidateContent(strings.Repeat("a", MaxContentLength+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if err := ValidateIdentifier(strings.Repeat("x", MaxIdentifierLength)); err != nil {
		t.Errorf("identifier at limit rejected: %v", err)
	}
	if err := ValidateIdentifier(strings.Repeat("x", MaxIdentifierLength+1)); !errors.Is(err, ErrIdentifierTooLong) {
		t.Errorf("expected ErrIdentifierTooLong, got %v", err)
	}
}
