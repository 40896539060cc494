package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer signs ledger transactions with an unlocked key. Address is the
// hex-encoded public key that verifies its signatures.
type Signer interface {
	Address() string
	Sign(msg []byte) ([]byte, error)
}

// Keystore manages the ledger signing key pair.
// Signing needs the passphrase to unlock the private key; the public
// address can be read without it.
type Keystore interface {
	// Setup performs one-time key generation. Called during `megadata keys init`.
	Setup(passphrase string) error

	// Unlock decrypts the private key and returns a Signer for the session.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (Signer, error)

	// PublicAddress returns the address of the configured key pair.
	PublicAddress() (string, error)

	// IsConfigured returns true if the key material exists.
	IsConfigured() bool
}

// Verify reports whether sig is a valid signature of msg by address.
func Verify(address string, msg, sig []byte) error {
	pub, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return fmt.Errorf("decoding signer address: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("signer address has %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return fmt.Errorf("signature does not match signer %s", address)
	}
	return nil
}

// ed25519Signer is the Signer returned by every Keystore.
type ed25519Signer struct {
	key ed25519.PrivateKey
}

func newSigner(seed []byte) (*ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return &ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *ed25519Signer) Address() string {
	return "0x" + hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

func (s *ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.key, msg), nil
}
