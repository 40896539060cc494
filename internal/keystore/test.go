package keystore

import "bytes"

// testSeed makes TestKeystore signatures deterministic.
var testSeed = bytes.Repeat([]byte{0x42}, 32)

// TestKeystore is an in-memory keystore with a fixed key. Any passphrase unlocks it.
type TestKeystore struct {
	setupCalled bool
}

var _ Keystore = (*TestKeystore)(nil)

func NewTestKeystore() *TestKeystore {
	return &TestKeystore{}
}

func (k *TestKeystore) Setup(passphrase string) error {
	k.setupCalled = true
	return nil
}

func (k *TestKeystore) Unlock(passphrase string) (Signer, error) {
	return newSigner(testSeed)
}

func (k *TestKeystore) PublicAddress() (string, error) {
	s, err := newSigner(testSeed)
	if err != nil {
		return "", err
	}
	return s.Address(), nil
}

func (k *TestKeystore) IsConfigured() bool {
	return true
}

// NewTestSigner returns the fixed TestKeystore signer.
func NewTestSigner() Signer {
	s, _ := newSigner(testSeed)
	return s
}
