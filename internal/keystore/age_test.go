package keystore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"megadata-go/internal/config"
)

func newTestAgeKeystore(t *testing.T) *AgeKeystore {
	t.Helper()
	dir := t.TempDir()
	return NewAgeKeystore(config.KeysConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "ledger.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "ledger.key"),
	})
}

func TestAgeKeystore_IsConfigured_BeforeSetup(t *testing.T) {
	t.Parallel()
	k := newTestAgeKeystore(t)
	if k.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
}

func TestAgeKeystore_SetupUnlockSign(t *testing.T) {
	t.Parallel()
	k := newTestAgeKeystore(t)

	if err := k.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !k.IsConfigured() {
		t.Fatal("IsConfigured() = false after Setup, want true")
	}

	signer, err := k.Unlock("test-passphrase")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	address, err := k.PublicAddress()
	if err != nil {
		t.Fatalf("PublicAddress() error = %v", err)
	}
	if signer.Address() != address {
		t.Errorf("Address() = %q, want %q", signer.Address(), address)
	}

	msg := []byte(`{"id":"tx-1"}`)
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := Verify(address, msg, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if err := Verify(address, []byte("tampered"), sig); err == nil {
		t.Error("Verify() of tampered message succeeded")
	}
}

func TestAgeKeystore_PrivateKeyIsEncrypted(t *testing.T) {
	t.Parallel()
	k := newTestAgeKeystore(t)
	if err := k.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	data, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		t.Fatalf("reading private key: %v", err)
	}
	if !strings.HasPrefix(string(data), "age-encryption.org/v1") {
		t.Errorf("private key file is not age-encrypted: %q", data[:20])
	}
}

func TestAgeKeystore_Unlock_WrongPassphrase(t *testing.T) {
	t.Parallel()
	k := newTestAgeKeystore(t)
	if err := k.Setup("correct"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if _, err := k.Unlock("wrong"); err == nil {
		t.Error("Unlock() with wrong passphrase succeeded, want error")
	}
}

func TestAgeKeystore_Unlock_MismatchedPublicKey(t *testing.T) {
	t.Parallel()
	k := newTestAgeKeystore(t)
	if err := k.Setup("pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	other := NewTestSigner().Address()
	if err := os.WriteFile(k.publicKeyPath, []byte(other+"\n"), 0644); err != nil {
		t.Fatalf("overwriting public key: %v", err)
	}

	if _, err := k.Unlock("pass"); err == nil {
		t.Error("Unlock() with mismatched public key succeeded, want error")
	}
}
