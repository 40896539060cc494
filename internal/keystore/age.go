package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"megadata-go/internal/config"
)

// AgeKeystore keeps an ed25519 signing key on disk. The public key is stored
// in plaintext as a hex address; the private seed is encrypted with the
// operator's passphrase using age's scrypt-based passphrase encryption.
type AgeKeystore struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ Keystore = (*AgeKeystore)(nil)

// NewAgeKeystore creates a new AgeKeystore from configuration.
func NewAgeKeystore(cfg config.KeysConfig) *AgeKeystore {
	return &AgeKeystore{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new ed25519 key pair, stores the public address in
// plaintext and the seed encrypted under passphrase.
func (k *AgeKeystore) Setup(passphrase string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	address := "0x" + hex.EncodeToString(pub)
	if err := os.WriteFile(k.publicKeyPath, []byte(address+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(k.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, hex.EncodeToString(priv.Seed())+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	return nil
}

// Unlock decrypts the private seed and checks it against the stored address.
func (k *AgeKeystore) Unlock(passphrase string) (Signer, error) {
	privData, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted private key: %w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(keyData)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer, err := newSigner(seed)
	if err != nil {
		return nil, err
	}

	address, err := k.PublicAddress()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(address, signer.Address()) {
		return nil, fmt.Errorf("private key does not match public key %s", address)
	}
	return signer, nil
}

// PublicAddress reads the stored public address.
func (k *AgeKeystore) PublicAddress() (string, error) {
	data, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		return "", fmt.Errorf("reading public key: %w", err)
	}
	address := strings.TrimSpace(string(data))
	if address == "" {
		return "", fmt.Errorf("public key file %s is empty", k.publicKeyPath)
	}
	return address, nil
}

// IsConfigured returns true if both key files exist.
func (k *AgeKeystore) IsConfigured() bool {
	if _, err := os.Stat(k.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(k.privateKeyPath); err != nil {
		return false
	}
	return true
}
