package keystore

import (
	"testing"

	"megadata-go/internal/config"
)

func TestTestKeystore_Deterministic(t *testing.T) {
	k := NewTestKeystore()
	if err := k.Setup("anything"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	a, err := k.Unlock("x")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	b := NewTestSigner()

	sigA, _ := a.Sign([]byte("msg"))
	sigB, _ := b.Sign([]byte("msg"))
	if string(sigA) != string(sigB) {
		t.Error("TestKeystore signatures differ, want deterministic")
	}

	address, err := k.PublicAddress()
	if err != nil {
		t.Fatalf("PublicAddress() error = %v", err)
	}
	if err := Verify(address, []byte("msg"), sigA); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify_BadAddress(t *testing.T) {
	if err := Verify("0xzz", []byte("m"), []byte("s")); err == nil {
		t.Error("Verify() with non-hex address succeeded")
	}
	if err := Verify("0xabcd", []byte("m"), []byte("s")); err == nil {
		t.Error("Verify() with short address succeeded")
	}
}

func TestNewKeystoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{name: "default is age", typ: ""},
		{name: "age", typ: "age"},
		{name: "test", typ: "test"},
		{name: "unknown", typ: "hsm", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewKeystoreFromConfig(config.KeysConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewKeystoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewKeystoreFromConfig() returned nil")
			}
		})
	}
}
