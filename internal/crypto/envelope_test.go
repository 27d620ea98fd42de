package crypto

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

var (
	zeroKey = bytes.Repeat([]byte{0}, 32)
	oneKey  = bytes.Repeat([]byte{1}, 32)
)

func TestSealOpen(t *testing.T) {
	v, err := NewVault("k1", map[string][]byte{"k1": zeroKey})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	sealed, err := v.Seal("payouts@example.com")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(sealed, "payouts@example.com") {
		t.Fatalf("sealed value leaks plaintext: %s", sealed)
	}

	out, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "payouts@example.com" {
		t.Fatalf("expected original string, got %q", out)
	}
}

func TestOpenAfterRotation(t *testing.T) {
	old, err := NewVault("old", map[string][]byte{"old": zeroKey})
	if err != nil {
		t.Fatalf("old vault: %v", err)
	}
	legacy, err := old.Seal("legacy@example.com")
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewVault("new", map[string][]byte{"old": zeroKey, "new": oneKey})
	if err != nil {
		t.Fatalf("rotated vault: %v", err)
	}
	plain, err := rotated.Open(legacy)
	if err != nil {
		t.Fatalf("open with old key: %v", err)
	}
	if plain != "legacy@example.com" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	resealed, err := rotated.Reseal(legacy)
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(resealed), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.KeyID != "new" {
		t.Fatalf("expected reseal under current key, got %q", env.KeyID)
	}
}

func TestOpenRejectsSwappedKeyID(t *testing.T) {
	v, err := NewVault("a", map[string][]byte{"a": zeroKey, "b": zeroKey})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	sealed, err := v.Seal("x@example.com")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var env Envelope
	_ = json.Unmarshal([]byte(sealed), &env)
	env.KeyID = "b"
	tampered, _ := json.Marshal(env)
	if _, err := v.Open(string(tampered)); err == nil {
		t.Fatalf("expected key id tampering to fail authentication")
	}
}

func TestNewVaultValidatesKeys(t *testing.T) {
	if _, err := NewVault("", map[string][]byte{"a": zeroKey}); err == nil {
		t.Fatalf("expected error for empty current id")
	}
	if _, err := NewVault("a", map[string][]byte{"b": zeroKey}); err == nil {
		t.Fatalf("expected error for missing current key")
	}
	if _, err := NewVault("a", map[string][]byte{"a": []byte("short")}); err == nil {
		t.Fatalf("expected error for short key")
	}
}
