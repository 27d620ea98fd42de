package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope is the stored form of a sealed value. KeyID lets older rows be
// opened after the current key rotates.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Vault seals personal fields (the payout email) before they reach the store.
type Vault struct {
	currentKeyID string
	aeads        map[string]cipher.AEAD
}

func NewVault(currentKeyID string, keys map[string][]byte) (*Vault, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	aeads := make(map[string]cipher.AEAD, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("new cipher for %q: %w", id, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("new gcm for %q: %w", id, err)
		}
		aeads[id] = aead
	}
	return &Vault{currentKeyID: currentKeyID, aeads: aeads}, nil
}

func (v *Vault) Seal(plaintext string) (string, error) {
	aead := v.aeads[v.currentKeyID]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	env := Envelope{
		KeyID:      v.currentKeyID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, []byte(plaintext), []byte(v.currentKeyID))),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

func (v *Vault) Open(sealed string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	aead, ok := v.aeads[env.KeyID]
	if !ok {
		return "", fmt.Errorf("unknown key id %q", env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("nonce has %d bytes, want %d", len(nonce), aead.NonceSize())
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(env.KeyID))
	if err != nil {
		return "", fmt.Errorf("open envelope: %w", err)
	}
	return string(plaintext), nil
}

// Reseal re-encrypts a value under the current key.
func (v *Vault) Reseal(sealed string) (string, error) {
	plain, err := v.Open(sealed)
	if err != nil {
		return "", err
	}
	return v.Seal(plain)
}
