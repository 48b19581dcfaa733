package tokenize

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdfRounds = 100_000
	keyLen      = chacha20poly1305.KeySize
)

// HSM simulates a hardware security module with a single in-memory data
// key. It is a development stand-in: keys are derived from a passphrase and
// never leave process memory.
type HSM struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewHSM derives the data key from passphrase and salt.
func NewHSM(passphrase, salt string) (*HSM, error) {
	if passphrase == "" {
		return nil, errors.New("hsm: empty passphrase")
	}
	if salt == "" {
		return nil, errors.New("hsm: empty salt")
	}
	material := pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdfRounds, 2*keyLen, sha256.New)
	aead, err := chacha20poly1305.New(material[:keyLen])
	if err != nil {
		return nil, fmt.Errorf("hsm: %w", err)
	}
	return &HSM{aead: aead, macKey: material[keyLen:]}, nil
}

// Encrypt seals plaintext bound to label. The nonce is derived from label
// and plaintext, so equal inputs give equal ciphertexts.
func (h *HSM) Encrypt(label string, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, h.macKey)
	mac.Write([]byte(label))
	mac.Write([]byte{0})
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:h.aead.NonceSize()]
	out := make([]byte, 0, len(nonce)+len(plaintext)+h.aead.Overhead())
	out = append(out, nonce...)
	return h.aead.Seal(out, nonce, plaintext, []byte(label))
}

// Decrypt opens data produced by Encrypt with the same label.
func (h *HSM) Decrypt(label string, data []byte) ([]byte, error) {
	ns := h.aead.NonceSize()
	if len(data) < ns+h.aead.Overhead() {
		return nil, errors.New("hsm: ciphertext too short")
	}
	plain, err := h.aead.Open(nil, data[:ns], data[ns:], []byte(label))
	if err != nil {
		return nil, fmt.Errorf("hsm: %w", err)
	}
	return plain, nil
}
