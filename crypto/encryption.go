package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	sealKeySize  = chacha20poly1305.KeySize
	sealSaltSize = 16
)

// ErrWrongPassphrase indicates sealed data could not be opened with the given passphrase.
var ErrWrongPassphrase = errors.New("crypto: wrong passphrase or corrupted data")

// ScryptParams are the cost parameters used to derive a sealing key.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams follows the interactive-login recommendation for scrypt.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// sealParams is swapped for cheaper parameters in tests.
var sealParams = DefaultScryptParams

// SealedBox is passphrase-encrypted data with everything needed to open it.
type SealedBox struct {
	Params     ScryptParams
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// DeriveKey stretches a passphrase into an XChaCha20-Poly1305 key.
func DeriveKey(passphrase, salt []byte, params ScryptParams) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase is required")
	}
	if len(salt) != sealSaltSize {
		return nil, fmt.Errorf("invalid salt length: got %d want %d", len(salt), sealSaltSize)
	}
	key, err := scrypt.Key(passphrase, salt, params.N, params.R, params.P, sealKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under a passphrase with scrypt and XChaCha20-Poly1305.
func Seal(passphrase, plaintext []byte) (SealedBox, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return SealedBox{}, fmt.Errorf("generate salt: %w", err)
	}
	key, err := DeriveKey(passphrase, salt, sealParams)
	if err != nil {
		return SealedBox{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return SealedBox{}, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return SealedBox{}, fmt.Errorf("generate nonce: %w", err)
	}

	return SealedBox{
		Params:     sealParams,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, salt),
	}, nil
}

// Open decrypts a SealedBox. A wrong passphrase returns ErrWrongPassphrase.
func Open(passphrase []byte, box SealedBox) ([]byte, error) {
	if len(box.Ciphertext) == 0 {
		return nil, errors.New("ciphertext is required")
	}
	key, err := DeriveKey(passphrase, box.Salt, box.Params)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}
	if len(box.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: got %d want %d", len(box.Nonce), aead.NonceSize())
	}

	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, box.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	return plaintext, nil
}
