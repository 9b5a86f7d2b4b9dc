package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func useFastScrypt(t *testing.T) {
	t.Helper()

	previous := sealParams
	sealParams = ScryptParams{N: 1 << 10, R: 8, P: 1}
	t.Cleanup(func() { sealParams = previous })
}

func TestSealOpenRoundTrip(t *testing.T) {
	useFastScrypt(t)

	plaintext := []byte("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	box, err := Seal([]byte("correct horse"), plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(box.Nonce) != 24 {
		t.Fatalf("expected 24-byte XChaCha nonce, got %d", len(box.Nonce))
	}
	if bytes.Contains(box.Ciphertext, plaintext) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	opened, err := Open([]byte("correct horse"), box)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened plaintext does not match original")
	}

	if _, err := Open([]byte("battery staple"), box); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestSealRequiresPassphrase(t *testing.T) {
	useFastScrypt(t)

	if _, err := Seal(nil, []byte("secret")); err == nil {
		t.Fatalf("expected empty passphrase to be rejected")
	}
}
