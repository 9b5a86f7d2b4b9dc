package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestEnsureWalletKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "wallet.pem")

	first, created, err := EnsureWalletKey(path, "")
	if err != nil {
		t.Fatalf("first EnsureWalletKey failed: %v", err)
	}
	if !created {
		t.Fatalf("expected key to be created on first run")
	}

	second, created, err := EnsureWalletKey(path, "")
	if err != nil {
		t.Fatalf("second EnsureWalletKey failed: %v", err)
	}
	if created {
		t.Fatalf("expected existing key to be reused")
	}
	if ethcrypto.PubkeyToAddress(first.PublicKey) != ethcrypto.PubkeyToAddress(second.PublicKey) {
		t.Fatalf("expected stable wallet key across runs")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 key file, got %v", info.Mode().Perm())
	}
}

func TestEncryptedWalletKey(t *testing.T) {
	useFastScrypt(t)
	path := filepath.Join(t.TempDir(), "wallet.pem")

	key, _, err := EnsureWalletKey(path, "hunter2")
	if err != nil {
		t.Fatalf("EnsureWalletKey failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if !strings.Contains(string(raw), walletEncryptedPEMType) {
		t.Fatalf("expected encrypted PEM block")
	}

	if _, err := LoadWalletKey(path, ""); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, err := LoadWalletKey(path, "wrong"); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}

	loaded, err := LoadWalletKey(path, "hunter2")
	if err != nil {
		t.Fatalf("LoadWalletKey failed: %v", err)
	}
	if loaded.D.Cmp(key.D) != 0 {
		t.Fatalf("loaded key does not match generated key")
	}
}

func TestFormatFingerprint(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fingerprint := AddressFingerprint(ethcrypto.PubkeyToAddress(key.PublicKey))
	if len(fingerprint) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(fingerprint))
	}

	formatted := FormatFingerprint("a1b2c3d4e5f6")
	if formatted != "A1B2 C3D4 E5F6" {
		t.Fatalf("unexpected formatted fingerprint %q", formatted)
	}
}
