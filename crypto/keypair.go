package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	walletPrivatePEMType   = "SECP256K1 PRIVATE KEY"
	walletEncryptedPEMType = "ENCRYPTED SECP256K1 PRIVATE KEY"
)

// ErrPassphraseRequired indicates an encrypted key file was loaded without a passphrase.
var ErrPassphraseRequired = errors.New("crypto: key file is encrypted, passphrase required")

// EnsureWalletKey loads the wallet key from disk, generating it on first run.
// A non-empty passphrase encrypts a newly generated key.
func EnsureWalletKey(path, passphrase string) (*ecdsa.PrivateKey, bool, error) {
	key, err := LoadWalletKey(path, passphrase)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key, err = ethcrypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	if err := SaveWalletKey(path, key, passphrase); err != nil {
		return nil, false, err
	}

	return key, true, nil
}

// LoadWalletKey loads a secp256k1 private key from a PEM file, decrypting it
// when the file is encrypted.
func LoadWalletKey(path, passphrase string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode wallet key PEM: no PEM block")
	}

	var keyBytes []byte
	switch block.Type {
	case walletPrivatePEMType:
		keyBytes = block.Bytes
	case walletEncryptedPEMType:
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		box, err := sealedBoxFromPEM(block)
		if err != nil {
			return nil, err
		}
		keyBytes, err = Open([]byte(passphrase), box)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("decode wallet key PEM: unexpected type %q", block.Type)
	}

	key, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("decode wallet key: %w", err)
	}
	return key, nil
}

// SaveWalletKey writes a wallet key PEM file with 0600 permissions. The key is
// encrypted when passphrase is non-empty.
func SaveWalletKey(path string, key *ecdsa.PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("save wallet key: key is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	block := &pem.Block{
		Type:  walletPrivatePEMType,
		Bytes: ethcrypto.FromECDSA(key),
	}
	if passphrase != "" {
		box, err := Seal([]byte(passphrase), block.Bytes)
		if err != nil {
			return fmt.Errorf("encrypt wallet key: %w", err)
		}
		block = &pem.Block{
			Type: walletEncryptedPEMType,
			Headers: map[string]string{
				"KDF":   "scrypt",
				"N":     strconv.Itoa(box.Params.N),
				"R":     strconv.Itoa(box.Params.R),
				"P":     strconv.Itoa(box.Params.P),
				"Salt":  hex.EncodeToString(box.Salt),
				"Nonce": hex.EncodeToString(box.Nonce),
			},
			Bytes: box.Ciphertext,
		}
	}

	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write wallet key: %w", err)
	}

	return nil
}

func sealedBoxFromPEM(block *pem.Block) (SealedBox, error) {
	if kdf := block.Headers["KDF"]; kdf != "scrypt" {
		return SealedBox{}, fmt.Errorf("decode wallet key PEM: unsupported KDF %q", kdf)
	}

	var params ScryptParams
	for name, dst := range map[string]*int{"N": &params.N, "R": &params.R, "P": &params.P} {
		v, err := strconv.Atoi(block.Headers[name])
		if err != nil || v <= 0 {
			return SealedBox{}, fmt.Errorf("decode wallet key PEM: invalid scrypt %s", name)
		}
		*dst = v
	}
	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil {
		return SealedBox{}, fmt.Errorf("decode wallet key PEM: invalid salt: %w", err)
	}
	nonce, err := hex.DecodeString(block.Headers["Nonce"])
	if err != nil {
		return SealedBox{}, fmt.Errorf("decode wallet key PEM: invalid nonce: %w", err)
	}

	return SealedBox{Params: params, Salt: salt, Nonce: nonce, Ciphertext: block.Bytes}, nil
}

// AddressFingerprint returns the truncated SHA-256 hex fingerprint of an account address.
func AddressFingerprint(address common.Address) string {
	sum := sha256.Sum256(address.Bytes())
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
