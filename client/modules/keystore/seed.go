package keystore

import (
	"crypto/sha512"
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

const (
	mnemonicSalt = "mnemonic"
	seedSize     = 32
)

// NewMnemonic returns a fresh 24-word mnemonic for sealing key shares.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate bip39 entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate new mnemonic from entropy: %w", err)
	}

	return mnemonic, nil
}

// SeedFromMnemonic derives the sealing seed of a keystore.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	if _, err := bip39.EntropyFromMnemonic(mnemonic); err != nil {
		return nil, fmt.Errorf("failed to validate mnemonic: %w", err)
	}

	return pbkdf2.Key([]byte(mnemonic), []byte(mnemonicSalt), 2048, seedSize, sha512.New), nil
}
