package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"math"

	"golang.org/x/crypto/scrypt"
	"lukechampine.com/frand"
)

const saltSize = 32

var N = int(math.Pow(2, 16))

// seal encrypts data with a key derived from secret and a fresh salt. The
// salt and the nonce are prepended to the ciphertext.
func seal(secret, data []byte) ([]byte, error) {
	salt := frand.Bytes(saltSize)

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	nonce := frand.Bytes(gcm.NonceSize())
	out := append(salt, nonce...)

	return gcm.Seal(out, nonce, data, nil), nil
}

func open(secret, sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize {
		return nil, fmt.Errorf("invalid data length")
	}
	salt, rest := sealed[:saltSize], sealed[saltSize:]

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("invalid data length")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	data, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func newGCM(secret, salt []byte) (cipher.AEAD, error) {
	derivedKey, err := scrypt.Key(secret, salt, N, 8, 1, 32)
	if err != nil {
		return nil, err
	}

	c, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(c)
}
