package orchestrator

import (
	"encoding/hex"
	"math/big"
)

// DecodeDigest hex-decodes message, falling back to its raw bytes when it
// is not valid hex.
func DecodeDigest(message string) []byte {
	if digest, err := hex.DecodeString(message); err == nil {
		return digest
	}
	return []byte(message)
}

// DigestInt reads the digest of message as a big-endian unsigned integer.
// Leading zero bytes do not survive, so "00ff" signs the single byte 0xff.
func DigestInt(message string) *big.Int {
	return new(big.Int).SetBytes(DecodeDigest(message))
}

func OfflineRoom(sessionID string) string {
	return sessionID + "-offline"
}

func OnlineRoom(sessionID string) string {
	return sessionID + "-online"
}
