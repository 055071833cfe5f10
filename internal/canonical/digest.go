package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText digests a UTF-8 string, used for response hashes.
func HashText(text string) string {
	return DigestHex([]byte(text))
}
