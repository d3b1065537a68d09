package memory

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the content-addressed identifier for a memory's
// content: SHA-256, hex-encoded. It is deterministic and stable across
// processes, and serves purely as an equality oracle for "same content
// already stored for this owner", not as a security boundary.
func Fingerprint(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
