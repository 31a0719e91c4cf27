// File path: internal/kb/fingerprint.go
package kb

import (
	"crypto/sha256"
	"encoding/hex"
)

// BlockFingerprint derives a stable content address for a text block within a
// document. The mapping store records fingerprints of processed blocks so
// re-ingesting an unchanged corpus is a no-op.
func BlockFingerprint(docName, content string) string {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte(docName))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(content))
	return hex.EncodeToString(hasher.Sum(nil))
}
