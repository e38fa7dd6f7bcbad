package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func hashOf(t *testing.T, content string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
