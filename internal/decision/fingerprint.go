package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

var (
	fingerprintOnce sync.Once
	fingerprint     string
)

// Fingerprint identifies the exact decision logic: a SHA-256 over the
// serialized, versioned rule table.
func Fingerprint() string {
	fingerprintOnce.Do(func() {
		fingerprint = fingerprintOf(RulesetVersion, rules)
	})
	return fingerprint
}

func fingerprintOf(version string, table []Rule) string {
	doc := struct {
		Version string `json:"version"`
		Rules   []Rule `json:"rules"`
	}{Version: version, Rules: table}

	// Rule holds only strings; marshalling cannot fail.
	data, _ := json.Marshal(doc)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
