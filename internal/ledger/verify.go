package ledger

import (
	"fmt"
)

// VerifyResult describes a chain check. FirstInvalid is the 1-based line
// number of the first record that fails, or 0 when the chain is valid.
type VerifyResult struct {
	Path         string `json:"path"`
	Records      int    `json:"records"`
	Valid        bool   `json:"valid"`
	FirstInvalid int    `json:"first_invalid,omitempty"`
	Reason       string `json:"reason,omitempty"`
	TornTail     bool   `json:"torn_tail"`
	LastHash     string `json:"last_hash,omitempty"`
}

// Verify recomputes every record hash from genesis forward. It operates on
// the raw JSON of each line, so any field edit is detected.
func Verify(path string) (VerifyResult, error) {
	lines, torn, err := readLines(path)
	if err != nil {
		return VerifyResult{}, err
	}
	res := VerifyResult{Path: path, Records: len(lines), TornTail: torn, Valid: true}

	var prev *string
	for i, line := range lines {
		hash, reason := checkLine(line, prev)
		if reason != "" {
			res.Valid = false
			res.FirstInvalid = i + 1
			res.Reason = reason
			return res, nil
		}
		prev = &hash
	}
	if prev != nil {
		res.LastHash = *prev
	}
	return res, nil
}

// Verify checks this ledger's chain.
func (l *Ledger) Verify() (VerifyResult, error) {
	return Verify(l.path)
}

// checkLine returns the stored hash of a valid record, or a reason it is
// invalid.
func checkLine(line []byte, prev *string) (string, string) {
	obj, err := decodeObject(line)
	if err != nil {
		return "", "record is not valid JSON"
	}

	stored, ok := obj["record_hash"].(string)
	if !ok || stored == "" {
		return "", "record_hash is missing"
	}

	var linked *string
	switch v := obj["previous_hash"].(type) {
	case nil:
	case string:
		linked = &v
	default:
		return "", "previous_hash has the wrong type"
	}
	if !sameHash(linked, prev) {
		return "", fmt.Sprintf("previous_hash %s does not match preceding record %s", show(linked), show(prev))
	}

	delete(obj, "record_hash")
	recomputed, err := hashPayload(obj, linked)
	if err != nil {
		return "", "record cannot be canonicalized"
	}
	if recomputed != stored {
		return "", fmt.Sprintf("record_hash mismatch: stored %s, recomputed %s", stored, recomputed)
	}
	return stored, ""
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func show(h *string) string {
	if h == nil {
		return "null"
	}
	return *h
}
