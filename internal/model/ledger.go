package model

// LedgerRecord is one line of the hash-chained audit ledger: the report
// payload plus ruleset provenance and the chain fields.
type LedgerRecord struct {
	Report
	RulesetVersion     string  `json:"ruleset_version"`
	RulesetFingerprint string  `json:"ruleset_fingerprint"`
	PreviousHash       *string `json:"previous_hash"`
	RecordHash         string  `json:"record_hash"`
}
