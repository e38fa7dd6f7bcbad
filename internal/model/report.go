package model

import "time"

// Decision is the recommendation surfaced to a human reviewer. It is never
// executed automatically.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionFix     Decision = "fix"
	DecisionAbort   Decision = "abort"
)

// Snapshot is an immutable, content-addressed description of a dataset at
// ingestion time. SnapshotID depends only on the raw file bytes.
type Snapshot struct {
	SnapshotID    string            `json:"snapshot_id"`
	FilePath      string            `json:"file_path"`
	FileType      string            `json:"file_type"`
	FileSizeBytes int64             `json:"file_size_bytes"`
	RowCount      int               `json:"row_count"`
	ColumnCount   int               `json:"column_count"`
	Columns       []string          `json:"columns"`
	Dtypes        map[string]string `json:"dtypes"`
}

// IngestionWarning is a non-fatal loader observation. Warnings are shown to
// humans but are not part of the authoritative report.
type IngestionWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Summary holds the report counters.
type Summary struct {
	Decision             Decision `json:"decision"`
	TotalUnassessedRisks int      `json:"total_unassessed_risks"`
	TotalStructuralRisks int      `json:"total_structural_risks"`
	HighSeverityRisks    int      `json:"high_severity_risks"`
}

// Report is the authoritative audit output. It is built once by the report
// assembler and never edited; a correction is a new report.
type Report struct {
	AuditID         string           `json:"audit_id"`
	GeneratedAt     time.Time        `json:"generated_at"`
	DatasetSnapshot Snapshot         `json:"dataset_snapshot"`
	UnassessedRisks []UnassessedRisk `json:"unassessed_risks"`
	StructuralRisks []StructuralRisk `json:"structural_risks"`
	Decision        Decision         `json:"decision"`
	Summary         Summary          `json:"summary"`
	Notes           *string          `json:"notes"`
}

// StoredReport is a report as persisted in the audit history store.
type StoredReport struct {
	Report     Report    `json:"report"`
	RecordHash string    `json:"record_hash,omitempty"`
	StoredAt   time.Time `json:"stored_at"`
}
