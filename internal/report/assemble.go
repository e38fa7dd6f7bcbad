// Package report assembles immutable audit reports and renders them.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"time"

	"github.com/sells-group/dataset-audit/internal/model"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// Input carries the precomputed pieces of a report.
type Input struct {
	Snapshot   model.Snapshot
	Unassessed []model.UnassessedRisk
	Structural []model.StructuralRisk
	Decision   model.Decision
	Notes      string
}

// AuditID derives the report identity from the snapshot and decision only,
// so identical inputs always share an id.
func AuditID(snapshotID string, decision model.Decision) string {
	sum := sha256.Sum256([]byte(snapshotID + ":" + string(decision)))
	return hex.EncodeToString(sum[:])
}

// Assemble builds the report. It runs no detection and copies every input
// so later mutation by the caller cannot reach the report.
func Assemble(in Input) model.Report {
	unassessed := append([]model.UnassessedRisk{}, in.Unassessed...)

	structural := make([]model.StructuralRisk, len(in.Structural))
	high := 0
	for i, r := range in.Structural {
		r.AffectedColumns = slices.Clone(r.AffectedColumns)
		structural[i] = r
		if r.Severity == model.SeverityHigh {
			high++
		}
	}

	snap := in.Snapshot
	snap.Columns = append([]string{}, in.Snapshot.Columns...)
	snap.Dtypes = maps.Clone(in.Snapshot.Dtypes)
	if snap.Dtypes == nil {
		snap.Dtypes = map[string]string{}
	}

	var notes *string
	if in.Notes != "" {
		n := in.Notes
		notes = &n
	}

	return model.Report{
		AuditID:         AuditID(snap.SnapshotID, in.Decision),
		GeneratedAt:     now(),
		DatasetSnapshot: snap,
		UnassessedRisks: unassessed,
		StructuralRisks: structural,
		Decision:        in.Decision,
		Summary: model.Summary{
			Decision:             in.Decision,
			TotalUnassessedRisks: len(unassessed),
			TotalStructuralRisks: len(structural),
			HighSeverityRisks:    high,
		},
		Notes: notes,
	}
}
