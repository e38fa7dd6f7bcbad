package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/decision"
	"github.com/sells-group/dataset-audit/internal/model"
)

func fixtureInput() Input {
	return Input{
		Snapshot: model.Snapshot{
			SnapshotID:    "abc123",
			FilePath:      "data.csv",
			FileType:      "csv",
			FileSizeBytes: 42,
			RowCount:      3,
			ColumnCount:   2,
			Columns:       []string{"a", "b"},
			Dtypes:        map[string]string{"a": "int64", "b": "object"},
		},
		Unassessed: []model.UnassessedRisk{{Category: "temporal_context", Description: "No time column provided.", AffectedComponent: "time_column"}},
		Structural: []model.StructuralRisk{
			{RiskID: model.RiskIDLikeColumn, AffectedColumns: []string{"b"}, Severity: model.SeverityHigh, Confidence: model.ConfidenceHigh, Evidence: "Column name ends with 'id' and has 100.00% unique values."},
			{RiskID: model.RiskDuplicateRows, Severity: model.SeverityMedium, Confidence: model.ConfidenceHigh, Evidence: "1 duplicate rows (33.33% of dataset)."},
		},
		Decision: model.DecisionFix,
	}
}

func TestAuditID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AuditID("s", model.DecisionFix), AuditID("s", model.DecisionFix))
	assert.NotEqual(t, AuditID("s", model.DecisionFix), AuditID("s", model.DecisionAbort))
	assert.Len(t, AuditID("abc", model.DecisionProceed), 64)
}

func TestAssemble_Summary(t *testing.T) {
	in := fixtureInput()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := now
	now = func() time.Time { return fixed }
	defer func() { now = orig }()

	r := Assemble(in)
	assert.Equal(t, AuditID("abc123", model.DecisionFix), r.AuditID)
	assert.Equal(t, fixed, r.GeneratedAt)
	assert.Equal(t, model.Summary{
		Decision:             model.DecisionFix,
		TotalUnassessedRisks: 1,
		TotalStructuralRisks: 2,
		HighSeverityRisks:    1,
	}, r.Summary)
	assert.Nil(t, r.Notes)
}

func TestAssemble_CopiesInputs(t *testing.T) {
	t.Parallel()

	in := fixtureInput()
	r := Assemble(in)

	in.Structural[0].AffectedColumns[0] = "mutated"
	in.Snapshot.Columns[0] = "mutated"
	in.Snapshot.Dtypes["a"] = "mutated"
	in.Unassessed[0].Category = "mutated"

	assert.Equal(t, []string{"b"}, r.StructuralRisks[0].AffectedColumns)
	assert.Equal(t, "a", r.DatasetSnapshot.Columns[0])
	assert.Equal(t, "int64", r.DatasetSnapshot.Dtypes["a"])
	assert.Equal(t, "temporal_context", r.UnassessedRisks[0].Category)
}

func TestAssemble_EmptyListsSerializeAsArrays(t *testing.T) {
	t.Parallel()

	r := Assemble(Input{Snapshot: model.Snapshot{SnapshotID: "x"}, Decision: model.DecisionProceed, Notes: "reviewed"})
	data, err := Marshal(r)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []any{}, doc["unassessed_risks"])
	assert.Equal(t, []any{}, doc["structural_risks"])
	assert.Equal(t, "reviewed", doc["notes"])
	assert.Equal(t, "proceed", doc["decision"])

	snap := doc["dataset_snapshot"].(map[string]any)
	assert.Equal(t, []any{}, snap["columns"])
	assert.Equal(t, map[string]any{}, snap["dtypes"])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Assemble(fixtureInput())))
	assert.Contains(t, buf.String(), `"risk_id": "ID_LIKE_COLUMN"`)
	assert.Contains(t, buf.String(), `"affected_columns": null`)
	assert.Contains(t, buf.String(), `"notes": null`)
}

func TestRenderPDF(t *testing.T) {
	t.Parallel()

	in := fixtureInput()
	r := Assemble(in)
	tr := decision.BuildTrace(in.Unassessed, in.Structural)

	data, err := RenderPDF(r, &tr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	plain, err := RenderPDF(r, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
}

func TestWritePDF(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, WritePDF(path, Assemble(fixtureInput()), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	assert.Error(t, WritePDF(filepath.Join(t.TempDir(), "missing", "report.pdf"), Assemble(fixtureInput()), nil))
}
