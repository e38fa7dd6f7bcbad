package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/decision"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/report"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "audit_history.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	return l
}

func testReport(i int) model.Report {
	return report.Assemble(report.Input{
		Snapshot: model.Snapshot{
			SnapshotID: fmt.Sprintf("snap-%d", i),
			FilePath:   "data.csv",
			FileType:   "csv",
			Columns:    []string{"a"},
			Dtypes:     map[string]string{"a": "int64"},
		},
		Structural: []model.StructuralRisk{{
			RiskID:     model.RiskSparseRows,
			Severity:   model.SeverityMedium,
			Confidence: model.ConfidenceHigh,
			Evidence:   "12.50% of rows have ≥50% missing values.",
		}},
		Decision: model.DecisionProceed,
	})
}

func appendN(t *testing.T, l *Ledger, n int) []string {
	t.Helper()
	hashes := make([]string, n)
	for i := range hashes {
		h, err := l.Append(context.Background(), testReport(i))
		require.NoError(t, err)
		hashes[i] = h
	}
	return hashes
}

func rewriteLine(t *testing.T, path string, idx int, edit func(map[string]any)) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSuffix(data, []byte{'\n'}), []byte{'\n'})

	obj, err := decodeObject(lines[idx])
	require.NoError(t, err)
	edit(obj)
	lines[idx], err = json.Marshal(obj)
	require.NoError(t, err)

	out := append(bytes.Join(lines, []byte{'\n'}), '\n')
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestAppend_BuildsChain(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	hashes := appendN(t, l, 3)

	recs, err := l.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Nil(t, recs[0].PreviousHash)
	for i, r := range recs {
		assert.Equal(t, hashes[i], r.RecordHash)
		assert.Equal(t, decision.RulesetVersion, r.RulesetVersion)
		assert.Equal(t, decision.Fingerprint(), r.RulesetFingerprint)
		if i > 0 {
			require.NotNil(t, r.PreviousHash)
			assert.Equal(t, hashes[i-1], *r.PreviousHash)
		}
	}
	assert.Equal(t, "snap-1", recs[1].DatasetSnapshot.SnapshotID)

	res, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, hashes[2], res.LastHash)
}

func TestAppend_FirstRecordHasNullPreviousHash(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	appendN(t, l, 1)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"previous_hash":null`)
	assert.True(t, bytes.HasSuffix(data, []byte("\n")))
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
}

func TestVerify_DetectsPayloadEdit(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	appendN(t, l, 3)

	rewriteLine(t, l.Path(), 1, func(obj map[string]any) {
		obj["decision"] = "abort"
	})

	res, err := l.Verify()
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 2, res.FirstInvalid)
	assert.Contains(t, res.Reason, "record_hash mismatch")
}

func TestVerify_RecomputedHashBreaksNextLink(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	appendN(t, l, 3)

	rewriteLine(t, l.Path(), 1, func(obj map[string]any) {
		obj["decision"] = "abort"
		delete(obj, "record_hash")
		var prev *string
		if p, ok := obj["previous_hash"].(string); ok {
			prev = &p
		}
		h, err := hashPayload(obj, prev)
		require.NoError(t, err)
		obj["record_hash"] = h
	})

	res, err := l.Verify()
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, res.FirstInvalid)
	assert.Contains(t, res.Reason, "previous_hash")
}

func TestVerify_DetectsDeletedRecord(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	appendN(t, l, 3)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := bytes.SplitAfter(data, []byte{'\n'})
	kept := append(append([]byte{}, lines[0]...), lines[2]...)
	require.NoError(t, os.WriteFile(l.Path(), kept, 0o644))

	res, err := l.Verify()
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 2, res.FirstInvalid)
}

func TestAppend_RepairsTornTail(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	hashes := appendN(t, l, 1)

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"audit_id":"half-writ`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := l.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	res, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.TornTail)

	_, err = l.Append(context.Background(), testReport(9))
	require.NoError(t, err)

	recs, err = l.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, hashes[0], *recs[1].PreviousHash)

	res, err = l.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.TornTail)
}

func TestAppend_ConcurrentWritersKeepTotalOrder(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(context.Background(), testReport(i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 25, res.Records)
}

func TestAppend_SeparateHandlesShareChain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit_history.jsonl")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	h1, err := a.Append(context.Background(), testReport(1))
	require.NoError(t, err)
	_, err = b.Append(context.Background(), testReport(2))
	require.NoError(t, err)

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, h1, *recs[1].PreviousHash)
}

func TestAppend_Errors(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Append(ctx, testReport(1))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(l.Path(), []byte("not json\n"), 0o644))
	_, err = l.Append(context.Background(), testReport(1))
	assert.Error(t, err)

	require.NoError(t, l.Close())
	_, err = l.Append(context.Background(), testReport(1))
	assert.Error(t, err)

	_, err = Open("")
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	appendN(t, l, 3)
	target := testReport(1).AuditID

	got, err := l.Find(target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "snap-1", got[0].DatasetSnapshot.SnapshotID)

	none, err := l.Find("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVerify_MissingFileIsEmptyAndValid(t *testing.T) {
	t.Parallel()

	res, err := Verify(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Zero(t, res.Records)
}

func TestLastLine_SpansChunks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "big.jsonl")
	long := bytes.Repeat([]byte("x"), tailChunk+100)
	content := append([]byte("first\n"), long...)
	content = append(content, '\n')
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	line, end, err := lastLine(f, int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, long, line)
	assert.Equal(t, int64(len(content)), end)
}
