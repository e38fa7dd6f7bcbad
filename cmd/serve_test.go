package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/explain"
	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/pipeline"
	"github.com/sells-group/dataset-audit/internal/store"
)

func newTestServer(t *testing.T, withStore bool) (*server, http.Handler) {
	t.Helper()
	dir := t.TempDir()

	l, err := ledger.Open(filepath.Join(dir, "audit_history.jsonl"))
	require.NoError(t, err)

	env := &auditEnv{Ledger: l}
	if withStore {
		st, err := store.NewSQLite(filepath.Join(dir, "audit.db"))
		require.NoError(t, err)
		require.NoError(t, st.Migrate(context.Background()))
		env.Store = st
	}
	t.Cleanup(env.Close)

	env.Auditor = pipeline.New(pipeline.Options{}, env.Ledger, env.Store, nil)
	srv := newServer(env, serverOptions{})
	return srv, srv.routes()
}

func sampleCSV() string {
	var b strings.Builder
	b.WriteString("x,y\n")
	for i := range 30 {
		fmt.Fprintf(&b, "%d,%d\n", i, i%3)
	}
	return b.String()
}

func multipartBody(t *testing.T, files map[string][2]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, f := range files {
		fw, err := mw.CreateFormFile(field, f[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postAudit(t *testing.T, h http.Handler, files map[string][2]string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/audits", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_CreateAndFetchAudit(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, true)

	rec := postAudit(t, h, map[string][2]string{"data": {"data.csv", sampleCSV()}}, map[string]string{
		"notes":   "uploaded",
		"explain": "true",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp auditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.DecisionFix, resp.Report.Decision)
	assert.Len(t, resp.Report.UnassessedRisks, 3)
	assert.NotEmpty(t, resp.RecordHash)
	assert.Equal(t, "R1_EPISTEMIC_BLOCKER", resp.Trace.DecidingRule)
	require.NotNil(t, resp.Explanation)
	assert.Equal(t, explain.Fallback(), *resp.Explanation)
	require.NotNil(t, resp.Report.Notes)
	assert.Equal(t, "uploaded", *resp.Report.Notes)

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/audits/"+resp.Report.AuditID, nil))
	require.Equal(t, http.StatusOK, get.Code)
	var stored model.StoredReport
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &stored))
	assert.Equal(t, resp.RecordHash, stored.RecordHash)

	list := httptest.NewRecorder()
	h.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/audits?decision=fix", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var reports []model.StoredReport
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &reports))
	assert.Len(t, reports, 1)

	verify := httptest.NewRecorder()
	h.ServeHTTP(verify, httptest.NewRequest(http.MethodGet, "/ledger/verify", nil))
	require.Equal(t, http.StatusOK, verify.Code)
	var vr ledger.VerifyResult
	require.NoError(t, json.Unmarshal(verify.Body.Bytes(), &vr))
	assert.True(t, vr.Valid)
	assert.Equal(t, 1, vr.Records)
}

func TestServer_AuditWithMetadata(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, false)

	meta := "target_column: {value: y, trust: verified}\ntime_column: {value: x, trust: declared}\nproblem_type: {value: classification, trust: declared}\n"
	rec := postAudit(t, h, map[string][2]string{
		"data":     {"data.csv", sampleCSV()},
		"metadata": {"meta.yaml", meta},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp auditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Report.UnassessedRisks)

	// Without a store the report is served from the ledger.
	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/audits/"+resp.Report.AuditID, nil))
	require.Equal(t, http.StatusOK, get.Code)
}

func TestServer_CreateAuditErrors(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, false)

	missing := postAudit(t, h, nil, map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	unsupported := postAudit(t, h, map[string][2]string{"data": {"data.parquet", "PAR1"}}, nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, unsupported.Code)

	badMeta := postAudit(t, h, map[string][2]string{
		"data":     {"data.csv", sampleCSV()},
		"metadata": {"meta.yaml", "target_column: [1, 2]\n"},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, badMeta.Code)
	assert.Contains(t, badMeta.Body.String(), "invalid_metadata")

	notMultipart := httptest.NewRecorder()
	h.ServeHTTP(notMultipart, httptest.NewRequest(http.MethodPost, "/audits", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, notMultipart.Code)
}

func TestServer_OverrideFlow(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, true)

	rec := postAudit(t, h, map[string][2]string{"data": {"data.csv", sampleCSV()}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp auditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp.Report.AuditID

	body := `{"action":"proceed_anyway","justification":"metadata confirmed offline","reviewer_id":"r1"}`
	ov := httptest.NewRecorder()
	h.ServeHTTP(ov, httptest.NewRequest(http.MethodPost, "/audits/"+id+"/overrides", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, ov.Code, ov.Body.String())

	hist := httptest.NewRecorder()
	h.ServeHTTP(hist, httptest.NewRequest(http.MethodGet, "/audits/"+id+"/history", nil))
	require.Equal(t, http.StatusOK, hist.Code)
	var entry model.HistoryEntry
	require.NoError(t, json.Unmarshal(hist.Body.Bytes(), &entry))
	assert.Equal(t, model.DecisionFix, entry.SystemDecision)
	assert.Equal(t, "proceed_anyway", entry.EffectiveDecision)

	badAction := httptest.NewRecorder()
	h.ServeHTTP(badAction, httptest.NewRequest(http.MethodPost, "/audits/"+id+"/overrides",
		strings.NewReader(`{"action":"ship_it","justification":"x","reviewer_id":"r"}`)))
	assert.Equal(t, http.StatusBadRequest, badAction.Code)

	unknown := httptest.NewRecorder()
	h.ServeHTTP(unknown, httptest.NewRequest(http.MethodPost, "/audits/missing/overrides", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestServer_NotFoundAndStoreDisabled(t *testing.T) {
	t.Parallel()

	_, withStore := newTestServer(t, true)
	rec := httptest.NewRecorder()
	withStore.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audits/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, noStore := newTestServer(t, false)
	list := httptest.NewRecorder()
	noStore.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/audits", nil))
	assert.Equal(t, http.StatusServiceUnavailable, list.Code)

	get := httptest.NewRecorder()
	noStore.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/audits/missing", nil))
	assert.Equal(t, http.StatusNotFound, get.Code)
}
