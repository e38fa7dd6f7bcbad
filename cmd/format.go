package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sells-group/dataset-audit/internal/explain"
	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/pipeline"
)

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// formatWarnings writes non-fatal ingestion warnings.
func formatWarnings(out io.Writer, warns []model.IngestionWarning) {
	for _, w := range warns {
		_, _ = fmt.Fprintf(out, "warning [%s]: %s\n", w.Code, w.Message)
	}
}

// formatDecision writes the decision and the trace summary.
func formatDecision(out io.Writer, res *pipeline.Result) {
	_, _ = fmt.Fprintf(out, "\nDecision: %s (rule %s)\n", res.Report.Decision, res.Trace.DecidingRule)
	_, _ = fmt.Fprintf(out, "Unassessed risks: %d  Structural risks: %d  High severity: %d\n",
		res.Report.Summary.TotalUnassessedRisks,
		res.Report.Summary.TotalStructuralRisks,
		res.Report.Summary.HighSeverityRisks,
	)
	if res.RecordHash != "" {
		_, _ = fmt.Fprintf(out, "Ledger record: %s\n", res.RecordHash)
	}
	_, _ = fmt.Fprintln(out, res.Trace.Summary)
}

// formatExplanation writes a non-authoritative explanation.
func formatExplanation(out io.Writer, resp explain.Response) {
	_, _ = fmt.Fprintf(out, "\n%s\n\n%s\n", resp.Headline, resp.Summary)
	if len(resp.KeyInsights) > 0 {
		_, _ = fmt.Fprintln(out, "\nKey insights:")
		for _, k := range resp.KeyInsights {
			_, _ = fmt.Fprintf(out, "  - %s\n", k)
		}
	}
	if resp.Limitations != "" {
		_, _ = fmt.Fprintf(out, "\nLimitations: %s\n", resp.Limitations)
	}
	_, _ = fmt.Fprintf(out, "\n%s\n", resp.Disclaimer)
}

// formatReportsList writes a tabular list of stored reports.
func formatReportsList(out io.Writer, reports []model.StoredReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AUDIT_ID\tDECISION\tFILE\tROWS\tRISKS\tGENERATED")
	for _, sr := range reports {
		r := sr.Report
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(r.AuditID),
			r.Decision,
			r.DatasetSnapshot.FilePath,
			r.DatasetSnapshot.RowCount,
			r.Summary.TotalUnassessedRisks+r.Summary.TotalStructuralRisks,
			r.GeneratedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

// formatLedgerList writes one line per ledger record.
func formatLedgerList(out io.Writer, records []model.LedgerRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tAUDIT_ID\tDECISION\tRULESET\tRECORD_HASH\tGENERATED")
	for i, rec := range records {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			shortID(rec.AuditID),
			rec.Decision,
			rec.RulesetVersion,
			shortID(rec.RecordHash),
			rec.GeneratedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

// formatVerify writes the outcome of a chain verification.
func formatVerify(out io.Writer, vr ledger.VerifyResult) {
	if vr.Valid {
		_, _ = fmt.Fprintf(out, "Ledger %s is valid: %d records.\n", vr.Path, vr.Records)
	} else {
		_, _ = fmt.Fprintf(out, "Ledger %s is INVALID at record %d: %s\n", vr.Path, vr.FirstInvalid, vr.Reason)
	}
	if vr.TornTail {
		_, _ = fmt.Fprintln(out, "The last line is incomplete and was ignored.")
	}
}

// formatHistory writes the system and effective decision of one audit.
func formatHistory(out io.Writer, h *model.HistoryEntry) {
	_, _ = fmt.Fprintf(out, "Audit:              %s\n", h.AuditID)
	_, _ = fmt.Fprintf(out, "System decision:    %s\n", h.SystemDecision)
	_, _ = fmt.Fprintf(out, "Effective decision: %s\n", h.EffectiveDecision)
	if h.Override != nil {
		_, _ = fmt.Fprintf(out, "Override:           %s by %s at %s\n",
			h.Override.Action, h.Override.ReviewerID, h.Override.ReviewedAt.Format(time.RFC3339))
		_, _ = fmt.Fprintf(out, "Justification:      %s\n", h.Override.Justification)
	}
}
