// Package pipeline runs one dataset through ingestion, snapshotting, metadata
// resolution, detection, decision and report assembly, and records the result
// in the ledger and the audit history store.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/decision"
	"github.com/sells-group/dataset-audit/internal/diagnostics"
	"github.com/sells-group/dataset-audit/internal/explain"
	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/metadata"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/report"
	"github.com/sells-group/dataset-audit/internal/snapshot"
	"github.com/sells-group/dataset-audit/internal/store"
	"github.com/sells-group/dataset-audit/internal/table"
)

// Phase names in execution order.
const (
	PhaseIngest   = "1_ingest"
	PhaseSnapshot = "2_snapshot"
	PhaseMetadata = "3_metadata"
	PhaseDetect   = "4_detect"
	PhaseDecide   = "5_decide"
	PhaseAssemble = "6_assemble"
)

// PhaseStatus is the outcome of one phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records timing and outcome for one phase.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// Request names the inputs of one audit.
type Request struct {
	DataPath     string
	MetadataPath string // optional; empty means every field is MISSING
	Notes        string
}

// Result is everything one audit produced. Only Report is authoritative;
// the rest is context for humans.
type Result struct {
	Report     model.Report             `json:"report"`
	Trace      decision.Trace           `json:"trace"`
	Warnings   []model.IngestionWarning `json:"warnings,omitempty"`
	Skipped    []diagnostics.Skip       `json:"skipped,omitempty"`
	Phases     []PhaseResult            `json:"phases"`
	RecordHash string                   `json:"record_hash,omitempty"`
}

// Options tunes an Auditor.
type Options struct {
	Diagnostics diagnostics.Options
}

// Auditor orchestrates the audit phases. The ledger, store and explainer are
// optional; a nil ledger disables recording.
type Auditor struct {
	opts      Options
	ledger    *ledger.Ledger
	store     store.Store
	explainer *explain.Explainer
}

// New creates an Auditor with its dependencies.
func New(opts Options, l *ledger.Ledger, st store.Store, ex *explain.Explainer) *Auditor {
	return &Auditor{opts: opts, ledger: l, store: st, explainer: ex}
}

// Run executes the audit phases for one dataset. It writes nothing; call
// Record to persist the result. Ingestion and metadata errors fail the run.
func (a *Auditor) Run(ctx context.Context, req Request) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("data", req.DataPath))
	log.Info("pipeline: starting audit")

	result := &Result{}

	trackPhase := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "pipeline: %s", name)
		}

		start := time.Now()
		fnErr := fn()
		duration := time.Since(start).Milliseconds()

		pr := PhaseResult{Name: name, Duration: duration, Status: PhaseStatusComplete}
		if fnErr != nil {
			pr.Status = PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			log.Debug("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		result.Phases = append(result.Phases, pr)
		return fnErr
	}

	var (
		tbl        *table.Table
		snap       model.Snapshot
		unassessed []model.UnassessedRisk
		md         model.DatasetMetadata
		detected   diagnostics.Result
		dec        model.Decision
	)

	if err := trackPhase(PhaseIngest, func() error {
		var err error
		tbl, result.Warnings, err = table.Load(ctx, req.DataPath)
		return err
	}); err != nil {
		return result, eris.Wrap(err, "pipeline: ingest")
	}
	for _, w := range result.Warnings {
		log.Warn("pipeline: ingestion warning", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	if err := trackPhase(PhaseSnapshot, func() error {
		var err error
		snap, err = snapshot.Build(req.DataPath, tbl)
		return err
	}); err != nil {
		return result, eris.Wrap(err, "pipeline: snapshot")
	}

	if err := trackPhase(PhaseMetadata, func() error {
		md = metadata.Default()
		if req.MetadataPath != "" {
			var err error
			if md, err = metadata.Load(req.MetadataPath); err != nil {
				return err
			}
		}
		unassessed = metadata.Resolve(md)
		return nil
	}); err != nil {
		return result, eris.Wrap(err, "pipeline: metadata")
	}

	if err := trackPhase(PhaseDetect, func() error {
		var err error
		detected, err = diagnostics.Run(ctx, diagnostics.Input{Table: tbl, Metadata: md}, a.opts.Diagnostics)
		return err
	}); err != nil {
		return result, eris.Wrap(err, "pipeline: detect")
	}
	result.Skipped = detected.Skipped

	if err := trackPhase(PhaseDecide, func() error {
		dec = decision.Decide(unassessed, detected.Risks)
		result.Trace = decision.BuildTrace(unassessed, detected.Risks)
		if result.Trace.Decision != dec {
			return eris.Errorf("trace decision %s disagrees with engine decision %s", result.Trace.Decision, dec)
		}
		return nil
	}); err != nil {
		return result, eris.Wrap(err, "pipeline: decide")
	}

	if err := trackPhase(PhaseAssemble, func() error {
		result.Report = report.Assemble(report.Input{
			Snapshot:   snap,
			Unassessed: unassessed,
			Structural: detected.Risks,
			Decision:   dec,
			Notes:      req.Notes,
		})
		return nil
	}); err != nil {
		return result, eris.Wrap(err, "pipeline: assemble")
	}

	log.Info("pipeline: audit complete",
		zap.String("audit_id", result.Report.AuditID),
		zap.String("decision", string(dec)),
		zap.String("deciding_rule", result.Trace.DecidingRule),
		zap.Int("unassessed_risks", len(unassessed)),
		zap.Int("structural_risks", len(detected.Risks)),
	)
	return result, nil
}

// Record appends the report to the ledger and saves it to the history store.
// The ledger is authoritative: a ledger failure is returned, while a store
// failure is logged and the ledger hash is still returned.
func (a *Auditor) Record(ctx context.Context, res *Result) (string, error) {
	if res == nil {
		return "", eris.New("pipeline: record nil result")
	}
	if a.ledger == nil {
		return "", nil
	}

	hash, err := a.ledger.Append(ctx, res.Report)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: ledger append")
	}
	res.RecordHash = hash

	if a.store != nil {
		if err := a.store.SaveReport(ctx, res.Report, hash); err != nil {
			zap.L().Warn("pipeline: failed to save report to store",
				zap.String("audit_id", res.Report.AuditID),
				zap.Error(err),
			)
		}
	}
	return hash, nil
}

// Audit runs the phases and records the result.
func (a *Auditor) Audit(ctx context.Context, req Request) (*Result, error) {
	res, err := a.Run(ctx, req)
	if err != nil {
		return res, err
	}
	if _, err := a.Record(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// Explain produces a non-authoritative explanation of the report. It falls
// back to a fixed response when no explainer is configured.
func (a *Auditor) Explain(ctx context.Context, res *Result, audience explain.Audience) explain.Response {
	if a.explainer == nil || res == nil {
		return explain.Fallback()
	}
	return a.explainer.Explain(ctx, explain.NewRequest(res.Report, audience))
}
