// Package store persists assembled audit reports and human overrides. It is
// a queryable history next to the ledger, never a replacement for it.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
)

// ErrNotFound is returned when an audit id has no stored report.
var ErrNotFound = eris.New("audit not found")

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	Decision model.Decision `json:"decision,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for audit history.
type Store interface {
	// Reports
	SaveReport(ctx context.Context, report model.Report, recordHash string) error
	ImportReports(ctx context.Context, reports []model.StoredReport) (int64, error)
	GetReport(ctx context.Context, auditID string) (*model.StoredReport, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.StoredReport, error)

	// Overrides
	RecordOverride(ctx context.Context, o model.Override) (*model.Override, error)
	GetHistory(ctx context.Context, auditID string) (*model.HistoryEntry, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(f ReportFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func validateOverride(o model.Override) error {
	if o.AuditID == "" {
		return eris.New("store: override requires an audit id")
	}
	if _, ok := model.ParseOverrideAction(string(o.Action)); !ok {
		return eris.Errorf("store: invalid override action %q", o.Action)
	}
	if o.Justification == "" {
		return eris.New("store: override requires a justification")
	}
	if o.ReviewerID == "" {
		return eris.New("store: override requires a reviewer id")
	}
	return nil
}

func decodeReport(data []byte, hash string, storedAt time.Time) (*model.StoredReport, error) {
	sr := &model.StoredReport{RecordHash: hash, StoredAt: storedAt.UTC()}
	if err := json.Unmarshal(data, &sr.Report); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal report")
	}
	return sr, nil
}
