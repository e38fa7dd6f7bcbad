package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/store"
)

// HealthSnapshot holds a point-in-time view of the audit trail.
type HealthSnapshot struct {
	Ledger ledger.VerifyResult `json:"ledger"`

	// Decision mix over the most recent stored reports.
	ReportsSampled int                    `json:"reports_sampled"`
	DecisionCounts map[model.Decision]int `json:"decision_counts"`
	AbortRate      float64                `json:"abort_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// ReportLister is the slice of store.Store the collector reads.
type ReportLister interface {
	ListReports(ctx context.Context, filter store.ReportFilter) ([]model.StoredReport, error)
}

// Collector gathers ledger integrity and decision metrics.
type Collector struct {
	ledgerPath string
	reports    ReportLister
	sampleSize int
}

// NewCollector creates a collector. reports may be nil when no history store
// is configured.
func NewCollector(ledgerPath string, reports ReportLister, sampleSize int) *Collector {
	if sampleSize <= 0 {
		sampleSize = 200
	}
	return &Collector{ledgerPath: ledgerPath, reports: reports, sampleSize: sampleSize}
}

// Collect verifies the ledger chain and samples recent decisions.
func (c *Collector) Collect(ctx context.Context) (*HealthSnapshot, error) {
	snap := &HealthSnapshot{
		DecisionCounts: make(map[model.Decision]int),
		CollectedAt:    time.Now().UTC(),
	}

	res, err := ledger.Verify(c.ledgerPath)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: verify ledger")
	}
	snap.Ledger = res

	if c.reports == nil {
		return snap, nil
	}
	reports, err := c.reports.ListReports(ctx, store.ReportFilter{Limit: c.sampleSize})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reports")
	}
	for _, r := range reports {
		snap.DecisionCounts[r.Report.Decision]++
	}
	snap.ReportsSampled = len(reports)
	if snap.ReportsSampled > 0 {
		snap.AbortRate = float64(snap.DecisionCounts[model.DecisionAbort]) / float64(snap.ReportsSampled)
	}
	return snap, nil
}
