package explain

import (
	"sort"

	"github.com/sells-group/dataset-audit/internal/model"
)

// RiskSummary is a compact view of the structural risks, used instead of the
// full list when explaining large datasets.
type RiskSummary struct {
	TotalStructuralRisks int            `json:"total_structural_risks"`
	RiskTypeCounts       map[string]int `json:"risk_type_counts"`
	HighestSeverity      string         `json:"highest_severity"`
}

// SummarizeRisks counts risks per id and finds the highest severity. The
// first risk seen wins ties. An empty list reports severity "none".
func SummarizeRisks(risks []model.StructuralRisk) RiskSummary {
	s := RiskSummary{
		TotalStructuralRisks: len(risks),
		RiskTypeCounts:       make(map[string]int),
		HighestSeverity:      "none",
	}
	best := 0
	for _, r := range risks {
		s.RiskTypeCounts[string(r.RiskID)]++
		if rank := model.SeverityRank(r.Severity); rank > best {
			best = rank
			s.HighestSeverity = string(r.Severity)
		}
	}
	return s
}

// RiskIDs returns the distinct risk ids in sorted order.
func (s RiskSummary) RiskIDs() []string {
	ids := make([]string, 0, len(s.RiskTypeCounts))
	for id := range s.RiskTypeCounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
