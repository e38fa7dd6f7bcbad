package diagnostics

import (
	"fmt"

	"github.com/sells-group/dataset-audit/internal/model"
)

// DetectStructural runs dataset-level checks. An empty dataset short-circuits
// the remaining checks.
func DetectStructural(in Input) Findings {
	var f Findings
	tbl := in.Table
	n := tbl.NumRows()

	if n == 0 {
		f.add(model.StructuralRisk{
			RiskID:      model.RiskEmptyDataset,
			Description: "Dataset contains zero rows.",
			Severity:    model.SeverityHigh,
			Confidence:  model.ConfidenceHigh,
			Evidence:    "Row count is 0.",
		})
		return f
	}

	seen := make(map[string]struct{}, n)
	dups := 0
	for i := 0; i < n; i++ {
		key := tbl.RowKey(i)
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	if dups > 0 {
		f.add(model.StructuralRisk{
			RiskID:      model.RiskDuplicateRows,
			Description: "Dataset contains duplicate rows.",
			Severity:    model.SeverityMedium,
			Confidence:  model.ConfidenceHigh,
			Evidence:    fmt.Sprintf("%d duplicate rows (%s of dataset).", dups, pct(float64(dups)/float64(n))),
		})
	}

	var constant []string
	for _, col := range tbl.Columns() {
		if col.Distinct(true) == 1 {
			constant = append(constant, col.Name)
		}
	}
	if len(constant) > 0 {
		f.add(model.StructuralRisk{
			RiskID:          model.RiskConstantColumns,
			Description:     "One or more columns have zero variance.",
			AffectedColumns: constant,
			Severity:        model.SeverityMedium,
			Confidence:      model.ConfidenceHigh,
			Evidence:        fmt.Sprintf("%d columns have a single unique value.", len(constant)),
		})
	}

	return f
}
