package diagnostics

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/dataset-audit/internal/model"
)

const (
	nearConstantRatio    = 0.99
	highCardinalityRatio = 0.9
)

// DetectColumns runs per-column checks that need neither labels nor a
// problem type.
func DetectColumns(in Input) Findings {
	var f Findings
	n := in.Table.NumRows()
	if n == 0 {
		return f
	}
	lower := cases.Lower(language.Und)

	for _, col := range in.Table.Columns() {
		if col.MissingCount() == n {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskFullyMissingColumn,
				Description:     "Column contains only missing values.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityHigh,
				Confidence:      model.ConfidenceHigh,
				Evidence:        "100% values are missing.",
			})
			continue
		}

		top := 0
		for _, c := range col.ValueCounts(true) {
			top = max(top, c)
		}
		if topRatio := float64(top) / float64(n); topRatio >= nearConstantRatio {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskNearConstantColumn,
				Description:     "Column has near-zero variance.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityMedium,
				Confidence:      model.ConfidenceHigh,
				Evidence:        fmt.Sprintf("Top value accounts for %s of rows.", pct(topRatio)),
			})
		}

		unique := col.Distinct(false)
		uniqueRatio := float64(unique) / float64(n)

		if col.IsText() && uniqueRatio >= highCardinalityRatio {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskHighCardinalityCategorical,
				Description:     "Categorical column has extremely high cardinality and may behave like an identifier.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityMedium,
				Confidence:      model.ConfidenceMedium,
				Evidence:        fmt.Sprintf("%d unique values (%s of rows).", unique, pct(uniqueRatio)),
			})
		}

		if strings.HasSuffix(lower.String(col.Name), "id") && uniqueRatio >= highCardinalityRatio {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskIDLikeColumn,
				Description:     "Column appears to be an identifier and may cause leakage or memorization.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityHigh,
				Confidence:      model.ConfidenceHigh,
				Evidence:        fmt.Sprintf("Column name ends with 'id' and has %s unique values.", pct(uniqueRatio)),
			})
		}
	}

	return f
}
