package diagnostics

import (
	"fmt"

	"github.com/sells-group/dataset-audit/internal/model"
)

const (
	probabilisticMinTarget   = 50
	probabilisticConfidentN  = 500
	probabilisticAlpha       = 0.001
	continuousMinDistinct    = 10
	categoricalMinCategories = 2
)

// DetectProbabilistic runs hypothesis tests between each feature and a
// DECLARED target. Findings are evidence, not proof, and belong to the
// probabilistic risk set.
func DetectProbabilistic(in Input) Findings {
	var f Findings
	if in.Metadata.TargetColumn.Trust != model.TrustDeclared {
		return f
	}
	target, ok := targetColumn(in)
	if !ok {
		return f
	}
	n := target.Len() - target.MissingCount()
	if n < probabilisticMinTarget {
		return f
	}

	conf := model.ConfidenceMedium
	if n >= probabilisticConfidentN {
		conf = model.ConfidenceHigh
	}

	for _, col := range in.Table.Columns() {
		if col.Name == target.Name || !col.IsNumeric() {
			continue
		}
		if col.Distinct(false) < continuousMinDistinct {
			continue
		}
		if !target.IsNumeric() {
			f.skip(model.RiskProbabilisticDependenceKS, col.Name, "target is not numeric")
			continue
		}
		d, p := ksTwoSample(col.Floats(), target.Floats())
		if p < probabilisticAlpha {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskProbabilisticDependenceKS,
				Description:     "Statistical test suggests strong distributional difference between feature and target.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityMedium,
				Confidence:      conf,
				Evidence:        fmt.Sprintf("KS statistic=%.3f, p-value=%.2e. This is probabilistic evidence, not proof.", d, p),
			})
		}
	}

	for _, col := range in.Table.Columns() {
		if col.Name == target.Name || !col.IsText() {
			continue
		}
		observed := contingency(col.Key, target.Key, func(i int) bool {
			return !col.Missing[i] && !target.Missing[i]
		}, col.Len())
		if len(observed) < categoricalMinCategories {
			continue
		}
		chi2, p, _, ok := chiSquareIndependence(observed)
		if !ok {
			f.skip(model.RiskProbabilisticDependenceChi2, col.Name, "contingency table has a zero expected count")
			continue
		}
		if p < probabilisticAlpha {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskProbabilisticDependenceChi2,
				Description:     "Categorical feature shows strong statistical dependence with the target.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityMedium,
				Confidence:      conf,
				Evidence:        fmt.Sprintf("Chi²=%.2f, p-value=%.2e. This is probabilistic evidence, not proof.", chi2, p),
			})
		}
	}

	return f
}

// contingency cross-tabulates row labels over the rows keep accepts. Row and
// column order follow first appearance.
func contingency(rowLabel, colLabel func(int) string, keep func(int) bool, n int) [][]float64 {
	rowIdx := make(map[string]int)
	colIdx := make(map[string]int)
	type cell struct{ r, c int }
	counts := make(map[cell]float64)
	for i := 0; i < n; i++ {
		if !keep(i) {
			continue
		}
		rk, ck := rowLabel(i), colLabel(i)
		r, ok := rowIdx[rk]
		if !ok {
			r = len(rowIdx)
			rowIdx[rk] = r
		}
		c, ok := colIdx[ck]
		if !ok {
			c = len(colIdx)
			colIdx[ck] = c
		}
		counts[cell{r, c}]++
	}
	out := make([][]float64, len(rowIdx))
	for r := range out {
		out[r] = make([]float64, len(colIdx))
	}
	for k, v := range counts {
		out[k.r][k.c] = v
	}
	return out
}
