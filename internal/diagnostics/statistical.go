package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/table"
)

const (
	highMissingRatio      = 0.5
	sparseRowRatio        = 0.5
	sparseRowsShare       = 0.1
	missingnessTargetGap  = 0.2
	minorityPropThreshold = 0.05
	minorityCountForHigh  = 50
	rareEventCount        = 30
	skewThreshold         = 2.0
	skewConfidentN        = 100
	dominanceMinRows      = 50
	dominanceConfidentN   = 200
	correlationThreshold  = 0.95
	miDominanceThreshold  = 0.7
)

// DetectStatistical runs missingness, target-distribution and
// feature/target dominance checks. Target-aware checks need metadata.
func DetectStatistical(in Input) Findings {
	var f Findings
	if in.Table.NumRows() == 0 {
		return f
	}
	detectMissingness(in, &f)
	detectTargetDistribution(in, &f)
	detectSignalDominance(in, &f)
	return f
}

func detectMissingness(in Input, f *Findings) {
	tbl := in.Table
	n := tbl.NumRows()

	for _, col := range tbl.Columns() {
		ratio := float64(col.MissingCount()) / float64(n)
		if ratio >= highMissingRatio {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskHighMissingnessColumn,
				Description:     "Column has a high proportion of missing values, which may distort learning or require heavy imputation.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityMedium,
				Confidence:      model.ConfidenceHigh,
				Evidence:        fmt.Sprintf("%s of values are missing.", pct(ratio)),
			})
		}
	}

	if ncols := tbl.NumCols(); ncols > 0 {
		sparse := 0
		for i := 0; i < n; i++ {
			if float64(tbl.RowMissing(i))/float64(ncols) >= sparseRowRatio {
				sparse++
			}
		}
		if share := float64(sparse) / float64(n); share >= sparseRowsShare {
			f.add(model.StructuralRisk{
				RiskID:      model.RiskSparseRows,
				Description: "A significant fraction of rows contain many missing values.",
				Severity:    model.SeverityMedium,
				Confidence:  model.ConfidenceHigh,
				Evidence:    fmt.Sprintf("%s of rows have ≥50%% missing values.", pct(share)),
			})
		}
	}

	if in.Metadata.TargetColumn.Trust != model.TrustVerified {
		return
	}
	target, ok := targetColumn(in)
	if !ok {
		return
	}
	if !target.IsNumeric() {
		f.skip(model.RiskMissingnessTargetDependence, target.Name, "target is not numeric")
		return
	}

	for _, col := range tbl.Columns() {
		if col.Name == target.Name || col.MissingCount() == 0 {
			continue
		}
		var whenMissing, whenPresent []float64
		for i := 0; i < n; i++ {
			if target.Missing[i] {
				continue
			}
			if col.Missing[i] {
				whenMissing = append(whenMissing, target.Nums[i])
			} else {
				whenPresent = append(whenPresent, target.Nums[i])
			}
		}
		if len(whenMissing) == 0 || len(whenPresent) == 0 {
			f.skip(model.RiskMissingnessTargetDependence, col.Name, "no target values on one side of the missingness split")
			continue
		}
		gap := stat.Mean(whenMissing, nil) - stat.Mean(whenPresent, nil)
		if math.Abs(gap) >= missingnessTargetGap {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskMissingnessTargetDependence,
				Description:     "Missingness in a feature is strongly associated with the target, which may indicate leakage or systematic data collection bias.",
				AffectedColumns: []string{col.Name},
				Severity:        model.SeverityHigh,
				Confidence:      model.ConfidenceMedium,
				Evidence:        fmt.Sprintf("Target mean difference when missing vs present: %.2f", gap),
			})
		}
	}
}

func detectTargetDistribution(in Input, f *Findings) {
	if in.Metadata.TargetColumn.Trust == model.TrustMissing {
		return
	}
	target, ok := targetColumn(in)
	if !ok {
		return
	}
	problem, ok := problemType(in)
	if !ok {
		return
	}

	n := target.Len() - target.MissingCount()
	if n == 0 {
		return
	}

	switch problem {
	case model.ProblemClassification:
		counts := target.ValueCounts(false)
		minority := n
		for _, c := range counts {
			minority = min(minority, c)
		}
		prop := float64(minority) / float64(n)

		if prop < minorityPropThreshold {
			conf := model.ConfidenceMedium
			if minority >= minorityCountForHigh {
				conf = model.ConfidenceHigh
			}
			f.add(model.StructuralRisk{
				RiskID:          model.RiskExtremeClassImbalance,
				Description:     "Target classes are highly imbalanced. In multiclass settings, rare classes may lead to unstable learning and misleading metrics.",
				AffectedColumns: []string{target.Name},
				Severity:        model.SeverityHigh,
				Confidence:      conf,
				Evidence:        fmt.Sprintf("Minority class proportion: %s (%d samples, %d classes).", pct(prop), minority, len(counts)),
			})
		}
		if minority < rareEventCount {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskRareEventTarget,
				Description:     "Minority target class has very few samples, making validation and generalization unreliable.",
				AffectedColumns: []string{target.Name},
				Severity:        model.SeverityHigh,
				Confidence:      model.ConfidenceHigh,
				Evidence:        fmt.Sprintf("Minority class count: %d.", minority),
			})
		}

	case model.ProblemRegression:
		if !target.IsNumeric() {
			f.skip(model.RiskDegenerateTarget, target.Name, "regression target is not numeric")
			return
		}
		y := target.Floats()
		if len(y) < 2 {
			f.skip(model.RiskDegenerateTarget, target.Name, "fewer than two target values")
			return
		}
		if _, std := stat.MeanStdDev(y, nil); std == 0 {
			f.add(model.StructuralRisk{
				RiskID:          model.RiskDegenerateTarget,
				Description:     "Target variable has zero variance. Learning meaningful relationships is impossible.",
				AffectedColumns: []string{target.Name},
				Severity:        model.SeverityHigh,
				Confidence:      model.ConfidenceHigh,
				Evidence:        "Target standard deviation is 0.",
			})
			return
		}
		if skew := skewness(y); math.Abs(skew) > skewThreshold {
			conf := model.ConfidenceMedium
			if len(y) >= skewConfidentN {
				conf = model.ConfidenceHigh
			}
			f.add(model.StructuralRisk{
				RiskID:          model.RiskHighlySkewedTarget,
				Description:     "Target distribution is highly skewed, which may destabilize learning and evaluation.",
				AffectedColumns: []string{target.Name},
				Severity:        model.SeverityMedium,
				Confidence:      conf,
				Evidence:        fmt.Sprintf("Estimated skewness: %.2f.", skew),
			})
		}
	}
}

func detectSignalDominance(in Input, f *Findings) {
	if in.Metadata.TargetColumn.Trust == model.TrustMissing {
		return
	}
	target, ok := targetColumn(in)
	if !ok {
		return
	}
	problem, ok := problemType(in)
	if !ok {
		return
	}
	n := in.Table.NumRows()
	if n < dominanceMinRows {
		return
	}

	var features []*table.Column
	for _, col := range in.Table.Columns() {
		if col.Name != target.Name && col.IsNumeric() && col.Distinct(false) > 1 {
			features = append(features, col)
		}
	}
	if len(features) == 0 {
		return
	}

	conf := model.ConfidenceMedium
	if n >= dominanceConfidentN {
		conf = model.ConfidenceHigh
	}

	if target.IsNumeric() {
		for _, col := range features {
			xs, ys := pairedFloats(col, target)
			if len(xs) < 2 {
				f.skip(model.RiskNearDeterministicCorrelation, col.Name, "fewer than two paired values")
				continue
			}
			corr := stat.Correlation(xs, ys, nil)
			if math.IsNaN(corr) {
				f.skip(model.RiskNearDeterministicCorrelation, col.Name, "correlation undefined for constant input")
				continue
			}
			if math.Abs(corr) >= correlationThreshold {
				f.add(model.StructuralRisk{
					RiskID:          model.RiskNearDeterministicCorrelation,
					Description:     "Feature has near-perfect correlation with the target. This may indicate leakage or a post-outcome artifact.",
					AffectedColumns: []string{col.Name},
					Severity:        model.SeverityHigh,
					Confidence:      conf,
					Evidence:        fmt.Sprintf("Pearson correlation with target: %.3f.", corr),
				})
			}
		}
	} else {
		f.skip(model.RiskNearDeterministicCorrelation, target.Name, "target is not numeric")
	}

	targetLabel, ok := targetLabeler(target, problem)
	if !ok {
		f.skip(model.RiskSingleFeatureSignalDominance, target.Name, "target cannot be discretized")
		return
	}

	var (
		names  []string
		scores []float64
		total  float64
	)
	for _, col := range features {
		edges := bucketEdges(col.Floats())
		if len(edges) < 3 {
			f.skip(model.RiskSingleFeatureSignalDominance, col.Name, "fewer than two distinct quantile buckets")
			continue
		}
		var xb []int
		var yl []string
		for i := range col.Nums {
			if col.Missing[i] || target.Missing[i] {
				continue
			}
			xb = append(xb, bucketOf(edges, col.Nums[i]))
			yl = append(yl, targetLabel(i))
		}
		mi := mutualInformation(xb, yl)
		names = append(names, col.Name)
		scores = append(scores, mi)
		total += mi
	}
	if total <= 0 {
		return
	}

	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	if ratio := scores[best] / total; ratio >= miDominanceThreshold {
		f.add(model.StructuralRisk{
			RiskID:          model.RiskSingleFeatureSignalDominance,
			Description:     "A single feature accounts for most of the observed feature–target mutual information.",
			AffectedColumns: []string{names[best]},
			Severity:        model.SeverityHigh,
			Confidence:      conf,
			Evidence:        fmt.Sprintf("Feature accounts for %s of total mutual information.", pct(ratio)),
		})
	}
}

// targetLabeler maps a row to its target label: the raw class for
// classification, the quantile bucket for regression.
func targetLabeler(target *table.Column, problem string) (func(int) string, bool) {
	if problem == model.ProblemClassification {
		return target.Key, true
	}
	if !target.IsNumeric() {
		return nil, false
	}
	edges := bucketEdges(target.Floats())
	if len(edges) < 3 {
		return nil, false
	}
	return func(i int) string {
		return fmt.Sprint(bucketOf(edges, target.Nums[i]))
	}, true
}
