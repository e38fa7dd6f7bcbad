package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Severity describes how damaging a risk is if left unresolved.
type Severity string

const (
	SeverityLow    Severity = "low"    // Cosmetic or informational
	SeverityMedium Severity = "medium" // Can degrade model reliability
	SeverityHigh   Severity = "high"   // Likely to cause misleading outcomes
)

// Confidence describes how certain the diagnosis itself is. It is an axis
// independent of Severity and the two are never combined into one score.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"    // Weak signal or small sample
	ConfidenceMedium Confidence = "medium" // Reasonable evidence
	ConfidenceHigh   Confidence = "high"   // Deterministic or overwhelming evidence
)

// Family groups risk identifiers by the detector pass that produces them.
type Family string

const (
	FamilyStructural    Family = "structural"
	FamilyColumn        Family = "column"
	FamilyStatistical   Family = "statistical"
	FamilyProbabilistic Family = "probabilistic"
)

// RiskID is a stable machine-readable risk identifier. The set is open:
// new detectors register new identifiers in riskFamilies.
type RiskID string

const (
	RiskEmptyDataset    RiskID = "EMPTY_DATASET"
	RiskDuplicateRows   RiskID = "DUPLICATE_ROWS"
	RiskConstantColumns RiskID = "CONSTANT_COLUMNS"

	RiskFullyMissingColumn         RiskID = "FULLY_MISSING_COLUMN"
	RiskNearConstantColumn         RiskID = "NEAR_CONSTANT_COLUMN"
	RiskHighCardinalityCategorical RiskID = "HIGH_CARDINALITY_CATEGORICAL"
	RiskIDLikeColumn               RiskID = "ID_LIKE_COLUMN"

	RiskHighMissingnessColumn        RiskID = "HIGH_MISSINGNESS_COLUMN"
	RiskSparseRows                   RiskID = "SPARSE_ROWS"
	RiskMissingnessTargetDependence  RiskID = "MISSINGNESS_TARGET_DEPENDENCE"
	RiskExtremeClassImbalance        RiskID = "EXTREME_CLASS_IMBALANCE"
	RiskRareEventTarget              RiskID = "RARE_EVENT_TARGET"
	RiskDegenerateTarget             RiskID = "DEGENERATE_TARGET"
	RiskHighlySkewedTarget           RiskID = "HIGHLY_SKEWED_TARGET"
	RiskNearDeterministicCorrelation RiskID = "NEAR_DETERMINISTIC_CORRELATION"
	RiskSingleFeatureSignalDominance RiskID = "SINGLE_FEATURE_SIGNAL_DOMINANCE"
	RiskCheckSkipped                 RiskID = "CHECK_SKIPPED"

	RiskProbabilisticDependenceKS   RiskID = "PROBABILISTIC_DEPENDENCE_KS"
	RiskProbabilisticDependenceChi2 RiskID = "PROBABILISTIC_DEPENDENCE_CHI2"
)

var riskFamilies = map[RiskID]Family{
	RiskEmptyDataset:    FamilyStructural,
	RiskDuplicateRows:   FamilyStructural,
	RiskConstantColumns: FamilyStructural,

	RiskFullyMissingColumn:         FamilyColumn,
	RiskNearConstantColumn:         FamilyColumn,
	RiskHighCardinalityCategorical: FamilyColumn,
	RiskIDLikeColumn:               FamilyColumn,

	RiskHighMissingnessColumn:        FamilyStatistical,
	RiskSparseRows:                   FamilyStatistical,
	RiskMissingnessTargetDependence:  FamilyStatistical,
	RiskExtremeClassImbalance:        FamilyStatistical,
	RiskRareEventTarget:              FamilyStatistical,
	RiskDegenerateTarget:             FamilyStatistical,
	RiskHighlySkewedTarget:           FamilyStatistical,
	RiskNearDeterministicCorrelation: FamilyStatistical,
	RiskSingleFeatureSignalDominance: FamilyStatistical,
	RiskCheckSkipped:                 FamilyStatistical,

	RiskProbabilisticDependenceKS:   FamilyProbabilistic,
	RiskProbabilisticDependenceChi2: FamilyProbabilistic,
}

// probabilisticRisks is the fixed membership set consulted by the decision
// engine. Membership is explicit and never inferred from the identifier text.
var probabilisticRisks = map[RiskID]struct{}{
	RiskProbabilisticDependenceKS:   {},
	RiskProbabilisticDependenceChi2: {},
}

// Family returns the detector family that owns the identifier. Unknown
// identifiers are treated as structural.
func (id RiskID) Family() Family {
	if f, ok := riskFamilies[id]; ok {
		return f
	}
	return FamilyStructural
}

// IsProbabilistic reports whether the identifier belongs to the
// probabilistic risk set.
func (id RiskID) IsProbabilistic() bool {
	_, ok := probabilisticRisks[id]
	return ok
}

// ProbabilisticRiskIDs returns the members of the probabilistic risk set.
func ProbabilisticRiskIDs() []RiskID {
	return []RiskID{RiskProbabilisticDependenceKS, RiskProbabilisticDependenceChi2}
}

// StructuralRisk is an explainable observation about the dataset. Every risk
// carries concrete evidence.
type StructuralRisk struct {
	RiskID          RiskID     `json:"risk_id"`
	Description     string     `json:"description"`
	AffectedColumns []string   `json:"affected_columns"`
	Severity        Severity   `json:"severity"`
	Confidence      Confidence `json:"confidence"`
	Evidence        string     `json:"evidence"`
}

// Validate checks the risk invariants.
func (r StructuralRisk) Validate() error {
	if r.RiskID == "" {
		return eris.New("risk: empty risk id")
	}
	if strings.TrimSpace(r.Evidence) == "" {
		return eris.Errorf("risk %s: evidence is required", r.RiskID)
	}
	if !validSeverity(r.Severity) {
		return eris.Errorf("risk %s: invalid severity %q", r.RiskID, r.Severity)
	}
	if !validConfidence(r.Confidence) {
		return eris.Errorf("risk %s: invalid confidence %q", r.RiskID, r.Confidence)
	}
	return nil
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

func validConfidence(c Confidence) bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// SeverityRank orders severities for display. It is never used to merge
// severity with confidence.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// UnassessedRisk is an epistemic gap: context that is missing or not trusted
// enough for any statistical judgment.
type UnassessedRisk struct {
	Category          string `json:"category"`
	Description       string `json:"description"`
	AffectedComponent string `json:"affected_component"`
}
