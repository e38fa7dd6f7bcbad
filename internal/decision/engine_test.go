package decision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/model"
)

func risk(id model.RiskID, sev model.Severity, conf model.Confidence) model.StructuralRisk {
	return model.StructuralRisk{RiskID: id, Severity: sev, Confidence: conf, Evidence: "test evidence"}
}

var epistemic = []model.UnassessedRisk{{Category: "label_provenance", AffectedComponent: "target_column"}}

func TestDecide_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		unassessed []model.UnassessedRisk
		structural []model.StructuralRisk
		want       model.Decision
	}{
		{"clean", nil, nil, model.DecisionProceed},
		{"epistemic dominates catastrophe", epistemic,
			[]model.StructuralRisk{risk(model.RiskIDLikeColumn, model.SeverityHigh, model.ConfidenceHigh)},
			model.DecisionFix},
		{"deterministic catastrophe", nil,
			[]model.StructuralRisk{risk(model.RiskIDLikeColumn, model.SeverityHigh, model.ConfidenceHigh)},
			model.DecisionAbort},
		{"high but uncertain", nil,
			[]model.StructuralRisk{risk(model.RiskMissingnessTargetDependence, model.SeverityHigh, model.ConfidenceMedium)},
			model.DecisionFix},
		{"two mediums proceed", nil,
			[]model.StructuralRisk{
				risk(model.RiskDuplicateRows, model.SeverityMedium, model.ConfidenceHigh),
				risk(model.RiskConstantColumns, model.SeverityMedium, model.ConfidenceHigh),
			},
			model.DecisionProceed},
		{"three mediums fix", nil,
			[]model.StructuralRisk{
				risk(model.RiskDuplicateRows, model.SeverityMedium, model.ConfidenceHigh),
				risk(model.RiskConstantColumns, model.SeverityMedium, model.ConfidenceHigh),
				risk(model.RiskSparseRows, model.SeverityMedium, model.ConfidenceHigh),
			},
			model.DecisionFix},
		{"low only proceeds", nil,
			[]model.StructuralRisk{risk(model.RiskCheckSkipped, model.SeverityLow, model.ConfidenceLow)},
			model.DecisionProceed},
		{"single probabilistic fixes", nil,
			[]model.StructuralRisk{risk(model.RiskProbabilisticDependenceKS, model.SeverityMedium, model.ConfidenceHigh)},
			model.DecisionFix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Decide(tt.unassessed, tt.structural))
		})
	}
}

func TestDecide_MediumCountIncludesProbabilistic(t *testing.T) {
	t.Parallel()

	structural := []model.StructuralRisk{
		risk(model.RiskDuplicateRows, model.SeverityMedium, model.ConfidenceHigh),
		risk(model.RiskProbabilisticDependenceKS, model.SeverityMedium, model.ConfidenceMedium),
		risk(model.RiskProbabilisticDependenceChi2, model.SeverityMedium, model.ConfidenceMedium),
	}
	d, rule := decide(nil, structural)
	assert.Equal(t, model.DecisionFix, d)
	assert.Equal(t, "R4_ACCUMULATED_MEDIUM", rule)
}

func TestDecide_ProbabilisticNeverAborts(t *testing.T) {
	t.Parallel()

	sevs := []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh}
	confs := []model.Confidence{model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh}
	ids := model.ProbabilisticRiskIDs()
	rng := rand.New(rand.NewSource(7))

	for n := 1; n <= 40; n++ {
		var structural []model.StructuralRisk
		for i := 0; i < n; i++ {
			structural = append(structural, risk(ids[rng.Intn(len(ids))], sevs[rng.Intn(3)], confs[rng.Intn(3)]))
		}
		assert.Equal(t, model.DecisionFix, Decide(nil, structural), "n=%d", n)
	}
}

func TestDecide_EpistemicRiskTurnsProceedIntoFix(t *testing.T) {
	t.Parallel()

	proceeding := [][]model.StructuralRisk{
		nil,
		{risk(model.RiskCheckSkipped, model.SeverityLow, model.ConfidenceLow)},
		{
			risk(model.RiskDuplicateRows, model.SeverityMedium, model.ConfidenceHigh),
			risk(model.RiskNearConstantColumn, model.SeverityMedium, model.ConfidenceHigh),
		},
	}
	for _, structural := range proceeding {
		require.Equal(t, model.DecisionProceed, Decide(nil, structural))
		assert.Equal(t, model.DecisionFix, Decide(epistemic, structural))
	}
}

func TestRules_LastRuleAlwaysMatches(t *testing.T) {
	t.Parallel()

	table := Rules()
	require.Len(t, table, 6)
	last := table[len(table)-1]
	assert.Equal(t, model.DecisionProceed, last.Outcome)
	assert.True(t, last.match(counts{}))

	ids := make(map[string]bool)
	for _, r := range table {
		assert.False(t, ids[r.ID], "duplicate rule id %s", r.ID)
		ids[r.ID] = true
	}
}
