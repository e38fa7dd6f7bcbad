package decision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/model"
)

func TestBuildTrace_AgreesWithEngine(t *testing.T) {
	t.Parallel()

	ids := []model.RiskID{
		model.RiskDuplicateRows,
		model.RiskIDLikeColumn,
		model.RiskMissingnessTargetDependence,
		model.RiskHighlySkewedTarget,
		model.RiskCheckSkipped,
		model.RiskProbabilisticDependenceKS,
		model.RiskProbabilisticDependenceChi2,
	}
	sevs := []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh}
	confs := []model.Confidence{model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		var unassessed []model.UnassessedRisk
		if rng.Intn(4) == 0 {
			unassessed = epistemic
		}
		var structural []model.StructuralRisk
		for n := rng.Intn(6); n > 0; n-- {
			structural = append(structural, risk(ids[rng.Intn(len(ids))], sevs[rng.Intn(3)], confs[rng.Intn(3)]))
		}

		want, wantRule := decide(unassessed, structural)
		tr := BuildTrace(unassessed, structural)
		require.Equal(t, want, tr.Decision, "iteration %d", i)
		require.Equal(t, wantRule, tr.DecidingRule, "iteration %d", i)
	}
}

func TestBuildTrace_Content(t *testing.T) {
	t.Parallel()

	structural := []model.StructuralRisk{
		risk(model.RiskIDLikeColumn, model.SeverityHigh, model.ConfidenceHigh),
		risk(model.RiskDuplicateRows, model.SeverityMedium, model.ConfidenceHigh),
	}
	tr := BuildTrace(nil, structural)

	assert.Equal(t, model.DecisionAbort, tr.Decision)
	assert.Equal(t, "R2_DETERMINISTIC_CATASTROPHE", tr.DecidingRule)
	require.Len(t, tr.Rules, 6)
	assert.False(t, tr.Rules[0].Triggered)
	assert.Equal(t, "0 unassessed risks detected.", tr.Rules[0].Evidence)
	assert.True(t, tr.Rules[1].Triggered)
	assert.Equal(t, "1 catastrophic deterministic risks detected: ID_LIKE_COLUMN.", tr.Rules[1].Evidence)
	assert.Equal(t, "1 medium-severity risks detected (threshold 3).", tr.Rules[3].Evidence)
	assert.NotEmpty(t, tr.Rules[2].Description)
	assert.Equal(t,
		"Final decision: ABORT. This decision was produced deterministically based on explicit escalation rules. Human review is required before any action is taken.",
		tr.Summary)
}
