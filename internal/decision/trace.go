package decision

import (
	"fmt"
	"strings"

	"github.com/sells-group/dataset-audit/internal/model"
)

// RuleTrace records whether one rule fired and why.
type RuleTrace struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Triggered   bool   `json:"triggered"`
	Evidence    string `json:"evidence"`
}

// Trace is a human-auditable account of a decision.
type Trace struct {
	Decision     model.Decision `json:"decision"`
	DecidingRule string         `json:"deciding_rule"`
	Rules        []RuleTrace    `json:"rules"`
	Summary      string         `json:"summary"`
}

// BuildTrace re-derives every rule's trigger and evidence directly from the
// risks, without consulting the rule table's match functions. Its decision
// must agree with Decide for the same input.
func BuildTrace(unassessed []model.UnassessedRisk, structural []model.StructuralRisk) Trace {
	var catastrophic, high, medium, probabilistic []string
	for _, r := range structural {
		if r.Severity == model.SeverityMedium {
			medium = append(medium, string(r.RiskID))
		}
		if r.RiskID.IsProbabilistic() {
			probabilistic = append(probabilistic, string(r.RiskID))
			continue
		}
		if r.Severity != model.SeverityHigh {
			continue
		}
		high = append(high, string(r.RiskID))
		if r.Confidence == model.ConfidenceHigh {
			catastrophic = append(catastrophic, string(r.RiskID))
		}
	}

	traces := []RuleTrace{
		{
			RuleID:    rules[0].ID,
			Triggered: len(unassessed) > 0,
			Evidence:  fmt.Sprintf("%d unassessed risks detected.", len(unassessed)),
		},
		{
			RuleID:    rules[1].ID,
			Triggered: len(catastrophic) > 0,
			Evidence:  withIDs(fmt.Sprintf("%d catastrophic deterministic risks detected", len(catastrophic)), catastrophic),
		},
		{
			RuleID:    rules[2].ID,
			Triggered: len(high) > 0,
			Evidence:  withIDs(fmt.Sprintf("%d high-severity deterministic risks detected", len(high)), high),
		},
		{
			RuleID:    rules[3].ID,
			Triggered: len(medium) >= mediumAccumulation,
			Evidence:  fmt.Sprintf("%d medium-severity risks detected (threshold %d).", len(medium), mediumAccumulation),
		},
		{
			RuleID:    rules[4].ID,
			Triggered: len(probabilistic) > 0,
			Evidence:  withIDs(fmt.Sprintf("%d probabilistic risks detected", len(probabilistic)), probabilistic),
		},
		{
			RuleID:    rules[5].ID,
			Triggered: true,
			Evidence:  "Default outcome when no earlier rule is triggered.",
		},
	}

	t := Trace{Rules: traces}
	for i := range traces {
		traces[i].Description = rules[i].Description
		if t.DecidingRule == "" && traces[i].Triggered {
			t.DecidingRule = traces[i].RuleID
			t.Decision = rules[i].Outcome
		}
	}
	t.Summary = fmt.Sprintf(
		"Final decision: %s. This decision was produced deterministically based on explicit escalation rules. Human review is required before any action is taken.",
		strings.ToUpper(string(t.Decision)),
	)
	return t
}

func withIDs(prefix string, ids []string) string {
	if len(ids) == 0 {
		return prefix + "."
	}
	return fmt.Sprintf("%s: %s.", prefix, strings.Join(ids, ", "))
}
