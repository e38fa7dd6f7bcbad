// Package decision turns epistemic and structural risks into one of three
// recommendations using an ordered, first-match-wins rule table.
package decision

import (
	"github.com/sells-group/dataset-audit/internal/model"
)

// RulesetVersion identifies the rule table below. Bump it whenever a rule,
// its order, or its outcome changes.
const RulesetVersion = "v1.0.0"

const mediumAccumulation = 3

// Rule is one row of the decision table.
type Rule struct {
	ID          string         `json:"id"`
	Outcome     model.Decision `json:"outcome"`
	Predicate   string         `json:"predicate"`
	Description string         `json:"-"`
	match       func(counts) bool
}

// counts are the risk tallies the rules are written against.
type counts struct {
	unassessed        int
	catastrophic      int // deterministic, HIGH severity, HIGH confidence
	deterministicHigh int // deterministic, HIGH severity, any confidence
	medium            int // MEDIUM severity across all families
	probabilistic     int
}

func tally(unassessed []model.UnassessedRisk, structural []model.StructuralRisk) counts {
	c := counts{unassessed: len(unassessed)}
	for _, r := range structural {
		if r.Severity == model.SeverityMedium {
			c.medium++
		}
		if r.RiskID.IsProbabilistic() {
			c.probabilistic++
			continue
		}
		if r.Severity == model.SeverityHigh {
			c.deterministicHigh++
			if r.Confidence == model.ConfidenceHigh {
				c.catastrophic++
			}
		}
	}
	return c
}

var rules = []Rule{
	{
		ID:          "R1_EPISTEMIC_BLOCKER",
		Outcome:     model.DecisionFix,
		Predicate:   "count(unassessed_risks) > 0",
		Description: "Unassessed epistemic risks block safe progression.",
		match:       func(c counts) bool { return c.unassessed > 0 },
	},
	{
		ID:          "R2_DETERMINISTIC_CATASTROPHE",
		Outcome:     model.DecisionAbort,
		Predicate:   "any deterministic risk with severity=high and confidence=high",
		Description: "High-severity, high-confidence deterministic risks require abort.",
		match:       func(c counts) bool { return c.catastrophic > 0 },
	},
	{
		ID:          "R3_DETERMINISTIC_HIGH_SEVERITY",
		Outcome:     model.DecisionFix,
		Predicate:   "any deterministic risk with severity=high",
		Description: "High-severity deterministic risks with uncertainty require fixing before proceeding.",
		match:       func(c counts) bool { return c.deterministicHigh > 0 },
	},
	{
		ID:          "R4_ACCUMULATED_MEDIUM",
		Outcome:     model.DecisionFix,
		Predicate:   "count(structural_risks with severity=medium, all families) >= 3",
		Description: "Multiple medium-severity risks accumulate into significant concern.",
		match:       func(c counts) bool { return c.medium >= mediumAccumulation },
	},
	{
		ID:          "R5_PROBABILISTIC_CEILING",
		Outcome:     model.DecisionFix,
		Predicate:   "count(probabilistic risks) > 0",
		Description: "Probabilistic risks require review but cannot cause abort alone.",
		match:       func(c counts) bool { return c.probabilistic > 0 },
	},
	{
		ID:          "R6_NO_BLOCKING_RISK",
		Outcome:     model.DecisionProceed,
		Predicate:   "true",
		Description: "No rule above matched; the dataset may proceed to human review.",
		match:       func(counts) bool { return true },
	},
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}

// Decide evaluates the rule table and returns the first matching outcome.
func Decide(unassessed []model.UnassessedRisk, structural []model.StructuralRisk) model.Decision {
	d, _ := decide(unassessed, structural)
	return d
}

func decide(unassessed []model.UnassessedRisk, structural []model.StructuralRisk) (model.Decision, string) {
	c := tally(unassessed, structural)
	for _, r := range rules {
		if r.match(c) {
			return r.Outcome, r.ID
		}
	}
	// The last rule always matches.
	return model.DecisionProceed, rules[len(rules)-1].ID
}
