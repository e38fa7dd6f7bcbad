// Package diagnostics runs the risk detector families over a loaded table.
package diagnostics

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/table"
)

// Options controls how the detector families run.
type Options struct {
	// Parallel runs the four families concurrently. Output order is the same
	// either way.
	Parallel bool
	// ReportSkipped surfaces checks that could not be computed as
	// CHECK_SKIPPED risks with LOW severity and LOW confidence.
	ReportSkipped bool
}

// Input is the read-only data every detector sees.
type Input struct {
	Table    *table.Table
	Metadata model.DatasetMetadata
}

// Skip records a check that was dropped because its input was degenerate.
type Skip struct {
	Check  model.RiskID `json:"check"`
	Column string       `json:"column,omitempty"`
	Reason string       `json:"reason"`
}

// Findings is the output of one detector family.
type Findings struct {
	Risks   []model.StructuralRisk
	Skipped []Skip
}

func (f *Findings) add(r model.StructuralRisk) {
	f.Risks = append(f.Risks, r)
}

func (f *Findings) skip(check model.RiskID, column, reason string) {
	f.Skipped = append(f.Skipped, Skip{Check: check, Column: column, Reason: reason})
}

// Family is a named detector pass.
type Family struct {
	Name   model.Family
	Detect func(Input) Findings
}

// Families lists the detector passes in report order.
var Families = []Family{
	{Name: model.FamilyStructural, Detect: DetectStructural},
	{Name: model.FamilyColumn, Detect: DetectColumns},
	{Name: model.FamilyStatistical, Detect: DetectStatistical},
	{Name: model.FamilyProbabilistic, Detect: DetectProbabilistic},
}

// Result is the combined output of all families.
type Result struct {
	Risks   []model.StructuralRisk
	Skipped []Skip
}

// Run executes every family and concatenates their risks in family order.
// Every emitted risk is validated; an invalid risk is a detector bug and
// fails the run.
func Run(ctx context.Context, in Input, opts Options) (Result, error) {
	if in.Table == nil {
		return Result{}, eris.New("diagnostics: nil table")
	}

	found := make([]Findings, len(Families))
	if opts.Parallel {
		g, gCtx := errgroup.WithContext(ctx)
		for i, fam := range Families {
			g.Go(func() error {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				found[i] = fam.Detect(in)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, eris.Wrap(err, "diagnostics: run families")
		}
	} else {
		for i, fam := range Families {
			if err := ctx.Err(); err != nil {
				return Result{}, eris.Wrap(err, "diagnostics: run families")
			}
			found[i] = fam.Detect(in)
		}
	}

	var res Result
	for i, f := range found {
		for _, r := range f.Risks {
			if err := r.Validate(); err != nil {
				return Result{}, eris.Wrapf(err, "diagnostics: %s family", Families[i].Name)
			}
		}
		res.Risks = append(res.Risks, f.Risks...)
		res.Skipped = append(res.Skipped, f.Skipped...)
		if len(f.Skipped) > 0 {
			zap.L().Debug("diagnostics: checks skipped",
				zap.String("family", string(Families[i].Name)),
				zap.Int("skipped", len(f.Skipped)),
			)
		}
	}

	if opts.ReportSkipped {
		for _, s := range res.Skipped {
			res.Risks = append(res.Risks, skippedRisk(s))
		}
	}
	return res, nil
}

func skippedRisk(s Skip) model.StructuralRisk {
	var cols []string
	evidence := fmt.Sprintf("%s was not computed: %s.", s.Check, s.Reason)
	if s.Column != "" {
		cols = []string{s.Column}
		evidence = fmt.Sprintf("%s was not computed for column %q: %s.", s.Check, s.Column, s.Reason)
	}
	return model.StructuralRisk{
		RiskID:          model.RiskCheckSkipped,
		Description:     "A diagnostic check could not be computed on this input and was skipped.",
		AffectedColumns: cols,
		Severity:        model.SeverityLow,
		Confidence:      model.ConfidenceLow,
		Evidence:        evidence,
	}
}

func pct(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// targetColumn returns the declared target column when it exists in the table.
func targetColumn(in Input) (*table.Column, bool) {
	if !in.Metadata.TargetColumn.Declared() {
		return nil, false
	}
	return in.Table.Column(in.Metadata.TargetColumn.String())
}

// problemType returns the declared problem type when it is one the
// target-aware checks understand.
func problemType(in Input) (string, bool) {
	switch p := in.Metadata.ProblemType.String(); p {
	case model.ProblemClassification, model.ProblemRegression:
		return p, true
	}
	return "", false
}
