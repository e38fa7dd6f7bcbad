package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect the audit history store",
}

// -- reports list --

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored audit reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		decisionFlag, _ := cmd.Flags().GetString("decision")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.ReportFilter{Limit: limit, Offset: offset}
		if decisionFlag != "" {
			d, ok := parseDecision(decisionFlag)
			if !ok {
				return eris.Errorf("unknown decision %q (proceed, fix, abort)", decisionFlag)
			}
			filter.Decision = d
		}

		reports, err := st.ListReports(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "reports list")
		}
		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}
		formatReportsList(os.Stdout, reports)
		return nil
	},
}

// -- reports show --

var reportsShowCmd = &cobra.Command{
	Use:   "show <audit-id>",
	Short: "Show a stored report with its override history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sr, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reports show")
		}
		if err := writeIndented(os.Stdout, sr); err != nil {
			return err
		}

		h, err := st.GetHistory(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reports show")
		}
		formatHistory(os.Stderr, h)
		return nil
	},
}

// -- override --

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Record a human override of an audit decision",
	Long:  "Records a reviewer's decision next to the system decision. The report and ledger are never changed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		auditID, _ := cmd.Flags().GetString("audit-id")
		action, _ := cmd.Flags().GetString("action")
		justification, _ := cmd.Flags().GetString("justification")
		reviewer, _ := cmd.Flags().GetString("reviewer")

		act, ok := model.ParseOverrideAction(action)
		if !ok {
			return eris.Errorf("unknown action %q (proceed_anyway, fix_later, abort_anyway)", action)
		}

		st, err := requireStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		o, err := st.RecordOverride(ctx, model.Override{
			AuditID:       auditID,
			Action:        act,
			Justification: justification,
			ReviewerID:    reviewer,
		})
		if err != nil {
			return eris.Wrap(err, "override")
		}
		zap.L().Info("override recorded",
			zap.String("audit_id", o.AuditID),
			zap.String("action", string(o.Action)),
			zap.String("reviewer", o.ReviewerID),
		)

		h, err := st.GetHistory(ctx, auditID)
		if err != nil {
			return eris.Wrap(err, "override")
		}
		formatHistory(os.Stdout, h)
		return nil
	},
}

func init() {
	reportsListCmd.Flags().String("decision", "", "filter by decision (proceed, fix, abort)")
	reportsListCmd.Flags().Int("limit", 50, "max number of reports to display")
	reportsListCmd.Flags().Int("offset", 0, "number of reports to skip")

	overrideCmd.Flags().String("audit-id", "", "audit id to override")
	overrideCmd.Flags().String("action", "", "proceed_anyway, fix_later or abort_anyway")
	overrideCmd.Flags().String("justification", "", "why the reviewer overrides the system decision")
	overrideCmd.Flags().String("reviewer", "", "reviewer id")
	for _, f := range []string{"audit-id", "action", "justification", "reviewer"} {
		_ = overrideCmd.MarkFlagRequired(f)
	}

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(overrideCmd)
}

func parseDecision(s string) (model.Decision, bool) {
	switch d := model.Decision(s); d {
	case model.DecisionProceed, model.DecisionFix, model.DecisionAbort:
		return d, true
	}
	return "", false
}
