package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/explain"
	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/pipeline"
	"github.com/sells-group/dataset-audit/internal/report"
	"github.com/sells-group/dataset-audit/internal/snapshot"
	"github.com/sells-group/dataset-audit/internal/table"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit one dataset and record the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dataPath, _ := cmd.Flags().GetString("data")
		metaPath, _ := cmd.Flags().GetString("metadata")
		notes, _ := cmd.Flags().GetString("notes")
		noLedger, _ := cmd.Flags().GetBool("no-ledger")
		withExplain, _ := cmd.Flags().GetBool("explain")
		audienceFlag, _ := cmd.Flags().GetString("audience")
		outPath, _ := cmd.Flags().GetString("output")
		pdfPath, _ := cmd.Flags().GetString("pdf")

		if audienceFlag == "" {
			audienceFlag = cfg.Explain.Audience
		}
		audience, ok := explain.ParseAudience(audienceFlag)
		if !ok {
			return eris.Errorf("unknown audience %q (engineer, executive, auditor)", audienceFlag)
		}

		env, err := initAuditor(ctx, cfg, !noLedger)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Auditor.Audit(ctx, pipeline.Request{DataPath: dataPath, MetadataPath: metaPath, Notes: notes})
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		formatWarnings(os.Stderr, res.Warnings)

		if outPath != "" {
			if err := report.WriteJSONFile(outPath, res.Report); err != nil {
				return err
			}
		} else if err := report.WriteJSON(os.Stdout, res.Report); err != nil {
			return err
		}

		if pdfPath != "" {
			if err := report.WritePDF(pdfPath, res.Report, &res.Trace); err != nil {
				return err
			}
		}

		formatDecision(os.Stderr, res)

		if withExplain || cfg.Explain.Enabled {
			resp := env.Auditor.Explain(ctx, res, audience)
			formatExplanation(os.Stderr, resp)
		}

		zap.L().Info("audit finished",
			zap.String("audit_id", res.Report.AuditID),
			zap.String("decision", string(res.Report.Decision)),
			zap.String("record_hash", res.RecordHash),
		)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <file>",
	Short: "Print the content-addressed snapshot of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, warns, err := buildSnapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		formatWarnings(os.Stderr, warns)
		return writeIndented(os.Stdout, snap)
	},
}

// buildSnapshot loads a dataset and fingerprints it without running any checks.
func buildSnapshot(ctx context.Context, path string) (model.Snapshot, []model.IngestionWarning, error) {
	tbl, warns, err := table.Load(ctx, path)
	if err != nil {
		return model.Snapshot{}, nil, eris.Wrap(err, "snapshot")
	}
	snap, err := snapshot.Build(path, tbl)
	if err != nil {
		return model.Snapshot{}, nil, eris.Wrap(err, "snapshot")
	}
	return snap, warns, nil
}

func init() {
	auditCmd.Flags().String("data", "", "dataset file (csv, tsv, xlsx, json)")
	auditCmd.Flags().String("metadata", "", "metadata file (yaml or json)")
	auditCmd.Flags().String("notes", "", "free-text notes attached to the report")
	auditCmd.Flags().Bool("no-ledger", false, "do not append the report to the ledger or store")
	auditCmd.Flags().Bool("explain", false, "print a non-authoritative explanation")
	auditCmd.Flags().String("audience", "", "explanation audience (engineer, executive, auditor)")
	auditCmd.Flags().String("output", "", "write the report JSON to this file instead of stdout")
	auditCmd.Flags().String("pdf", "", "also render the report as a PDF at this path")
	_ = auditCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(snapshotCmd)
}
