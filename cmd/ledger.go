package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/model"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify the hash-chained audit ledger",
}

// -- ledger verify --

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every record hash and check the chain",
	RunE: func(cmd *cobra.Command, _ []string) error {
		vr, err := ledger.Verify(ledgerPath(cmd))
		if err != nil {
			return eris.Wrap(err, "ledger verify")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := writeIndented(os.Stdout, vr); err != nil {
				return err
			}
		} else {
			formatVerify(os.Stdout, vr)
		}
		if !vr.Valid {
			return eris.Errorf("ledger chain broken at record %d", vr.FirstInvalid)
		}
		return nil
	},
}

// -- ledger list --

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		records, err := ledger.ReadAll(ledgerPath(cmd))
		if err != nil {
			return eris.Wrap(err, "ledger list")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "Ledger is empty.")
			return nil
		}
		formatLedgerList(os.Stdout, records)
		return nil
	},
}

// -- ledger show --

var ledgerShowCmd = &cobra.Command{
	Use:   "show <audit-id>",
	Short: "Print every ledger record for an audit id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := ledger.ReadAll(ledgerPath(cmd))
		if err != nil {
			return eris.Wrap(err, "ledger show")
		}
		matches := recordsFor(records, args[0])
		if len(matches) == 0 {
			return eris.Errorf("no ledger records for audit %s", args[0])
		}
		return writeIndented(os.Stdout, matches)
	},
}

// -- ledger import --

var ledgerImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Rebuild the history store from the ledger",
	Long:  "Verifies the ledger, then upserts every record into the configured history store. The ledger is never modified.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path := ledgerPath(cmd)

		vr, err := ledger.Verify(path)
		if err != nil {
			return eris.Wrap(err, "ledger import")
		}
		if !vr.Valid {
			return eris.Errorf("refusing to import: ledger chain broken at record %d (%s)", vr.FirstInvalid, vr.Reason)
		}

		records, err := ledger.ReadAll(path)
		if err != nil {
			return eris.Wrap(err, "ledger import")
		}

		st, err := requireStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportReports(ctx, storedFromLedger(records))
		if err != nil {
			return eris.Wrap(err, "ledger import")
		}
		zap.L().Info("ledger imported", zap.String("path", path), zap.Int64("reports", n))
		fmt.Fprintf(os.Stdout, "Imported %d reports from %s.\n", n, path)
		return nil
	},
}

func init() {
	ledgerCmd.PersistentFlags().String("path", "", "ledger file (default from config)")
	ledgerVerifyCmd.Flags().Bool("json", false, "print the verification result as JSON")

	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerImportCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func ledgerPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("path"); p != "" {
		return p
	}
	return cfg.Ledger.Path
}

func recordsFor(records []model.LedgerRecord, auditID string) []model.LedgerRecord {
	var out []model.LedgerRecord
	for _, rec := range records {
		if rec.AuditID == auditID {
			out = append(out, rec)
		}
	}
	return out
}

// storedFromLedger keeps the last record per audit id, matching the
// store's upsert semantics.
func storedFromLedger(records []model.LedgerRecord) []model.StoredReport {
	index := make(map[string]int, len(records))
	var out []model.StoredReport
	for _, rec := range records {
		sr := model.StoredReport{Report: rec.Report, RecordHash: rec.RecordHash, StoredAt: rec.GeneratedAt}
		if i, ok := index[rec.AuditID]; ok {
			out[i] = sr
			continue
		}
		index[rec.AuditID] = len(out)
		out = append(out, sr)
	}
	return out
}
