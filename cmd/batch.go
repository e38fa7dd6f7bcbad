package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/pipeline"
	"github.com/sells-group/dataset-audit/internal/table"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Audit every dataset listed in a manifest",
	Long:  "Reads a CSV manifest of data_path,metadata_path[,notes] rows and audits each dataset concurrently. Relative paths resolve against the manifest's directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		manifestPath, _ := cmd.Flags().GetString("manifest")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		f, err := os.Open(manifestPath)
		if err != nil {
			return eris.Wrap(err, "open manifest")
		}
		defer f.Close() //nolint:errcheck

		entries, err := parseManifest(ctx, f, filepath.Dir(manifestPath))
		if err != nil {
			return err
		}

		env, err := initAuditor(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		summary := processBatch(ctx, entries, concurrency, env.Auditor.Audit)
		formatBatchSummary(os.Stdout, summary)
		if summary.Failed > 0 {
			return eris.Errorf("batch %s: %d of %d audits failed", summary.ID, summary.Failed, summary.Total)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().String("manifest", "", "CSV manifest of data_path,metadata_path[,notes]")
	batchCmd.Flags().Int("concurrency", 0, "max concurrent audits (default from config)")
	_ = batchCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(batchCmd)
}

// parseManifest reads manifest rows. Blank rows and lines starting with '#'
// are skipped, as is a leading data_path header.
func parseManifest(ctx context.Context, r io.Reader, baseDir string) ([]pipeline.Request, error) {
	rowCh, errCh := table.StreamCSV(ctx, r, table.CSVOptions{Comment: '#'})

	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	var (
		out  []pipeline.Request
		line int
	)
	for row := range rowCh {
		line++
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "data_path") {
			continue
		}
		req := pipeline.Request{DataPath: resolve(row[0])}
		if len(row) > 1 {
			req.MetadataPath = resolve(row[1])
		}
		if len(row) > 2 {
			req.Notes = strings.TrimSpace(row[2])
		}
		out = append(out, req)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "parse manifest")
	}
	if len(out) == 0 {
		return nil, eris.New("manifest lists no datasets")
	}
	return out, nil
}

// auditFunc is the callback signature for auditing one dataset.
type auditFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)

// batchSummary aggregates one batch run.
type batchSummary struct {
	ID        string
	Total     int
	Succeeded int64
	Failed    int64
	Decisions map[model.Decision]int
	Duration  time.Duration
}

// processBatch audits entries concurrently. A failed audit is logged and
// counted; it never stops the rest of the batch.
func processBatch(ctx context.Context, entries []pipeline.Request, concurrency int, audit auditFunc) batchSummary {
	if concurrency <= 0 {
		concurrency = 1
	}
	summary := batchSummary{
		ID:        uuid.New().String(),
		Total:     len(entries),
		Decisions: make(map[model.Decision]int),
	}
	log := zap.L().With(zap.String("batch_id", summary.ID))
	log.Info("processing batch",
		zap.Int("datasets", len(entries)),
		zap.Int("concurrency", concurrency),
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		succeeded, failed atomic.Int64
		mu                sync.Mutex
	)

	for _, req := range entries {
		g.Go(func() error {
			dlog := log.With(zap.String("data", req.DataPath))

			res, err := audit(gctx, req)
			if err != nil {
				failed.Add(1)
				dlog.Error("audit failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			mu.Lock()
			summary.Decisions[res.Report.Decision]++
			mu.Unlock()
			dlog.Info("audit complete",
				zap.String("audit_id", res.Report.AuditID),
				zap.String("decision", string(res.Report.Decision)),
			)
			return nil
		})
	}
	_ = g.Wait()

	summary.Succeeded = succeeded.Load()
	summary.Failed = failed.Load()
	summary.Duration = time.Since(start)

	log.Info("batch complete",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

func formatBatchSummary(out io.Writer, s batchSummary) {
	_, _ = fmt.Fprintf(out, "Batch %s: %d datasets, %d audited, %d failed in %s\n",
		s.ID, s.Total, s.Succeeded, s.Failed, s.Duration.Round(time.Millisecond))
	for _, d := range []model.Decision{model.DecisionProceed, model.DecisionFix, model.DecisionAbort} {
		_, _ = fmt.Fprintf(out, "  %-8s %d\n", d, s.Decisions[d])
	}
}
