package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dataset-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS audit_reports (
	audit_id     TEXT PRIMARY KEY,
	snapshot_id  TEXT NOT NULL,
	decision     TEXT NOT NULL,
	report       TEXT NOT NULL,
	record_hash  TEXT NOT NULL DEFAULT '',
	generated_at DATETIME NOT NULL,
	stored_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_overrides (
	id            TEXT PRIMARY KEY,
	audit_id      TEXT NOT NULL REFERENCES audit_reports(audit_id),
	action        TEXT NOT NULL,
	justification TEXT NOT NULL,
	reviewer_id   TEXT NOT NULL,
	reviewed_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_reports_decision ON audit_reports(decision);
CREATE INDEX IF NOT EXISTS idx_audit_reports_snapshot ON audit_reports(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_audit_overrides_audit_id ON audit_overrides(audit_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertReport = `INSERT INTO audit_reports (audit_id, snapshot_id, decision, report, record_hash, generated_at, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(audit_id) DO UPDATE SET
		report = excluded.report,
		record_hash = excluded.record_hash,
		generated_at = excluded.generated_at,
		stored_at = excluded.stored_at`

func (s *SQLiteStore) SaveReport(ctx context.Context, report model.Report, recordHash string) error {
	return saveSQLite(ctx, s.db, report, recordHash, time.Now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveSQLite(ctx context.Context, ex execer, report model.Report, recordHash string, storedAt time.Time) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = ex.ExecContext(ctx, sqliteUpsertReport,
		report.AuditID, report.DatasetSnapshot.SnapshotID, string(report.Decision),
		string(reportJSON), recordHash, report.GeneratedAt.UTC(), storedAt,
	)
	return eris.Wrapf(err, "sqlite: save report %s", report.AuditID)
}

// ImportReports upserts reports in one transaction, typically replayed from
// the ledger. StoredAt is kept when set.
func (s *SQLiteStore) ImportReports(ctx context.Context, reports []model.StoredReport) (int64, error) {
	if len(reports) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, sr := range reports {
		storedAt := sr.StoredAt
		if storedAt.IsZero() {
			storedAt = now
		}
		if err := saveSQLite(ctx, tx, sr.Report, sr.RecordHash, storedAt.UTC()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return int64(len(reports)), nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, auditID string) (*model.StoredReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT report, record_hash, stored_at FROM audit_reports WHERE audit_id = ?`,
		auditID,
	)
	sr, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s", auditID)
	}
	return sr, err
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.StoredReport, error) {
	query := `SELECT report, record_hash, stored_at FROM audit_reports WHERE 1=1`
	var args []any

	if filter.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(filter.Decision))
	}
	query += ` ORDER BY stored_at DESC, audit_id LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StoredReport
	for rows.Next() {
		sr, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) RecordOverride(ctx context.Context, o model.Override) (*model.Override, error) {
	if err := validateOverride(o); err != nil {
		return nil, err
	}
	o.ID = uuid.New().String()
	if o.ReviewedAt.IsZero() {
		o.ReviewedAt = time.Now()
	}
	o.ReviewedAt = o.ReviewedAt.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_overrides (id, audit_id, action, justification, reviewer_id, reviewed_at)
		 SELECT ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM audit_reports WHERE audit_id = ?)`,
		o.ID, o.AuditID, string(o.Action), o.Justification, o.ReviewerID, o.ReviewedAt, o.AuditID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record override for %s", o.AuditID)
	}
	if err := checkRowsAffected(res, o.AuditID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, auditID string) (*model.HistoryEntry, error) {
	var (
		decision string
		storedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT decision, stored_at FROM audit_reports WHERE audit_id = ?`, auditID,
	).Scan(&decision, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s", auditID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get history %s", auditID)
	}

	var o model.Override
	var action string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, audit_id, action, justification, reviewer_id, reviewed_at
		 FROM audit_overrides WHERE audit_id = ?
		 ORDER BY reviewed_at DESC, rowid DESC LIMIT 1`,
		auditID,
	).Scan(&o.ID, &o.AuditID, &action, &o.Justification, &o.ReviewerID, &o.ReviewedAt)

	var latest *model.Override
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrapf(err, "sqlite: get override %s", auditID)
	default:
		o.Action = model.OverrideAction(action)
		o.ReviewedAt = o.ReviewedAt.UTC()
		latest = &o
	}

	entry := model.NewHistoryEntry(auditID, model.Decision(decision), latest, storedAt.UTC())
	return &entry, nil
}

// helpers

func checkRowsAffected(res sql.Result, auditID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s", auditID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReport(row scannable) (*model.StoredReport, error) {
	var (
		reportJSON string
		hash       string
		storedAt   time.Time
	)
	if err := row.Scan(&reportJSON, &hash, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan report")
	}
	return decodeReport([]byte(reportJSON), hash, storedAt)
}
