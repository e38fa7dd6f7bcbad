package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/db"
	"github.com/sells-group/dataset-audit/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS audit_reports (
	audit_id     TEXT PRIMARY KEY,
	snapshot_id  TEXT NOT NULL,
	decision     TEXT NOT NULL,
	report       JSONB NOT NULL,
	record_hash  TEXT NOT NULL DEFAULT '',
	generated_at TIMESTAMPTZ NOT NULL,
	stored_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_overrides (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq           BIGSERIAL,
	audit_id      TEXT NOT NULL REFERENCES audit_reports(audit_id),
	action        TEXT NOT NULL,
	justification TEXT NOT NULL,
	reviewer_id   TEXT NOT NULL,
	reviewed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_reports_decision ON audit_reports(decision);
CREATE INDEX IF NOT EXISTS idx_audit_reports_snapshot ON audit_reports(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_audit_reports_stored_at ON audit_reports(stored_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_overrides_audit_id ON audit_overrides(audit_id, reviewed_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const postgresUpsertReport = `INSERT INTO audit_reports (audit_id, snapshot_id, decision, report, record_hash, generated_at, stored_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (audit_id) DO UPDATE SET
		report = EXCLUDED.report,
		record_hash = EXCLUDED.record_hash,
		generated_at = EXCLUDED.generated_at,
		stored_at = EXCLUDED.stored_at`

var reportColumns = []string{"audit_id", "snapshot_id", "decision", "report", "record_hash", "generated_at", "stored_at"}

func reportRow(r model.Report, hash string, storedAt time.Time) ([]any, error) {
	reportJSON, err := json.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal report")
	}
	return []any{
		r.AuditID, r.DatasetSnapshot.SnapshotID, string(r.Decision),
		reportJSON, hash, r.GeneratedAt.UTC(), storedAt.UTC(),
	}, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, report model.Report, recordHash string) error {
	row, err := reportRow(report, recordHash, time.Now())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, postgresUpsertReport, row...)
	return eris.Wrapf(err, "postgres: save report %s", report.AuditID)
}

// ImportReports bulk upserts reports through COPY into a staging table.
func (s *PostgresStore) ImportReports(ctx context.Context, reports []model.StoredReport) (int64, error) {
	now := time.Now()
	rows := make([][]any, 0, len(reports))
	for _, sr := range reports {
		storedAt := sr.StoredAt
		if storedAt.IsZero() {
			storedAt = now
		}
		row, err := reportRow(sr.Report, sr.RecordHash, storedAt)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "audit_reports",
		Columns:      reportColumns,
		ConflictKeys: []string{"audit_id"},
		UpdateCols:   []string{"report", "record_hash", "generated_at", "stored_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import reports")
}

func (s *PostgresStore) GetReport(ctx context.Context, auditID string) (*model.StoredReport, error) {
	var (
		reportJSON []byte
		hash       string
		storedAt   time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT report, record_hash, stored_at FROM audit_reports WHERE audit_id = $1`,
		auditID,
	).Scan(&reportJSON, &hash, &storedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get report %s", auditID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", auditID)
	}
	return decodeReport(reportJSON, hash, storedAt)
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.StoredReport, error) {
	query := `SELECT report, record_hash, stored_at FROM audit_reports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Decision != "" {
		query += fmt.Sprintf(` AND decision = $%d`, argIdx)
		args = append(args, string(filter.Decision))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY stored_at DESC, audit_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.StoredReport
	for rows.Next() {
		var (
			reportJSON []byte
			hash       string
			storedAt   time.Time
		)
		if err := rows.Scan(&reportJSON, &hash, &storedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		sr, err := decodeReport(reportJSON, hash, storedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, *sr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) RecordOverride(ctx context.Context, o model.Override) (*model.Override, error) {
	if err := validateOverride(o); err != nil {
		return nil, err
	}
	o.ID = uuid.New().String()
	if o.ReviewedAt.IsZero() {
		o.ReviewedAt = time.Now()
	}
	o.ReviewedAt = o.ReviewedAt.UTC()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO audit_overrides (id, audit_id, action, justification, reviewer_id, reviewed_at)
		 SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::timestamptz
		 WHERE EXISTS (SELECT 1 FROM audit_reports WHERE audit_id = $2)`,
		o.ID, o.AuditID, string(o.Action), o.Justification, o.ReviewerID, o.ReviewedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record override for %s", o.AuditID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record override for %s", o.AuditID)
	}
	return &o, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, auditID string) (*model.HistoryEntry, error) {
	var (
		decision string
		storedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT decision, stored_at FROM audit_reports WHERE audit_id = $1`, auditID,
	).Scan(&decision, &storedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get history %s", auditID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get history %s", auditID)
	}

	var (
		o      model.Override
		action string
		latest *model.Override
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, audit_id, action, justification, reviewer_id, reviewed_at
		 FROM audit_overrides WHERE audit_id = $1
		 ORDER BY reviewed_at DESC, seq DESC LIMIT 1`,
		auditID,
	).Scan(&o.ID, &o.AuditID, &action, &o.Justification, &o.ReviewerID, &o.ReviewedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, eris.Wrapf(err, "postgres: get override %s", auditID)
	default:
		o.Action = model.OverrideAction(action)
		o.ReviewedAt = o.ReviewedAt.UTC()
		latest = &o
	}

	entry := model.NewHistoryEntry(auditID, model.Decision(decision), latest, storedAt.UTC())
	return &entry, nil
}
