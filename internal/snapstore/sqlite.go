package snapstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "catalog.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	generation INTEGER NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (provider, generation)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_snapshots_provider ON snapshots(provider, generation);
CREATE INDEX IF NOT EXISTS idx_runs_provider_kind ON runs(provider, kind, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, provider string) (*snapshot.Snapshot, error) {
	return s.snapshotAt(ctx, provider, 0)
}

func (s *SQLiteStore) PreviousSnapshot(ctx context.Context, provider string) (*snapshot.Snapshot, error) {
	return s.snapshotAt(ctx, provider, 1)
}

// snapshotAt loads the snapshot offset generations behind the latest.
func (s *SQLiteStore) snapshotAt(ctx context.Context, provider string, offset int) (*snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE provider = ?
		 ORDER BY generation DESC LIMIT 1 OFFSET ?`,
		provider, offset,
	)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load snapshot for %s", provider)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal snapshot for %s", provider)
	}
	return &snap, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, provider string, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal snapshot for %s", provider)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback()

	var gen sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(generation) FROM snapshots WHERE provider = ?`, provider,
	).Scan(&gen)
	if err != nil {
		return eris.Wrapf(err, "sqlite: current generation for %s", provider)
	}
	next := gen.Int64 + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, provider, generation, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), provider, next, string(data), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert snapshot for %s", provider)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE provider = ? AND generation <= ?`,
		provider, next-keepGenerations,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prune snapshots for %s", provider)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func (s *SQLiteStore) StartRun(ctx context.Context, provider string, kind RunKind) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, provider, kind, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, provider, string(kind), string(RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run for %s", provider)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(RunStatusFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, provider string, kind RunKind) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT finished_at FROM runs
		 WHERE provider = ? AND kind = ? AND status = ?
		 ORDER BY finished_at DESC LIMIT 1`,
		provider, string(kind), string(RunStatusComplete),
	)

	var finished time.Time
	err := row.Scan(&finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", provider)
	}
	return &finished, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, provider, kind, status, summary, error, started_at, finished_at FROM runs WHERE 1=1`
	var args []any

	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var kind, status string
	var summaryJSON, errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Provider, &kind, &status, &summaryJSON, &errMsg, &r.StartedAt, &finished)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Kind = RunKind(kind)
	r.Status = RunStatus(status)
	r.Error = errMsg.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		r.Summary = &RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
		}
	}
	return &r, nil
}
