package snapstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
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
CREATE TABLE IF NOT EXISTS snapshots (
	id         UUID PRIMARY KEY,
	provider   TEXT NOT NULL,
	generation BIGINT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (provider, generation)
);

CREATE TABLE IF NOT EXISTS runs (
	id          UUID PRIMARY KEY,
	provider    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_snapshots_provider ON snapshots(provider, generation);
CREATE INDEX IF NOT EXISTS idx_runs_provider_kind ON runs(provider, kind, status);
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

func (s *PostgresStore) LoadSnapshot(ctx context.Context, provider string) (*snapshot.Snapshot, error) {
	return s.snapshotAt(ctx, provider, 0)
}

func (s *PostgresStore) PreviousSnapshot(ctx context.Context, provider string) (*snapshot.Snapshot, error) {
	return s.snapshotAt(ctx, provider, 1)
}

func (s *PostgresStore) snapshotAt(ctx context.Context, provider string, offset int) (*snapshot.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM snapshots WHERE provider = $1
		 ORDER BY generation DESC LIMIT 1 OFFSET $2`,
		provider, offset,
	)

	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load snapshot for %s", provider)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal snapshot for %s", provider)
	}
	return &snap, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, provider string, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal snapshot for %s", provider)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx)

	var gen *int64
	err = tx.QueryRow(ctx,
		`SELECT MAX(generation) FROM snapshots WHERE provider = $1`, provider,
	).Scan(&gen)
	if err != nil {
		return eris.Wrapf(err, "postgres: current generation for %s", provider)
	}
	var next int64 = 1
	if gen != nil {
		next = *gen + 1
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO snapshots (id, provider, generation, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), provider, next, data, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert snapshot for %s", provider)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM snapshots WHERE provider = $1 AND generation <= $2`,
		provider, next-keepGenerations,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: prune snapshots for %s", provider)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

func (s *PostgresStore) StartRun(ctx context.Context, provider string, kind RunKind) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, provider, kind, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, provider, string(kind), string(RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start run for %s", provider)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
		string(RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(RunStatusFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) LastSuccess(ctx context.Context, provider string, kind RunKind) (*time.Time, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT finished_at FROM runs
		 WHERE provider = $1 AND kind = $2 AND status = $3
		 ORDER BY finished_at DESC LIMIT 1`,
		provider, string(kind), string(RunStatusComplete),
	)

	var finished time.Time
	err := row.Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last success for %s", provider)
	}
	return &finished, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, provider, kind, status, summary, error, started_at, finished_at FROM runs WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Provider != "" {
		query += ` AND provider = ` + arg(filter.Provider)
	}
	if filter.Kind != "" {
		query += ` AND kind = ` + arg(string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var kind, status string
		var summaryJSON []byte
		var errMsg *string
		var finished *time.Time

		if err := rows.Scan(&r.ID, &r.Provider, &kind, &status, &summaryJSON, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Kind = RunKind(kind)
		r.Status = RunStatus(status)
		if errMsg != nil {
			r.Error = *errMsg
		}
		r.FinishedAt = finished
		if len(summaryJSON) > 0 {
			r.Summary = &RunSummary{}
			if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
