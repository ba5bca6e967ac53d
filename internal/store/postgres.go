package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/health-steps/internal/db"
	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/resilience"
)

// PostgresStore implements Store on a Postgres connection pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// NewPostgres connects to Postgres and returns a store backed by a small pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 2
	pgxCfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := NewPostgresWithPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store.postgres", "write")
	return &PostgresStore{pool: pool, retry: retry}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS health_fingerprints (
	name        TEXT PRIMARY KEY,
	hash        TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS health_runs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	digest       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	records      BIGINT NOT NULL DEFAULT 0,
	days         BIGINT NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_health_runs_name_started ON health_runs(name, started_at DESC);
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

func (s *PostgresStore) GetFingerprint(ctx context.Context, name string) (*model.Fingerprint, error) {
	var fp model.Fingerprint
	err := s.pool.QueryRow(ctx,
		`SELECT hash, recorded_at FROM health_fingerprints WHERE name = $1`, name,
	).Scan(&fp.Hash, &fp.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptError{Name: name, Err: eris.Wrap(err, "postgres: get fingerprint")}
	}
	return checkFingerprint(name, &fp)
}

func (s *PostgresStore) PutFingerprint(ctx context.Context, name string, fp model.Fingerprint) error {
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		err := db.Upsert(ctx, s.pool, fingerprintUpsert, name, fp.Hash, fp.Timestamp.UTC())
		return eris.Wrapf(err, "postgres: put fingerprint %s", name)
	})
}

func (s *PostgresStore) DeleteFingerprint(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM health_fingerprints WHERE name = $1`, name)
	return eris.Wrapf(err, "postgres: delete fingerprint %s", name)
}

func (s *PostgresStore) StartRun(ctx context.Context, name, digest string) (*model.RunRecord, error) {
	run := model.RunRecord{
		ID:        uuid.New().String(),
		Name:      name,
		Digest:    digest,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO health_runs (id, name, digest, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Name, run.Digest, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, outcome model.RunOutcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE health_runs SET status = $1, records = $2, days = $3, error = $4, completed_at = now() WHERE id = $5`,
		string(outcome.Status), outcome.Records, outcome.Days, outcome.Error, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, name string, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, digest, status, records, days, error, started_at, completed_at
		 FROM health_runs WHERE ($1 = '' OR name = $1)
		 ORDER BY started_at DESC LIMIT $2`,
		name, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var status string
		if err := rows.Scan(&r.ID, &r.Name, &r.Digest, &status, &r.Records, &r.Days, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
