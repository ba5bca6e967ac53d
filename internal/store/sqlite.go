package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/health-steps/internal/db"
	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	retry resilience.RetryConfig
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store.sqlite", "write")
	return &SQLiteStore{db: db, retry: retry}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS health_fingerprints (
	name        TEXT PRIMARY KEY,
	hash        TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS health_runs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	digest       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	records      INTEGER NOT NULL DEFAULT 0,
	days         INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_health_runs_name_started ON health_runs(name, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetFingerprint(ctx context.Context, name string) (*model.Fingerprint, error) {
	var fp model.Fingerprint
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, recorded_at FROM health_fingerprints WHERE name = ?`, name,
	).Scan(&fp.Hash, &fp.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptError{Name: name, Err: eris.Wrap(err, "sqlite: get fingerprint")}
	}
	return checkFingerprint(name, &fp)
}

func (s *SQLiteStore) PutFingerprint(ctx context.Context, name string, fp model.Fingerprint) error {
	query, err := db.UpsertSQL(fingerprintUpsert, db.Question)
	if err != nil {
		return err
	}
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, name, fp.Hash, fp.Timestamp.UTC())
		return eris.Wrapf(err, "sqlite: put fingerprint %s", name)
	})
}

func (s *SQLiteStore) DeleteFingerprint(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM health_fingerprints WHERE name = ?`, name)
	return eris.Wrapf(err, "sqlite: delete fingerprint %s", name)
}

func (s *SQLiteStore) StartRun(ctx context.Context, name, digest string) (*model.RunRecord, error) {
	run := model.RunRecord{
		ID:        uuid.New().String(),
		Name:      name,
		Digest:    digest,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_runs (id, name, digest, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Digest, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, outcome model.RunOutcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE health_runs SET status = ?, records = ?, days = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(outcome.Status), outcome.Records, outcome.Days, outcome.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, name string, limit int) ([]model.RunRecord, error) {
	query := `SELECT id, name, digest, status, records, days, error, started_at, completed_at FROM health_runs WHERE 1=1`
	var args []any

	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	if limit <= 0 {
		limit = defaultRunLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.Digest, &r.Status, &r.Records, &r.Days, &r.Error, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
