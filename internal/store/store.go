// Package store persists fingerprints and run history.
package store

import (
	"context"

	"github.com/sells-group/health-steps/internal/db"
	"github.com/sells-group/health-steps/internal/model"
)

// Store defines the persistence interface for the pipeline's cross-run state.
type Store interface {
	// Fingerprints. GetFingerprint returns (nil, nil) when none is stored and
	// a *CorruptError when the stored value cannot be trusted.
	GetFingerprint(ctx context.Context, name string) (*model.Fingerprint, error)
	PutFingerprint(ctx context.Context, name string, fp model.Fingerprint) error
	DeleteFingerprint(ctx context.Context, name string) error

	// Run history
	StartRun(ctx context.Context, name, digest string) (*model.RunRecord, error)
	FinishRun(ctx context.Context, runID string, outcome model.RunOutcome) error
	ListRuns(ctx context.Context, name string, limit int) ([]model.RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CorruptError reports a stored fingerprint that cannot be read back.
type CorruptError struct {
	Name string
	Err  error
}

func (e *CorruptError) Error() string {
	return "store: corrupt fingerprint " + e.Name + ": " + e.Err.Error()
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

const defaultRunLimit = 20

var fingerprintUpsert = db.UpsertConfig{
	Table:        "health_fingerprints",
	Columns:      []string{"name", "hash", "recorded_at"},
	ConflictKeys: []string{"name"},
}

// checkFingerprint wraps validation failures as CorruptError.
func checkFingerprint(name string, fp *model.Fingerprint) (*model.Fingerprint, error) {
	if err := fp.Validate(); err != nil {
		return nil, &CorruptError{Name: name, Err: err}
	}
	return fp, nil
}
