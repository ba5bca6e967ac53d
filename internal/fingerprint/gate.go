package fingerprint

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/store"
)

// Reasons reported in Decision.Reason.
const (
	ReasonFirstRun  = "no previous fingerprint"
	ReasonChanged   = "content changed"
	ReasonUnchanged = "content unchanged"
	ReasonCorrupt   = "previous fingerprint unreadable"
	ReasonForced    = "forced"
	ReasonDevMode   = "dev mode"
)

// SourceError reports that the export itself could not be hashed.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return "fingerprint: hash " + e.Path + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Decision is the outcome of a gate check.
type Decision struct {
	Run    bool   `json:"run"`
	Digest string `json:"digest"`
	Reason string `json:"reason"`
}

// Option configures a Gate.
type Option func(*Gate)

// WithForce makes every check run regardless of the stored fingerprint.
// The fingerprint is still recorded after a successful run.
func WithForce(force bool) Option {
	return func(g *Gate) { g.force = force }
}

// WithDevMode makes every check run and turns Record into a no-op.
func WithDevMode(dev bool) Option {
	return func(g *Gate) { g.dev = dev }
}

// Gate compares the current export digest against the last recorded one.
type Gate struct {
	store store.Store
	name  string
	force bool
	dev   bool
	now   func() time.Time
	log   *zap.Logger
}

// NewGate returns a Gate that keeps the fingerprint for name in st.
func NewGate(st store.Store, name string, opts ...Option) *Gate {
	g := &Gate{
		store: st,
		name:  name,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "fingerprint"), zap.String("app", name)),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ShouldRun hashes the file at path and reports whether the pipeline must
// run. An unreadable stored fingerprint is treated as absent.
func (g *Gate) ShouldRun(ctx context.Context, path string) (Decision, error) {
	digest, err := Digest(path)
	if err != nil {
		return Decision{}, &SourceError{Path: path, Err: err}
	}
	d := Decision{Run: true, Digest: digest}

	switch {
	case g.dev:
		d.Reason = ReasonDevMode
		return d, nil
	case g.force:
		d.Reason = ReasonForced
		return d, nil
	}

	prev, err := g.store.GetFingerprint(ctx, g.name)
	var corrupt *store.CorruptError
	switch {
	case errors.As(err, &corrupt):
		g.log.Warn("fingerprint: stored value unreadable, running anyway", zap.Error(err))
		d.Reason = ReasonCorrupt
	case err != nil:
		return Decision{}, eris.Wrap(err, "fingerprint: load previous")
	case prev == nil:
		d.Reason = ReasonFirstRun
	case prev.Hash == digest:
		d.Run = false
		d.Reason = ReasonUnchanged
	default:
		d.Reason = ReasonChanged
	}

	g.log.Debug("fingerprint: gate decision",
		zap.Bool("run", d.Run),
		zap.String("reason", d.Reason),
		zap.String("digest", digest),
	)
	return d, nil
}

// Record stores digest as the last successfully processed content.
// In dev mode nothing is written.
func (g *Gate) Record(ctx context.Context, digest string) error {
	if g.dev {
		g.log.Debug("fingerprint: dev mode, not recording")
		return nil
	}
	fp := model.Fingerprint{Hash: digest, Timestamp: g.now().UTC()}
	if err := fp.Validate(); err != nil {
		return eris.Wrap(err, "fingerprint: record")
	}
	return eris.Wrap(g.store.PutFingerprint(ctx, g.name, fp), "fingerprint: record")
}

// Reset removes the stored fingerprint so the next run processes the export.
func (g *Gate) Reset(ctx context.Context) error {
	return eris.Wrap(g.store.DeleteFingerprint(ctx, g.name), "fingerprint: reset")
}

// Last returns the stored fingerprint, or nil if none is recorded.
func (g *Gate) Last(ctx context.Context) (*model.Fingerprint, error) {
	return g.store.GetFingerprint(ctx, g.name)
}
