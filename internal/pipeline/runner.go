// Package pipeline runs one pass of the daily step aggregation: gate,
// extract, clean, aggregate, publish and record.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/aggregate"
	"github.com/sells-group/health-steps/internal/clean"
	"github.com/sells-group/health-steps/internal/config"
	"github.com/sells-group/health-steps/internal/datasite"
	"github.com/sells-group/health-steps/internal/extract"
	"github.com/sells-group/health-steps/internal/fingerprint"
	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/privacy"
	"github.com/sells-group/health-steps/internal/publish"
	"github.com/sells-group/health-steps/internal/store"
)

// RunOpts configures a single run.
type RunOpts struct {
	Force bool // run even when the export is unchanged
}

// Result summarizes a run.
type Result struct {
	RunID     string                        `json:"run_id,omitempty"`
	Skipped   bool                          `json:"skipped"`
	Reason    string                        `json:"reason"`
	Digest    string                        `json:"digest"`
	Records   int                           `json:"records"`
	Kept      int                           `json:"kept"`
	Days      int                           `json:"days"`
	Artifacts *publish.Artifacts            `json:"artifacts,omitempty"`
	Raw       []model.DailyRawAggregate     `json:"-"`
	Private   []model.DailyPrivateAggregate `json:"-"`
}

// Runner wires the pipeline stages together.
type Runner struct {
	cfg       *config.Config
	store     store.Store
	gate      *fingerprint.Gate
	publisher *publish.Publisher
	budget    privacy.Budget
	minDate   time.Time
	noise     privacy.Noise
}

// NewRunner validates cfg and builds a Runner. Configuration problems are
// reported here, before the export or the store is touched.
func NewRunner(cfg *config.Config, st store.Store, sink datasite.Sink, noise privacy.Noise, opts RunOpts) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bounds, err := privacy.ParseBounds(cfg.Parameters.Bounds, cfg.Parameters.LowerBound, cfg.Parameters.UpperBound)
	if err != nil {
		return nil, err
	}
	budget := privacy.Budget{Epsilon: cfg.Parameters.Epsilon, Bounds: bounds}
	if err := budget.Validate(); err != nil {
		return nil, err
	}

	minDate, err := cfg.MinDate()
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:   cfg,
		store: st,
		gate: fingerprint.NewGate(st, cfg.APIName,
			fingerprint.WithForce(opts.Force),
			fingerprint.WithDevMode(cfg.Dev.Enabled),
		),
		publisher: publish.New(sink, cfg.APIName, cfg.AggregatorDatasite),
		budget:    budget,
		minDate:   minDate,
		noise:     noise,
	}, nil
}

// Gate exposes the change gate for status reporting.
func (r *Runner) Gate() *fingerprint.Gate {
	return r.gate
}

// Run processes the export once. An unchanged export returns a skipped
// Result and no error. The fingerprint is recorded only after both
// artifacts are written.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("app", r.cfg.APIName))
	path := r.cfg.Filepath

	decision, err := r.gate.ShouldRun(ctx, path)
	var srcErr *fingerprint.SourceError
	if errors.As(err, &srcErr) {
		return nil, &extract.Error{Path: path, Err: srcErr.Err}
	}
	if err != nil {
		return nil, err
	}
	res := &Result{Reason: decision.Reason, Digest: decision.Digest}

	if !decision.Run {
		log.Info("export unchanged, skipping", zap.String("digest", decision.Digest))
		res.Skipped = true
		r.recordSkip(ctx, log, decision.Digest)
		return res, nil
	}

	log.Info("starting run", zap.String("reason", decision.Reason), zap.String("digest", decision.Digest))
	start := time.Now()
	res.RunID = r.startRun(ctx, log, decision.Digest)

	if err := r.process(ctx, log, res); err != nil {
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		r.finishRun(ctx, log, res, err)
		return res, err
	}

	if err := r.gate.Record(ctx, decision.Digest); err != nil {
		err = eris.Wrap(err, "pipeline: record fingerprint")
		log.Error("run failed", zap.Error(err))
		r.finishRun(ctx, log, res, err)
		return res, err
	}

	r.finishRun(ctx, log, res, nil)
	log.Info("run complete",
		zap.Int("records", res.Records),
		zap.Int("kept", res.Kept),
		zap.Int("days", res.Days),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (r *Runner) process(ctx context.Context, log *zap.Logger, res *Result) error {
	path := r.cfg.Filepath

	records, err := extract.Extract(ctx, path, extract.Options{
		Type:   r.cfg.Parameters.Type,
		Member: r.cfg.Extract.Member,
	})
	if err != nil {
		return err
	}
	res.Records = len(records)
	if len(records) == 0 && !r.cfg.Extract.AllowEmpty {
		return &extract.Error{Path: path, Err: eris.Errorf("no %s records found", r.cfg.Parameters.Type)}
	}

	obs, stats := clean.Clean(records, clean.Options{MinDate: r.minDate})
	res.Kept = stats.Kept
	log.Info("cleaned records",
		zap.Int("input", stats.Input),
		zap.Int("kept", stats.Kept),
		zap.Any("dropped", stats.Dropped),
	)

	res.Raw = aggregate.Raw(obs)
	res.Private, err = aggregate.Private(obs, r.budget, r.noise)
	if err != nil {
		return err
	}
	res.Days = len(res.Raw)

	res.Artifacts, err = r.publisher.Publish(ctx, res.Raw, res.Private)
	return err
}

// Run history is best-effort: failures are logged and never fail the run.

func (r *Runner) startRun(ctx context.Context, log *zap.Logger, digest string) string {
	run, err := r.store.StartRun(ctx, r.cfg.APIName, digest)
	if err != nil {
		log.Warn("failed to record run start", zap.Error(err))
		return ""
	}
	return run.ID
}

func (r *Runner) finishRun(ctx context.Context, log *zap.Logger, res *Result, runErr error) {
	if res.RunID == "" {
		return
	}
	outcome := model.RunOutcome{
		Status:  model.RunStatusComplete,
		Records: int64(res.Records),
		Days:    int64(res.Days),
	}
	if runErr != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Error = runErr.Error()
	}
	if err := r.store.FinishRun(ctx, res.RunID, outcome); err != nil {
		log.Warn("failed to record run outcome", zap.Error(err))
	}
}

func (r *Runner) recordSkip(ctx context.Context, log *zap.Logger, digest string) {
	runID := r.startRun(ctx, log, digest)
	if runID == "" {
		return
	}
	if err := r.store.FinishRun(ctx, runID, model.RunOutcome{Status: model.RunStatusSkipped}); err != nil {
		log.Warn("failed to record skipped run", zap.Error(err))
	}
}
