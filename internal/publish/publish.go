// Package publish writes the daily aggregate tables to the datasite.
package publish

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/datasite"
	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/resilience"
)

// Error reports a failed artifact write.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return "publish " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Artifacts holds the paths written by Publish.
type Artifacts struct {
	PrivatePath string `json:"private_path"`
	PublicPath  string `json:"public_path"`
	Days        int    `json:"days"`
}

// Publisher writes the exact table to the owner-only folder and the noised
// table to the app folder shared with the aggregator.
type Publisher struct {
	sink       datasite.Sink
	app        string
	aggregator string
	retry      resilience.RetryConfig
	log        *zap.Logger
}

// New returns a Publisher for app whose public output is readable by aggregator.
func New(sink datasite.Sink, app, aggregator string) *Publisher {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("publish", "write")
	return &Publisher{
		sink:       sink,
		app:        app,
		aggregator: aggregator,
		retry:      retry,
		log:        zap.L().With(zap.String("component", "publish")),
	}
}

// FileName is the artifact name used in both folders.
func (p *Publisher) FileName() string {
	return p.app + ".json"
}

// Publish prepares both folders and overwrites both artifacts.
func (p *Publisher) Publish(ctx context.Context, raw []model.DailyRawAggregate, private []model.DailyPrivateAggregate) (*Artifacts, error) {
	publicDir := p.sink.APIData(p.app)
	if err := p.sink.CreateRestrictedFolder(publicDir, []string{p.aggregator}); err != nil {
		return nil, &Error{Path: publicDir, Err: err}
	}
	privateDir, err := p.sink.CreatePrivateFolder(p.sink.DatasitePath())
	if err != nil {
		return nil, &Error{Path: filepath.Join(p.sink.DatasitePath(), "private"), Err: err}
	}

	rawTable, err := RawTable(raw)
	if err != nil {
		return nil, &Error{Path: privateDir, Err: err}
	}
	privateTable, err := PrivateTable(private)
	if err != nil {
		return nil, &Error{Path: publicDir, Err: err}
	}

	art := &Artifacts{
		PrivatePath: filepath.Join(privateDir, p.FileName()),
		PublicPath:  filepath.Join(publicDir, p.FileName()),
		Days:        len(raw),
	}
	if err := p.write(ctx, art.PrivatePath, rawTable); err != nil {
		return nil, err
	}
	if err := p.write(ctx, art.PublicPath, privateTable); err != nil {
		return nil, err
	}

	p.log.Info("publish: artifacts written",
		zap.String("private", art.PrivatePath),
		zap.String("public", art.PublicPath),
		zap.Int("days", art.Days),
	)
	return art, nil
}

func (p *Publisher) write(ctx context.Context, path string, data []byte) error {
	err := resilience.Do(ctx, p.retry, func(context.Context) error {
		return p.sink.WriteFile(path, data)
	})
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

// RawTable encodes exact aggregates as {"<date>": {"step_count": n, "step_entries": n}}.
func RawTable(rows []model.DailyRawAggregate) ([]byte, error) {
	table := make(map[string]map[string]float64, len(rows))
	for _, r := range rows {
		table[r.Date] = r.Metrics()
	}
	data, err := json.Marshal(table)
	return data, eris.Wrap(err, "publish: encode raw table")
}

// PrivateTable encodes noised aggregates as {"<date>": {"dp_step_count": n, "dp_step_entries": n}}.
func PrivateTable(rows []model.DailyPrivateAggregate) ([]byte, error) {
	table := make(map[string]map[string]float64, len(rows))
	for _, r := range rows {
		table[r.Date] = r.Metrics()
	}
	data, err := json.Marshal(table)
	return data, eris.Wrap(err, "publish: encode private table")
}
