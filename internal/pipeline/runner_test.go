package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/health-steps/internal/config"
	"github.com/sells-group/health-steps/internal/datasite"
	"github.com/sells-group/health-steps/internal/extract"
	"github.com/sells-group/health-steps/internal/model"
	"github.com/sells-group/health-steps/internal/publish"
	"github.com/sells-group/health-steps/internal/store"
)

const (
	owner      = "alice@openmined.org"
	aggregator = "aggregator@openmined.org"
	app        = "health_steps_counter"
)

const export = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData locale="en_US">
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2024-03-01 08:20:00 -0800" startDate="2024-03-01 08:00:00 -0800" endDate="2024-03-01 08:10:00 -0800" value="100"/>
 <Record type="HKQuantityTypeIdentifierHeartRate" sourceName="Watch" unit="count/min" creationDate="2024-03-01 08:20:00 -0800" startDate="2024-03-01 08:00:00 -0800" endDate="2024-03-01 08:00:00 -0800" value="72"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2024-03-01 12:20:00 -0800" startDate="2024-03-01 12:00:00 -0800" endDate="2024-03-01 12:10:00 -0800" value="200"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2024-03-01 18:20:00 -0800" startDate="2024-03-01 18:00:00 -0800" endDate="2024-03-01 18:10:00 -0800" value="50"/>
</HealthData>
`

// zeroNoise returns its input unchanged.
type zeroNoise struct{}

func (zeroNoise) AddNoiseFloat64(x float64, _ int64, _, _, _ float64) (float64, error) {
	return x, nil
}

func (zeroNoise) AddNoiseInt64(x, _, _ int64, _, _ float64) (int64, error) {
	return x, nil
}

type fixture struct {
	cfg   *config.Config
	store *store.FileStore
	sink  *datasite.Local
}

func newFixture(t *testing.T, content string) *fixture {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "export.xml")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	cfg := &config.Config{
		APIName:            app,
		AggregatorDatasite: aggregator,
		Filepath:           src,
		Parameters: config.ParametersConfig{
			Type:    model.StepCountType,
			Epsilon: 1,
			Bounds:  config.BoundsAutoLocal,
		},
		Extract:  config.ExtractConfig{Member: extract.DefaultMember},
		Store:    config.StoreConfig{Driver: "file", Dir: filepath.Join(dir, "hashes")},
		Datasite: config.DatasiteConfig{Root: filepath.Join(dir, "SyftBox"), Email: owner},
	}

	sink, err := datasite.NewLocal(cfg.Datasite.Root, owner, app)
	require.NoError(t, err)
	return &fixture{cfg: cfg, store: store.NewFile(cfg.Store.Dir), sink: sink}
}

func (f *fixture) runner(t *testing.T, sink datasite.Sink, opts RunOpts) *Runner {
	t.Helper()
	if sink == nil {
		sink = f.sink
	}
	r, err := NewRunner(f.cfg, f.store, sink, zeroNoise{}, opts)
	require.NoError(t, err)
	return r
}

func (f *fixture) fingerprint(t *testing.T) *model.Fingerprint {
	t.Helper()
	fp, err := f.store.GetFingerprint(context.Background(), app)
	require.NoError(t, err)
	return fp
}

func readTable(t *testing.T, path string) map[string]map[string]float64 {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var table map[string]map[string]float64
	require.NoError(t, json.Unmarshal(data, &table))
	return table
}

func TestRunner_EndToEnd(t *testing.T) {
	f := newFixture(t, export)

	res, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 3, res.Kept)
	assert.Equal(t, 1, res.Days)
	assert.Equal(t, []model.DailyRawAggregate{{Date: "2024-03-01", StepCount: 350, StepEntries: 3}}, res.Raw)
	assert.Equal(t, []model.DailyPrivateAggregate{{Date: "2024-03-01", DPStepCount: 350, DPStepEntries: 3}}, res.Private)

	private := readTable(t, res.Artifacts.PrivatePath)
	assert.Equal(t, map[string]map[string]float64{
		"2024-03-01": {"step_count": 350, "step_entries": 3},
	}, private)

	public := readTable(t, res.Artifacts.PublicPath)
	assert.Equal(t, map[string]map[string]float64{
		"2024-03-01": {"dp_step_count": 350, "dp_step_entries": 3},
	}, public)

	fp := f.fingerprint(t)
	require.NotNil(t, fp)
	assert.Equal(t, res.Digest, fp.Hash)

	runs, err := f.store.ListRuns(context.Background(), app, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, int64(3), runs[0].Records)
}

func TestRunner_SecondRunSkips(t *testing.T) {
	f := newFixture(t, export)
	ctx := context.Background()

	first, err := f.runner(t, nil, RunOpts{}).Run(ctx)
	require.NoError(t, err)
	before, err := os.Stat(first.Artifacts.PublicPath)
	require.NoError(t, err)

	second, err := f.runner(t, nil, RunOpts{}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Nil(t, second.Artifacts)
	assert.Equal(t, first.Digest, second.Digest)

	after, err := os.Stat(first.Artifacts.PublicPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	runs, err := f.store.ListRuns(ctx, app, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	statuses := []model.RunStatus{runs[0].Status, runs[1].Status}
	assert.ElementsMatch(t, []model.RunStatus{model.RunStatusComplete, model.RunStatusSkipped}, statuses)
}

func TestRunner_ChangedExportReruns(t *testing.T) {
	f := newFixture(t, export)
	ctx := context.Background()

	first, err := f.runner(t, nil, RunOpts{}).Run(ctx)
	require.NoError(t, err)

	changed := export[:len(export)-len("</HealthData>\n")] +
		` <Record type="HKQuantityTypeIdentifierStepCount" creationDate="2024-03-02 08:20:00 -0800" startDate="2024-03-02 08:00:00 -0800" endDate="2024-03-02 08:10:00 -0800" value="40"/>
</HealthData>
`
	require.NoError(t, os.WriteFile(f.cfg.Filepath, []byte(changed), 0o644))

	second, err := f.runner(t, nil, RunOpts{}).Run(ctx)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.NotEqual(t, first.Digest, second.Digest)
	assert.Equal(t, 2, second.Days)

	public := readTable(t, second.Artifacts.PublicPath)
	assert.Len(t, public, 2)
	for _, date := range []string{"2024-03-01", "2024-03-02"} {
		assert.Contains(t, public[date], model.MetricDPStepCount)
		assert.Contains(t, public[date], model.MetricDPStepEntries)
	}
	assert.Equal(t, second.Digest, f.fingerprint(t).Hash)
}

// brokenSink fails every artifact write.
type brokenSink struct {
	datasite.Sink
}

func (brokenSink) WriteFile(string, []byte) error {
	return os.ErrPermission
}

func TestRunner_PublishFailureLeavesFingerprint(t *testing.T) {
	f := newFixture(t, export)
	ctx := context.Background()

	res, err := f.runner(t, brokenSink{Sink: f.sink}, RunOpts{}).Run(ctx)
	var pe *publish.Error
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.Nil(t, f.fingerprint(t))

	runs, err := f.store.ListRuns(ctx, app, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "publish")

	// The next run retries the same content.
	res, err = f.runner(t, nil, RunOpts{}).Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.NotNil(t, f.fingerprint(t))
}

func TestRunner_ExtractionFailureLeavesFingerprint(t *testing.T) {
	f := newFixture(t, `<HealthData><Record type="HKQuantityTypeIdentifierStepCount" value="1">`)

	_, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	var ee *extract.Error
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Nil(t, f.fingerprint(t))

	_, statErr := os.Stat(f.sink.APIData(app))
	assert.True(t, os.IsNotExist(statErr), "nothing is published")
}

func TestRunner_MissingExport(t *testing.T) {
	f := newFixture(t, export)
	f.cfg.Filepath = filepath.Join(t.TempDir(), "missing.zip")

	_, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	var ee *extract.Error
	require.True(t, errors.As(err, &ee))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunner_NoMatchingRecords(t *testing.T) {
	f := newFixture(t, `<HealthData><Record type="HKQuantityTypeIdentifierHeartRate" value="72" creationDate="2024-03-01" startDate="2024-03-01" endDate="2024-03-01"/></HealthData>`)

	_, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	var ee *extract.Error
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, err.Error(), "no HKQuantityTypeIdentifierStepCount records found")
	assert.Nil(t, f.fingerprint(t))
}

func TestRunner_NoMatchingRecords_AllowEmpty(t *testing.T) {
	f := newFixture(t, `<HealthData></HealthData>`)
	f.cfg.Extract.AllowEmpty = true

	res, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Days)
	assert.Empty(t, readTable(t, res.Artifacts.PublicPath))
	assert.NotNil(t, f.fingerprint(t))
}

func TestRunner_RejectsEpsilonBeforeIO(t *testing.T) {
	for _, eps := range []float64{0, -1} {
		f := newFixture(t, export)
		f.cfg.Parameters.Epsilon = eps

		_, err := NewRunner(f.cfg, f.store, f.sink, zeroNoise{}, RunOpts{})
		var ve *config.ValidationError
		require.True(t, errors.As(err, &ve), "epsilon %v", eps)
		assert.Contains(t, err.Error(), "parameters.epsilon must be positive")

		_, statErr := os.Stat(f.cfg.Store.Dir)
		assert.True(t, os.IsNotExist(statErr))
		_, statErr = os.Stat(f.sink.DatasitePath())
		assert.True(t, os.IsNotExist(statErr))
	}
}

func TestRunner_DevModeNeverRecords(t *testing.T) {
	f := newFixture(t, export)
	f.cfg.Dev.Enabled = true
	ctx := context.Background()

	for range 2 {
		res, err := f.runner(t, nil, RunOpts{}).Run(ctx)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
	}
	assert.Nil(t, f.fingerprint(t))
}

func TestRunner_ForceRerunsAndRecords(t *testing.T) {
	f := newFixture(t, export)
	ctx := context.Background()

	_, err := f.runner(t, nil, RunOpts{}).Run(ctx)
	require.NoError(t, err)
	first := f.fingerprint(t)

	res, err := f.runner(t, nil, RunOpts{Force: true}).Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, first.Hash, f.fingerprint(t).Hash)
}

func TestRunner_ExplicitBounds(t *testing.T) {
	f := newFixture(t, export)
	lo, hi := 1.0, 120.0
	f.cfg.Parameters.Bounds = config.BoundsExplicit
	f.cfg.Parameters.LowerBound = &lo
	f.cfg.Parameters.UpperBound = &hi

	res, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	require.NoError(t, err)
	// 200 clips to 120.
	assert.Equal(t, int64(100+120+50), res.Private[0].DPStepCount)
	assert.Equal(t, 350.0, res.Raw[0].StepCount)
}

func TestRunner_MinDateFloor(t *testing.T) {
	f := newFixture(t, export)
	f.cfg.Clean.MinDate = "2024-03-02"

	res, err := f.runner(t, nil, RunOpts{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Records)
	assert.Zero(t, res.Kept)
	assert.Zero(t, res.Days)
}
