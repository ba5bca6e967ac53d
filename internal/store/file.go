package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/health-steps/internal/model"
)

const (
	runsFile = "runs.jsonl"

	// DefaultMaxRuns is how many runs the file store keeps when it compacts.
	DefaultMaxRuns = 200
)

// FileStore implements Store on plain files in one directory. Each
// fingerprint lives in <dir>/<name>_last_run; run history is an append-only
// JSON lines log where a later line for the same run ID supersedes earlier ones.
// Once the log holds more than twice maxRuns lines it is rewritten with only
// the latest state of the newest maxRuns runs.
type FileStore struct {
	dir     string
	maxRuns int
	now     func() time.Time
}

// NewFile returns a FileStore rooted at dir. The directory is created by Migrate.
func NewFile(dir string) *FileStore {
	return &FileStore{dir: dir, maxRuns: DefaultMaxRuns, now: time.Now}
}

func (s *FileStore) fingerprintPath(name string) string {
	return filepath.Join(s.dir, name+"_last_run")
}

func (s *FileStore) Migrate(_ context.Context) error {
	return eris.Wrap(os.MkdirAll(s.dir, 0o755), "file: create store dir")
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) GetFingerprint(_ context.Context, name string) (*model.Fingerprint, error) {
	data, err := os.ReadFile(s.fingerprintPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptError{Name: name, Err: eris.Wrap(err, "file: read fingerprint")}
	}

	var fp model.Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, &CorruptError{Name: name, Err: eris.Wrap(err, "file: decode fingerprint")}
	}
	return checkFingerprint(name, &fp)
}

func (s *FileStore) PutFingerprint(_ context.Context, name string, fp model.Fingerprint) error {
	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return eris.Wrap(err, "file: marshal fingerprint")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "file: create store dir")
	}
	return writeFileAtomic(s.fingerprintPath(name), data)
}

func (s *FileStore) DeleteFingerprint(_ context.Context, name string) error {
	err := os.Remove(s.fingerprintPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return eris.Wrapf(err, "file: delete fingerprint %s", name)
}

func (s *FileStore) StartRun(_ context.Context, name, digest string) (*model.RunRecord, error) {
	run := model.RunRecord{
		ID:        uuid.New().String(),
		Name:      name,
		Digest:    digest,
		Status:    model.RunStatusRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.appendRun(run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *FileStore) FinishRun(_ context.Context, runID string, outcome model.RunOutcome) error {
	runs, lines, err := s.readRuns()
	if err != nil {
		return err
	}
	run, ok := runs[runID]
	if !ok {
		return eris.Errorf("file: run not found: %s", runID)
	}

	now := s.now().UTC()
	run.Status = outcome.Status
	run.Records = outcome.Records
	run.Days = outcome.Days
	run.Error = outcome.Error
	run.CompletedAt = &now

	if lines+1 > 2*s.maxRuns {
		runs[run.ID] = run
		return s.compactRuns(runs)
	}
	return s.appendRun(run)
}

func (s *FileStore) ListRuns(_ context.Context, name string, limit int) ([]model.RunRecord, error) {
	runs, _, err := s.readRuns()
	if err != nil {
		return nil, err
	}

	var out []model.RunRecord
	for _, r := range runs {
		if name == "" || r.Name == name {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)

	if limit <= 0 {
		limit = defaultRunLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) appendRun(run model.RunRecord) error {
	line, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "file: marshal run")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "file: create store dir")
	}

	f, err := os.OpenFile(filepath.Join(s.dir, runsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "file: open run log")
	}
	defer f.Close() //nolint:errcheck

	_, err = f.Write(append(line, '\n'))
	return eris.Wrap(err, "file: append run")
}

// compactRuns replaces the run log with one line per run for the newest
// maxRuns runs, oldest first.
func (s *FileStore) compactRuns(runs map[string]model.RunRecord) error {
	all := make([]model.RunRecord, 0, len(runs))
	for _, r := range runs {
		all = append(all, r)
	}
	sortNewestFirst(all)
	if len(all) > s.maxRuns {
		all = all[:s.maxRuns]
	}

	var buf bytes.Buffer
	for i := len(all) - 1; i >= 0; i-- {
		line, err := json.Marshal(all[i])
		if err != nil {
			return eris.Wrap(err, "file: marshal run")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(filepath.Join(s.dir, runsFile), buf.Bytes())
}

// readRuns folds the run log into the latest state of each run and reports
// how many lines the log holds. Unreadable lines are skipped.
func (s *FileStore) readRuns() (map[string]model.RunRecord, int, error) {
	runs := make(map[string]model.RunRecord)

	f, err := os.Open(filepath.Join(s.dir, runsFile))
	if errors.Is(err, os.ErrNotExist) {
		return runs, 0, nil
	}
	if err != nil {
		return nil, 0, eris.Wrap(err, "file: open run log")
	}
	defer f.Close() //nolint:errcheck

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var r model.RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		runs[r.ID] = r
	}
	return runs, lines, eris.Wrap(sc.Err(), "file: scan run log")
}

func sortNewestFirst(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

// writeFileAtomic replaces path with data via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrap(err, "file: create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "file: write temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "file: close temp")
	}
	return eris.Wrap(os.Rename(tmp.Name(), path), "file: rename temp")
}
