package model

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Fingerprint marks the last successfully processed source content.
type Fingerprint struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Layouts accepted for a stored timestamp. Timestamps without an offset are
// read in local time.
var fingerprintLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts any ISO-8601 timestamp, with or without a UTC offset.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Hash      string `json:"hash"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := parseFingerprintTime(raw.Timestamp)
	if err != nil {
		return err
	}
	f.Hash = raw.Hash
	f.Timestamp = ts
	return nil
}

func parseFingerprintTime(s string) (time.Time, error) {
	for _, layout := range fingerprintLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("fingerprint: unrecognized timestamp %q", s)
}

// Validate reports whether the fingerprint holds a well-formed SHA-256 hex digest.
func (f *Fingerprint) Validate() error {
	if len(f.Hash) != 64 {
		return eris.Errorf("fingerprint: hash has %d chars, want 64", len(f.Hash))
	}
	if _, err := hex.DecodeString(f.Hash); err != nil {
		return eris.Wrap(err, "fingerprint: hash is not hex")
	}
	return nil
}

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusSkipped  RunStatus = "skipped"
)

// RunRecord is one entry of the run history.
type RunRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Digest      string     `json:"digest"`
	Status      RunStatus  `json:"status"`
	Records     int64      `json:"records"`
	Days        int64      `json:"days"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunOutcome is passed to FinishRun when a run ends.
type RunOutcome struct {
	Status  RunStatus `json:"status"`
	Records int64     `json:"records"`
	Days    int64     `json:"days"`
	Error   string    `json:"error,omitempty"`
}
