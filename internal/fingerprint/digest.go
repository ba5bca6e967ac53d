// Package fingerprint decides whether the source export changed since the
// last successful run and records the new fingerprint once a run completes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

const chunkSize = 32 << 10

// Digest returns the lowercase hex SHA-256 of the file at path, read in
// fixed-size chunks.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "fingerprint: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, chunkSize)); err != nil {
		return "", eris.Wrapf(err, "fingerprint: read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
