// Package datasite writes files into a SyftBox-style synced datasite and
// manages the permission files that control who can read them.
package datasite

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// PermissionFile is the per-folder access control file.
	PermissionFile = "syftperm.yaml"

	apiDataDir = "api_data"
	privateDir = "private"
)

// Sink is a path-addressed store with folder-level read permissions.
type Sink interface {
	// DatasitePath is the root of the owner's datasite.
	DatasitePath() string
	// APIData returns the public app data folder for name.
	APIData(name string) string
	// CreateRestrictedFolder creates path readable by the owner and extraReaders.
	CreateRestrictedFolder(path string, extraReaders []string) error
	// CreatePrivateFolder creates <basePath>/private/<app> readable by the owner only.
	CreatePrivateFolder(basePath string) (string, error)
	// WriteFile replaces the file at path.
	WriteFile(path string, data []byte) error
}

// Local is a Sink over a sync root on the local filesystem. Datasites live
// at <root>/datasites/<email>.
type Local struct {
	root  string
	email string
	app   string
}

// NewLocal returns a Local sink for the owner email under root. A leading
// "~" in root is expanded to the home directory.
func NewLocal(root, email, app string) (*Local, error) {
	if email == "" {
		return nil, eris.New("datasite: owner email is required")
	}
	if app == "" {
		return nil, eris.New("datasite: app name is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: expanded, email: email, app: app}, nil
}

// Email returns the datasite owner.
func (l *Local) Email() string { return l.email }

func (l *Local) DatasitePath() string {
	return filepath.Join(l.root, "datasites", l.email)
}

func (l *Local) APIData(name string) string {
	return filepath.Join(l.DatasitePath(), apiDataDir, name)
}

func (l *Local) CreateRestrictedFolder(path string, extraReaders []string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return eris.Wrapf(err, "datasite: create folder %s", path)
	}
	return SavePermissions(path, OwnerPermissions(l.email, extraReaders...))
}

func (l *Local) CreatePrivateFolder(basePath string) (string, error) {
	path := filepath.Join(basePath, privateDir, l.app)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", eris.Wrapf(err, "datasite: create folder %s", path)
	}
	if err := SavePermissions(path, OwnerPermissions(l.email)); err != nil {
		return "", err
	}
	return path, nil
}

func (l *Local) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "datasite: create parent of %s", path)
	}
	return writeFileAtomic(path, data)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "datasite: resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "datasite: create temp for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "datasite: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "datasite: close temp for %s", path)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrapf(err, "datasite: chmod %s", path)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "datasite: replace %s", path)
}
