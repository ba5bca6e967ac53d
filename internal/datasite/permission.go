package datasite

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Permissions is the content of a syftperm.yaml file.
type Permissions struct {
	Rules []Rule `yaml:"rules"`
}

// Rule grants access to files matching Pattern.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Access  Access `yaml:"access"`
}

// Access lists the identities holding each permission.
type Access struct {
	Read  []string `yaml:"read,omitempty"`
	Write []string `yaml:"write,omitempty"`
	Admin []string `yaml:"admin,omitempty"`
}

// OwnerPermissions grants the owner full access to everything in a folder and
// read access to the extra readers. Duplicate readers are dropped.
func OwnerPermissions(owner string, extraReaders ...string) Permissions {
	read := []string{owner}
	for _, r := range extraReaders {
		if r != "" && !slices.Contains(read, r) {
			read = append(read, r)
		}
	}
	return Permissions{Rules: []Rule{{
		Pattern: "**",
		Access: Access{
			Read:  read,
			Write: []string{owner},
			Admin: []string{owner},
		},
	}}}
}

// CanRead reports whether identity may read files in the folder.
func (p Permissions) CanRead(identity string) bool {
	for _, r := range p.Rules {
		if slices.Contains(r.Access.Read, identity) || slices.Contains(r.Access.Read, "*") {
			return true
		}
	}
	return false
}

// LoadPermissions reads the permission file in dir. A missing file yields
// empty permissions.
func LoadPermissions(dir string) (Permissions, error) {
	var p Permissions
	data, err := os.ReadFile(filepath.Join(dir, PermissionFile))
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, eris.Wrapf(err, "datasite: read permissions in %s", dir)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "datasite: parse permissions in %s", dir)
	}
	return p, nil
}

// SavePermissions writes p to the permission file in dir. An identical
// existing file is left untouched.
func SavePermissions(dir string, p Permissions) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "datasite: marshal permissions")
	}
	path := filepath.Join(dir, PermissionFile)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	return writeFileAtomic(path, data)
}
