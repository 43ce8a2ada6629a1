package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fsTypeFunc reports the filesystem type name (or a hex magic) holding
// the given path. Platform-specific implementations live in the
// fscheck_* files.
type fsTypeFunc func(path string) (string, error)

// remoteFSTypes are filesystems whose locking is too weak for SQLite.
var remoteFSTypes = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// ensureLocalFilesystem refuses to put the command database on a
// network mount. Called from OpenSQLite before the file is created.
func ensureLocalFilesystem(path string) error {
	return ensureLocalFilesystemWith(path, fsTypeOf)
}

func ensureLocalFilesystemWith(path string, typeOf fsTypeFunc) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	// The database file usually does not exist yet; probe the closest
	// ancestor that does.
	probe, err := closestExistingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := typeOf(probe)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", probe, err)
	}

	if isRemoteFilesystem(fsType) {
		return fmt.Errorf(
			"database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Point store.path at a local disk",
			path, fsType)
	}
	return nil
}

// closestExistingAncestor walks up from path until os.Stat succeeds.
func closestExistingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for candidate := abs; ; {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func isRemoteFilesystem(fsType string) bool {
	_, remote := remoteFSTypes[strings.ToLower(strings.TrimSpace(fsType))]
	return remote
}
