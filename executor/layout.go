package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/isdmx/testbot/master"
)

const dirPermission = 0o755

// Layout describes the on-disk data folder shared by all jobs on a host.
type Layout struct {
	DataFolder string
}

// CacheRoot is where environment archives and their meta files live.
func (l Layout) CacheRoot() string {
	return filepath.Join(l.DataFolder, "test_environments")
}

// WorksRoot is the parent of all workspaces of one job kind.
func (l Layout) WorksRoot(kind master.Kind) string {
	return filepath.Join(l.DataFolder, "test_works", string(kind))
}

// EnsureDirs creates the cache root and the works root of every kind.
func (l Layout) EnsureDirs(kinds []master.Kind) error {
	if l.DataFolder == "" {
		return fmt.Errorf("data folder is not configured")
	}
	dirs := []string{l.CacheRoot()}
	for _, kind := range kinds {
		dirs = append(dirs, l.WorksRoot(kind))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
