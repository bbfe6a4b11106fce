// Package migrate implements the idempotent legacy-snapshot migration
// pattern: when a JSON-backed store finds a file in the pre-upgrade shape,
// it migrates it in place, renames the original aside with a .bak suffix,
// and drops a sentinel file so a second run is a no-op.
package migrate

import (
	"os"

	"github.com/squadcore/core/internal/squaderr"
)

// sentinelSuffix marks a path as already migrated.
const sentinelSuffix = ".migrated"

// Needed reports whether path exists, has not already been migrated (no
// sentinel file next to it), and should be handed to a migration function.
func Needed(path string) (bool, error) {
	if _, err := os.Stat(path + sentinelSuffix); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, squaderr.IOFailure("stat migration sentinel", err)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, squaderr.IOFailure("stat "+path, err)
	}

	return true, nil
}

// Complete renames path aside with a .bak suffix and drops the sentinel
// file, making a subsequent Needed(path) call return false.
func Complete(path string) error {
	if err := os.Rename(path, path+".bak"); err != nil {
		return squaderr.IOFailure("rename legacy snapshot aside", err)
	}
	if err := os.WriteFile(path+sentinelSuffix, []byte{}, 0o644); err != nil {
		return squaderr.IOFailure("write migration sentinel", err)
	}
	return nil
}
