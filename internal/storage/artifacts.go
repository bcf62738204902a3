package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// companionSuffixes are the files SQLite keeps next to the primary database.
var companionSuffixes = []string{"-wal", "-shm", "-journal"}

// ArtifactSet returns the primary file and its companion files. They are
// always kept or removed together.
func ArtifactSet(path string) []string {
	set := []string{path}
	for _, s := range companionSuffixes {
		set = append(set, path+s)
	}
	return set
}

// RemoveArtifacts deletes the artifact set of path as one unit: every present
// file is first moved into a quarantine directory, and if any move fails the
// earlier moves are undone so the set is never left half-deleted.
func RemoveArtifacts(path string) error {
	dir := filepath.Dir(path)
	quarantine, err := os.MkdirTemp(dir, filepath.Base(path)+".quarantine-*")
	if err != nil {
		return fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	type move struct{ from, to string }
	var moved []move
	for i, f := range ArtifactSet(path) {
		if _, err := os.Lstat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		to := filepath.Join(quarantine, fmt.Sprintf("%d-%s", i, filepath.Base(f)))
		if err := os.Rename(f, to); err != nil {
			for j := len(moved) - 1; j >= 0; j-- {
				_ = os.Rename(moved[j].to, moved[j].from)
			}
			_ = os.RemoveAll(quarantine)
			return fmt.Errorf("failed to move %s aside: %w", f, err)
		}
		moved = append(moved, move{from: f, to: to})
	}

	if err := os.RemoveAll(quarantine); err != nil {
		return fmt.Errorf("failed to remove quarantined store: %w", err)
	}
	return nil
}
