// SPDX-License-Identifier: MIT

package backup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/backhaul/backhaul/internal/log"
)

// minArchiveSize flags truncated downloads; a real tar.gz is never this small.
const minArchiveSize = 100

// verifyArchives checks that at least one archive was downloaded and that
// none of them look truncated.
func verifyArchives(localDir string) error {
	var archives []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".tar.gz") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() < minArchiveSize {
			return fmt.Errorf("archive too small: %s (%d bytes)", p, info.Size())
		}
		archives = append(archives, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("verify backups in %s: %w", localDir, err)
	}
	if len(archives) == 0 {
		return fmt.Errorf("no archives found in %s after download", localDir)
	}
	return nil
}

// pruneOldArchives keeps only the newest keep archives per directory under
// localDir, deleting the rest.
func pruneOldArchives(localDir string, keep int) error {
	if keep <= 0 {
		keep = defaultRetentionCount
	}

	logger := log.WithComponent("backup")
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return err
		}

		type archive struct {
			path string
			mod  time.Time
		}
		var archives []archive
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			archives = append(archives, archive{path: filepath.Join(p, e.Name()), mod: info.ModTime()})
		}
		if len(archives) <= keep {
			return nil
		}

		sort.Slice(archives, func(i, j int) bool { return archives[i].mod.After(archives[j].mod) })
		for _, old := range archives[keep:] {
			if err := os.Remove(old.path); err != nil {
				logger.Error().Err(err).Str(log.FieldPath, old.path).Msg("failed to delete old archive")
				continue
			}
			logger.Info().Str(log.FieldPath, old.path).Msg("deleted old archive")
		}
		return nil
	})
}
