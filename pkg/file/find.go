package file

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FindRecentAfter lists regular files under dir modified after startTime,
// oldest first. Temporary files from WriteAtomic are skipped and a missing
// dir yields no files.
func FindRecentAfter(dir string, startTime time.Time) ([]string, error) {
	type found struct {
		path    string
		modTime time.Time
	}
	var recent []found

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, tmpExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(startTime) {
			recent = append(recent, found{path: path, modTime: info.ModTime()})
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].modTime.Before(recent[j].modTime)
	})
	ret := make([]string, 0, len(recent))
	for _, f := range recent {
		ret = append(ret, f.path)
	}
	return ret, nil
}
