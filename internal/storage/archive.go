package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	archivePrefix = "log_"
	plainExt      = ".log"
	zstdExt       = ".log.zst"
)

var ErrInvalidArchiveName = errors.New("invalid archive name")

// ArchiveName builds the file name for an archive covering [minTs, maxTs].
// A non-zero seq tells apart archives covering the same range.
func ArchiveName(minTs, maxTs int64, seq int, compressed bool) string {
	ext := plainExt
	if compressed {
		ext = zstdExt
	}
	if seq > 0 {
		return fmt.Sprintf("%s%d_%d_%d%s", archivePrefix, minTs, maxTs, seq, ext)
	}
	return fmt.Sprintf("%s%d_%d%s", archivePrefix, minTs, maxTs, ext)
}

// ParseArchiveName extracts the time range from a file name of the form
// log_{min}_{max}[_{seq}].log or log_{min}_{max}[_{seq}].log.zst.
func ParseArchiveName(name string) (minTs, maxTs int64, compressed bool, err error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, archivePrefix) {
		return 0, 0, false, fmt.Errorf("%w: %s", ErrInvalidArchiveName, base)
	}
	var content string
	switch {
	case strings.HasSuffix(base, zstdExt):
		content = strings.TrimSuffix(base, zstdExt)
		compressed = true
	case strings.HasSuffix(base, plainExt):
		content = strings.TrimSuffix(base, plainExt)
	default:
		return 0, 0, false, fmt.Errorf("%w: %s", ErrInvalidArchiveName, base)
	}
	parts := strings.Split(strings.TrimPrefix(content, archivePrefix), "_")
	if len(parts) == 3 {
		if seq, err := strconv.Atoi(parts[2]); err != nil || seq <= 0 {
			return 0, 0, false, fmt.Errorf("%w: %s", ErrInvalidArchiveName, base)
		}
		parts = parts[:2]
	}
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("%w: %s", ErrInvalidArchiveName, base)
	}
	minTs, err1 := strconv.ParseInt(parts[0], 10, 64)
	maxTs, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || minTs > maxTs {
		return 0, 0, false, fmt.Errorf("%w: %s", ErrInvalidArchiveName, base)
	}
	return minTs, maxTs, compressed, nil
}

// ListArchives returns the archive files in dir ordered by start time.
// Files with other names are ignored; a missing directory is empty.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type found struct {
		path  string
		minTs int64
	}
	var files []found
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		minTs, _, _, err := ParseArchiveName(entry.Name())
		if err != nil {
			continue
		}
		files = append(files, found{path: filepath.Join(dir, entry.Name()), minTs: minTs})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].minTs < files[j].minTs
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}
