package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

const (
	filePrefix = "snapshot-"
	fileSuffix = ".gob"
)

// Store keeps snapshot files in Dir, retaining the newest Keep.
type Store struct {
	Dir  string
	Keep int
}

type fileInfo struct {
	offset uint64
	path   string
}

func (s *Store) pathFor(offset uint64) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%020d%s", filePrefix, offset, fileSuffix))
}

// Write persists st atomically and prunes old snapshots.
func (s *Store) Write(st *State) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	b, err := Marshal(st)
	if err != nil {
		return "", err
	}

	path := s.pathFor(st.Offset)
	tmp, err := os.CreateTemp(s.Dir, ".snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "publish snapshot")
	}

	if err := s.Cleanup(); err != nil {
		logrus.WithField("component", "snapshot").WithError(err).Warn("cleanup failed")
	}
	return path, nil
}

// Cleanup removes all but the newest Keep snapshots. Keep <= 0 keeps
// everything.
func (s *Store) Cleanup() error {
	if s.Keep <= 0 {
		return nil
	}
	files, err := s.list()
	if err != nil {
		return err
	}
	for i := 0; i < len(files)-s.Keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			return err
		}
	}
	return nil
}

// list returns snapshot files ordered by offset, oldest first.
func (s *Store) list() ([]fileInfo, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []fileInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		off, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, fileInfo{offset: off, path: filepath.Join(s.Dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out, nil
}
