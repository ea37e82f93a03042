package snapshot

import (
	"os"

	"github.com/cockroachdb/errors"
)

// LoadLatest returns the newest snapshot, or nil when there is none.
func (s *Store) LoadLatest() (*State, error) {
	files, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return Load(files[len(files)-1].path)
}

func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return st, nil
}
