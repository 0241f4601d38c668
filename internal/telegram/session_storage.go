package telegram

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
)

// SafeFileSessionStorage implements session.Storage with atomic writes:
// the session is written to a temporary file first and renamed into
// place, so a crash mid-write cannot leave a torn session behind.
//
// On load, a file that is empty or not valid JSON (a crash can leave it
// full of null bytes) is treated as session.ErrNotFound, which makes the
// client fall back to a fresh login instead of failing.
type SafeFileSessionStorage struct {
	Path string
	mux  sync.Mutex
}

func (s *SafeFileSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}

	if !json.Valid(data) {
		return nil, session.ErrNotFound
	}

	return data, nil
}

func (s *SafeFileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, s.Path)
}
