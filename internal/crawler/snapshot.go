package crawler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/l4rz/memefax/internal/domain"
)

const snapshotFlushEvery = 1000

// SnapshotWriter accumulates every crawled message and persists the run
// as one timestamped JSON array next to the chat's database. The whole
// array is rewritten every snapshotFlushEvery appends and again on
// Flush, so a crash loses at most one batch.
type SnapshotWriter struct {
	path     string
	messages []domain.Message
	pending  int
}

func NewSnapshotWriter(dir string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SnapshotWriter{
		path:     filepath.Join(dir, "messages_"+time.Now().UTC().Format("20060102_150405")+".json"),
		messages: make([]domain.Message, 0, snapshotFlushEvery),
	}, nil
}

func (w *SnapshotWriter) Path() string {
	return w.path
}

func (w *SnapshotWriter) Append(msg domain.Message) error {
	w.messages = append(w.messages, msg)
	w.pending++
	if w.pending >= snapshotFlushEvery {
		return w.Flush()
	}
	return nil
}

func (w *SnapshotWriter) Flush() error {
	w.pending = 0
	raw, err := json.MarshalIndent(w.messages, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(w.path, raw, 0o644)
}

func (w *SnapshotWriter) Close() error {
	return w.Flush()
}
