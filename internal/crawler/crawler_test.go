package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/l4rz/memefax/internal/domain"
	"github.com/l4rz/memefax/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed history, newest first, in pages like the
// provider does.
type fakeSource struct {
	messages []domain.Message // descending by id
	pageErr  error
}

func (s *fakeSource) MessageCount(_ context.Context, _ int64) (int, error) {
	return len(s.messages), nil
}

func (s *fakeSource) HistoryPage(_ context.Context, _ int64, offsetID int, limit int) ([]domain.Message, int, error) {
	if s.pageErr != nil {
		return nil, 0, s.pageErr
	}
	page := make([]domain.Message, 0, limit)
	minID := 0
	for _, msg := range s.messages {
		if offsetID > 0 && msg.ID >= int64(offsetID) {
			continue
		}
		page = append(page, msg)
		minID = int(msg.ID)
		if len(page) >= limit {
			break
		}
	}
	return page, minID, nil
}

type fakeStore struct {
	maxID    int64
	failFor  map[int64]bool
	upserted map[int64]domain.Message
}

func newFakeStore(maxID int64) *fakeStore {
	return &fakeStore{maxID: maxID, upserted: map[int64]domain.Message{}}
}

func (s *fakeStore) MaxMessageID(_ context.Context) (int64, error) {
	return s.maxID, nil
}

func (s *fakeStore) UpsertMessage(_ context.Context, msg domain.Message) error {
	if s.failFor[msg.ID] {
		return errors.New("database is locked")
	}
	s.upserted[msg.ID] = msg
	return nil
}

func descendingHistory(count int) []domain.Message {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Message, 0, count)
	for id := count; id >= 1; id-- {
		out = append(out, domain.Message{
			ID:   int64(id),
			Date: base.Add(time.Duration(id) * time.Minute),
			Text: "message",
		})
	}
	return out
}

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(1_000_000, time.Nanosecond)
}

func TestRunFullSyncWalksAllPages(t *testing.T) {
	source := &fakeSource{messages: descendingHistory(250)}
	store := newFakeStore(0)
	c := New(source, store, nil, fastLimiter(), t.TempDir(), nil)

	result, err := c.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.FullSync, result.Mode)
	assert.Equal(t, 250, result.Processed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 250, result.TotalHint)
	assert.Len(t, store.upserted, 250)
	assert.FileExists(t, result.SnapshotPath)
}

func TestRunDeltaStopsAtStoredID(t *testing.T) {
	source := &fakeSource{messages: descendingHistory(250)}
	store := newFakeStore(240)
	c := New(source, store, nil, fastLimiter(), t.TempDir(), nil)

	result, err := c.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.DeltaSync, result.Mode)
	assert.Equal(t, 10, result.Processed)
	assert.Len(t, store.upserted, 10)
	_, has := store.upserted[240]
	assert.False(t, has, "already stored message must not be refetched")
	_, has = store.upserted[241]
	assert.True(t, has)
}

func TestRunSkipsFailingRecord(t *testing.T) {
	source := &fakeSource{messages: descendingHistory(5)}
	store := newFakeStore(0)
	store.failFor = map[int64]bool{3: true}
	c := New(source, store, nil, fastLimiter(), t.TempDir(), nil)

	result, err := c.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	_, has := store.upserted[3]
	assert.False(t, has, "failing record must not reach the store")
}

func TestRunKeepsMessageOnDownloadFailure(t *testing.T) {
	history := descendingHistory(5)
	for i := range history {
		history[i].Media = &domain.MediaRef{
			Kind:       domain.MediaDocument,
			Extension:  ".pdf",
			Size:       10,
			DocumentID: history[i].ID,
		}
	}
	source := &fakeSource{messages: history}
	store := newFakeStore(0)
	downloader := &fakeDownloader{payload: []byte("data"), failFor: map[int64]bool{3: true}}
	fetcher := NewFetcher(downloader, fastLimiter(), t.TempDir(), 1000, nil)
	c := New(source, store, fetcher, fastLimiter(), t.TempDir(), nil)

	result, err := c.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, store.upserted, 5)
	assert.Empty(t, store.upserted[3].MediaFiles, "failed download records no media")
	assert.NotEmpty(t, store.upserted[2].MediaFiles)

	// Nothing is left for a later delta run to recover.
	second := newFakeStore(5)
	c = New(source, second, fetcher, fastLimiter(), t.TempDir(), nil)
	result, err = c.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestRunAbortsOnPageError(t *testing.T) {
	source := &fakeSource{pageErr: errors.New("FLOOD_WAIT")}
	store := newFakeStore(0)
	c := New(source, store, nil, fastLimiter(), t.TempDir(), nil)

	_, err := c.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history page")
}

func TestSnapshotRecordsEveryMessage(t *testing.T) {
	source := &fakeSource{messages: descendingHistory(30)}
	store := newFakeStore(0)
	c := New(source, store, nil, fastLimiter(), t.TempDir(), nil)

	result, err := c.Run(context.Background(), 1)
	require.NoError(t, err)

	raw, err := os.ReadFile(result.SnapshotPath)
	require.NoError(t, err)

	var records []domain.Message
	require.NoError(t, json.Unmarshal(raw, &records), "snapshot must be one JSON array")
	assert.Len(t, records, 30)
}

func TestSnapshotAutoFlush(t *testing.T) {
	writer, err := NewSnapshotWriter(t.TempDir())
	require.NoError(t, err)
	defer writer.Close()

	msg := domain.Message{ID: 1, Date: time.Now().UTC(), Text: "x"}
	for i := 0; i < snapshotFlushEvery; i++ {
		require.NoError(t, writer.Append(msg))
	}

	info, err := os.Stat(writer.Path())
	require.NoError(t, err)
	assert.Positive(t, info.Size(), "buffer must hit disk after the flush threshold")
}

type fakeDownloader struct {
	payload []byte
	failFor map[int64]bool
	calls   int
	err     error
}

func (d *fakeDownloader) DownloadMedia(_ context.Context, ref *domain.MediaRef, w io.Writer) (int64, error) {
	d.calls++
	if d.err != nil {
		return 0, d.err
	}
	if d.failFor[ref.DocumentID] {
		return 0, errors.New("FILE_REFERENCE_EXPIRED")
	}
	n, err := w.Write(d.payload)
	return int64(n), err
}

func TestFetcherSizeGate(t *testing.T) {
	downloader := &fakeDownloader{payload: []byte("data")}
	f := NewFetcher(downloader, fastLimiter(), t.TempDir(), 100, nil)

	atCap := domain.Message{
		ID:    1,
		Date:  time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
		Media: &domain.MediaRef{Kind: domain.MediaDocument, Extension: ".pdf", Size: 100},
	}
	descriptors, err := f.Fetch(context.Background(), &atCap)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, domain.MediaDocument, descriptors[0].Type)
	assert.Equal(t, 1, downloader.calls, "a file exactly at the cap downloads")

	overCap := domain.Message{
		ID:    2,
		Date:  time.Date(2024, 5, 1, 10, 31, 0, 0, time.UTC),
		Media: &domain.MediaRef{Kind: domain.MediaVideo, Extension: ".mp4", Size: 101},
	}
	descriptors, err = f.Fetch(context.Background(), &overCap)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, domain.MediaSkipped, descriptors[0].Type)
	assert.Empty(t, descriptors[0].Filename)
	assert.Equal(t, int64(101), descriptors[0].Size)
	assert.Equal(t, "file size (101 B) exceeds limit of 100 B", descriptors[0].SkippedReason)
	assert.Equal(t, 1, downloader.calls, "an oversized file never downloads")
}

func TestFetcherDownloadFailureRecordsNoMedia(t *testing.T) {
	dir := t.TempDir()
	downloader := &fakeDownloader{err: errors.New("FILE_REFERENCE_EXPIRED")}
	f := NewFetcher(downloader, fastLimiter(), dir, 1000, nil)

	msg := domain.Message{
		ID:    9,
		Date:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Media: &domain.MediaRef{Kind: domain.MediaPhoto, Extension: ".jpg", Size: 10},
	}
	descriptors, err := f.Fetch(context.Background(), &msg)
	require.NoError(t, err, "a download failure must not fail the message")
	assert.Empty(t, descriptors)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file may remain")
}

func TestFetcherDeterministicFilename(t *testing.T) {
	msg := domain.Message{
		ID:    77,
		Date:  time.Date(2024, 5, 1, 10, 30, 45, 0, time.UTC),
		Media: &domain.MediaRef{Kind: domain.MediaPhoto, Extension: ".jpg"},
	}
	assert.Equal(t, "photo_77_20240501_103045.jpg", MediaFilename(msg.Media, &msg))
}

func TestFetcherSkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	msg := domain.Message{
		ID:    5,
		Date:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Media: &domain.MediaRef{Kind: domain.MediaPhoto, Extension: ".jpg", Size: 10},
	}
	existing := MediaFilename(msg.Media, &msg)
	require.NoError(t, os.WriteFile(dir+"/"+existing, []byte("already here"), 0o644))

	downloader := &fakeDownloader{payload: []byte("fresh")}
	f := NewFetcher(downloader, fastLimiter(), dir, 1000, nil)

	descriptors, err := f.Fetch(context.Background(), &msg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, existing, descriptors[0].Filename)
	assert.Equal(t, int64(len("already here")), descriptors[0].Size)
	assert.Zero(t, downloader.calls, "existing file must not be fetched again")
}
