package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/l4rz/memefax/internal/domain"
	"github.com/l4rz/memefax/internal/ratelimit"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Fetcher downloads message attachments into mediaDir. Anything whose
// provider-reported size exceeds maxBytes is recorded as skipped instead
// of downloaded, and a failed download records no media at all rather
// than failing the message. Filenames are deterministic so a re-crawl of
// the same chat finds already-fetched files on disk and leaves them alone.
type Fetcher struct {
	downloader MediaDownloader
	limiter    *ratelimit.Limiter
	mediaDir   string
	maxBytes   int64
	log        *zap.SugaredLogger
}

func NewFetcher(downloader MediaDownloader, limiter *ratelimit.Limiter, mediaDir string, maxBytes int64, log *zap.SugaredLogger) *Fetcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fetcher{
		downloader: downloader,
		limiter:    limiter,
		mediaDir:   mediaDir,
		maxBytes:   maxBytes,
		log:        log,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, msg *domain.Message) ([]domain.MediaDescriptor, error) {
	ref := msg.Media
	if ref == nil {
		return nil, nil
	}

	if f.maxBytes > 0 && ref.Size > f.maxBytes {
		f.log.Infow("media skipped",
			"msg_id", msg.ID,
			"kind", ref.Kind,
			"size", ref.Size,
		)
		return []domain.MediaDescriptor{{
			Type: domain.MediaSkipped,
			Size: ref.Size,
			SkippedReason: fmt.Sprintf("file size (%s) exceeds limit of %s",
				humanize.IBytes(uint64(ref.Size)), humanize.IBytes(uint64(f.maxBytes))),
		}}, nil
	}

	filename := MediaFilename(ref, msg)
	target := filepath.Join(f.mediaDir, filename)

	if info, err := os.Stat(target); err == nil {
		return []domain.MediaDescriptor{{
			Type:     ref.Kind,
			Filename: filename,
			Size:     info.Size(),
		}}, nil
	}

	if err := os.MkdirAll(f.mediaDir, 0o755); err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	written, err := f.download(ctx, ref, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.log.Warnw("media download failed",
			"msg_id", msg.ID,
			"kind", ref.Kind,
			"error", err,
		)
		return nil, nil
	}
	return []domain.MediaDescriptor{{
		Type:     ref.Kind,
		Filename: filename,
		Size:     written,
	}}, nil
}

// download streams into a temp file and renames it so an interrupted
// crawl never leaves a half-written attachment under the final name.
func (f *Fetcher) download(ctx context.Context, ref *domain.MediaRef, target string) (int64, error) {
	tmp, err := os.CreateTemp(f.mediaDir, ".download-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	written, err := f.downloader.DownloadMedia(ctx, ref, tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return written, nil
}

// MediaFilename derives the deterministic on-disk name for a message's
// attachment: kind, message id and message timestamp, with the provider
// extension.
func MediaFilename(ref *domain.MediaRef, msg *domain.Message) string {
	return fmt.Sprintf("%s_%d_%s%s", ref.Kind, msg.ID, msg.Date.UTC().Format("20060102_150405"), ref.Extension)
}
