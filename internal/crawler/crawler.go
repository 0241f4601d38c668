package crawler

import (
	"context"
	"fmt"
	"io"

	"github.com/l4rz/memefax/internal/domain"
	"github.com/l4rz/memefax/internal/ratelimit"

	"go.uber.org/zap"
)

const defaultPageSize = 100

// Source serves message history for one chat, newest first.
type Source interface {
	MessageCount(ctx context.Context, chatID int64) (int, error)
	HistoryPage(ctx context.Context, chatID int64, offsetID int, limit int) ([]domain.Message, int, error)
}

// MediaDownloader streams one attachment into w.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, ref *domain.MediaRef, w io.Writer) (int64, error)
}

// MessageStore is the per-chat persistence the crawler writes into.
type MessageStore interface {
	MaxMessageID(ctx context.Context) (int64, error)
	UpsertMessage(ctx context.Context, msg domain.Message) error
}

// AttachmentFetcher materializes a message's media on disk and reports
// the resulting descriptors.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, msg *domain.Message) ([]domain.MediaDescriptor, error)
}

// Crawler walks one chat's history into its local store, one page per
// rate-limiter slot. A store whose highest message id is zero gets a full
// walk; otherwise only messages above that id are fetched.
type Crawler struct {
	source      Source
	store       MessageStore
	fetcher     AttachmentFetcher
	limiter     *ratelimit.Limiter
	snapshotDir string
	pageSize    int
	log         *zap.SugaredLogger
}

func New(source Source, store MessageStore, fetcher AttachmentFetcher, limiter *ratelimit.Limiter, snapshotDir string, log *zap.SugaredLogger) *Crawler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Crawler{
		source:      source,
		store:       store,
		fetcher:     fetcher,
		limiter:     limiter,
		snapshotDir: snapshotDir,
		pageSize:    defaultPageSize,
		log:         log,
	}
}

// Run crawls chatID until the history is exhausted or, in delta mode,
// until the first already-stored message id is reached. Page fetch
// failures abort the run; a failure on a single record only skips that
// record.
func (c *Crawler) Run(ctx context.Context, chatID int64) (domain.CrawlResult, error) {
	maxStored, err := c.store.MaxMessageID(ctx)
	if err != nil {
		return domain.CrawlResult{ChatID: chatID}, fmt.Errorf("resume cursor: %w", err)
	}

	result := domain.CrawlResult{
		ChatID: chatID,
		Mode:   domain.FullSync,
	}
	if maxStored > 0 {
		result.Mode = domain.DeltaSync
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return result, err
	}
	if total, countErr := c.source.MessageCount(ctx, chatID); countErr != nil {
		c.log.Warnw("message count unavailable", "chat_id", chatID, "error", countErr)
	} else {
		result.TotalHint = total
	}

	snapshot, err := NewSnapshotWriter(c.snapshotDir)
	if err != nil {
		return result, fmt.Errorf("open snapshot: %w", err)
	}
	defer snapshot.Close()
	result.SnapshotPath = snapshot.Path()

	c.log.Infow("crawl started",
		"chat_id", chatID,
		"mode", result.Mode,
		"total_hint", result.TotalHint,
		"resume_after", maxStored,
	)

	offsetID := 0
	done := false
	for !done {
		if err := c.limiter.Wait(ctx); err != nil {
			return result, err
		}
		page, minID, pageErr := c.source.HistoryPage(ctx, chatID, offsetID, c.pageSize)
		if pageErr != nil {
			return result, fmt.Errorf("history page at offset %d: %w", offsetID, pageErr)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			msg := &page[i]
			if result.Mode == domain.DeltaSync && msg.ID <= maxStored {
				done = true
				break
			}
			if err := c.processMessage(ctx, msg, snapshot); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				c.log.Warnw("message skipped", "chat_id", chatID, "msg_id", msg.ID, "error", err)
				result.Skipped++
				continue
			}
			result.Processed++
		}

		if minID <= 0 || minID == offsetID || len(page) < c.pageSize {
			break
		}
		offsetID = minID
	}

	if err := snapshot.Flush(); err != nil {
		return result, fmt.Errorf("final snapshot flush: %w", err)
	}

	c.log.Infow("crawl finished",
		"chat_id", chatID,
		"mode", result.Mode,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"snapshot", result.SnapshotPath,
	)
	return result, nil
}

func (c *Crawler) processMessage(ctx context.Context, msg *domain.Message, snapshot *SnapshotWriter) error {
	if c.fetcher != nil && msg.Media != nil {
		descriptors, err := c.fetcher.Fetch(ctx, msg)
		if err != nil {
			return fmt.Errorf("fetch media: %w", err)
		}
		msg.MediaFiles = descriptors
	}
	if err := c.store.UpsertMessage(ctx, *msg); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if err := snapshot.Append(*msg); err != nil {
		return fmt.Errorf("snapshot message: %w", err)
	}
	return nil
}
