package telegram

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/l4rz/memefax/internal/domain"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
)

const channelChatIDOffset int64 = 1_000_000_000_000
const downloadPartSize = 512 * 1024

type resolvedDialog struct {
	entry domain.ChatManifestEntry
	peer  tg.InputPeerClass
}

// Conn is an authorized connection with the account dialog list resolved.
// All history and media calls address chats by manifest chat id.
type Conn struct {
	api    *tg.Client
	lookup map[int64]resolvedDialog
}

func (c *Conn) resolveDialogs(ctx context.Context) error {
	lookup := make(map[int64]resolvedDialog, 256)
	queryBuilder := query.GetDialogs(c.api).BatchSize(100)
	err := queryBuilder.ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		entry, ok := manifestEntryFromElem(elem)
		if !ok || strings.TrimSpace(entry.Name) == "" {
			return nil
		}
		lookup[entry.ChatID] = resolvedDialog{
			entry: entry,
			peer:  elem.Peer,
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.lookup = lookup
	return nil
}

// Dialogs returns the manifest view of every resolved dialog, sorted by
// chat id so repeated listings are stable.
func (c *Conn) Dialogs() []domain.ChatManifestEntry {
	out := make([]domain.ChatManifestEntry, 0, len(c.lookup))
	for _, item := range c.lookup {
		out = append(out, item.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// ChatInfo returns the manifest entry for one chat, enriched with the
// fields only a full-info request reports.
func (c *Conn) ChatInfo(ctx context.Context, chatID int64) (domain.ChatManifestEntry, error) {
	resolved, ok := c.lookup[chatID]
	if !ok {
		return domain.ChatManifestEntry{}, ErrUnknownChat
	}
	entry := resolved.entry

	switch peer := resolved.peer.(type) {
	case *tg.InputPeerChannel:
		full, err := c.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
			ChannelID:  peer.ChannelID,
			AccessHash: peer.AccessHash,
		})
		if err != nil {
			return entry, err
		}
		if channelFull, ok := full.FullChat.(*tg.ChannelFull); ok {
			entry.ParticipantsCount = channelFull.ParticipantsCount
		}
	case *tg.InputPeerChat:
		full, err := c.api.MessagesGetFullChat(ctx, peer.ChatID)
		if err != nil {
			return entry, err
		}
		if chatFull, ok := full.FullChat.(*tg.ChatFull); ok {
			if participants, ok := chatFull.Participants.(*tg.ChatParticipants); ok {
				entry.ParticipantsCount = len(participants.Participants)
			}
		}
	}
	return entry, nil
}

// MessageCount asks the provider for the advisory total history size of a
// chat. The count drifts while a crawl runs; callers treat it as a hint.
func (c *Conn) MessageCount(ctx context.Context, chatID int64) (int, error) {
	resolved, ok := c.lookup[chatID]
	if !ok {
		return 0, ErrUnknownChat
	}

	page, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  resolved.peer,
		Limit: 1,
	})
	if err != nil {
		return 0, err
	}

	switch history := page.(type) {
	case *tg.MessagesMessagesSlice:
		return history.Count, nil
	case *tg.MessagesChannelMessages:
		return history.Count, nil
	case *tg.MessagesMessages:
		return len(history.Messages), nil
	default:
		return 0, nil
	}
}

// HistoryPage fetches up to limit messages strictly older than offsetID
// (0 means start from the newest) and returns them in provider order,
// newest first, along with the smallest message id seen on the page.
func (c *Conn) HistoryPage(ctx context.Context, chatID int64, offsetID int, limit int) ([]domain.Message, int, error) {
	resolved, ok := c.lookup[chatID]
	if !ok {
		return nil, 0, ErrUnknownChat
	}

	page, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     resolved.peer,
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, 0, err
	}
	modified, ok := page.AsModified()
	if !ok {
		return nil, 0, nil
	}

	pageMessages := modified.GetMessages()
	entities := buildEntityLookup(modified.GetUsers(), modified.GetChats())
	retrievedAt := time.Now().UTC()

	out := make([]domain.Message, 0, len(pageMessages))
	minID := 0
	for _, msgClass := range pageMessages {
		msg, ok := msgClass.(*tg.Message)
		if !ok {
			continue
		}
		if msg.ID > 0 && (minID == 0 || msg.ID < minID) {
			minID = msg.ID
		}
		out = append(out, toMessage(msg, entities, retrievedAt))
	}
	return out, minID, nil
}

// DownloadMedia streams the media behind ref into w and reports the byte
// count written.
func (c *Conn) DownloadMedia(ctx context.Context, ref *domain.MediaRef, w io.Writer) (int64, error) {
	location := mediaLocation(ref)

	counting := &countingWriter{w: w}
	d := downloader.NewDownloader().WithPartSize(downloadPartSize)
	if _, err := d.Download(c.api, location).Stream(ctx, counting); err != nil {
		return counting.n, err
	}
	return counting.n, nil
}

func mediaLocation(ref *domain.MediaRef) tg.InputFileLocationClass {
	if ref.IsPhoto {
		return &tg.InputPhotoFileLocation{
			ID:            ref.PhotoID,
			AccessHash:    ref.PhotoHash,
			FileReference: ref.FileRef,
			ThumbSize:     ref.ThumbType,
		}
	}
	return &tg.InputDocumentFileLocation{
		ID:            ref.DocumentID,
		AccessHash:    ref.AccessHash,
		FileReference: ref.FileRef,
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
