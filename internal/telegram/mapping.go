package telegram

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/l4rz/memefax/internal/domain"

	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
)

type entityLookup struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func buildEntityLookup(users []tg.UserClass, chats []tg.ChatClass) entityLookup {
	lookup := entityLookup{
		users:    make(map[int64]*tg.User, len(users)),
		chats:    map[int64]*tg.Chat{},
		channels: map[int64]*tg.Channel{},
	}
	for _, userClass := range users {
		user, ok := userClass.(*tg.User)
		if ok && user != nil {
			lookup.users[user.ID] = user
		}
	}
	for _, chatClass := range chats {
		switch entry := chatClass.(type) {
		case *tg.Chat:
			if entry != nil {
				lookup.chats[entry.ID] = entry
			}
		case *tg.Channel:
			if entry != nil {
				lookup.channels[entry.ID] = entry
			}
		}
	}
	return lookup
}

func toMessage(msg *tg.Message, entities entityLookup, retrievedAt time.Time) domain.Message {
	out := domain.Message{
		ID:          int64(msg.ID),
		Date:        time.Unix(int64(msg.Date), 0).UTC(),
		RetrievedAt: retrievedAt,
		Text:        msg.Message,
	}

	if peer, ok := msg.GetFromID(); ok {
		if fromID, ok := peerToChatID(peer); ok {
			out.FromID = fromID
		}
		out.Sender = resolveSender(peer, entities)
	}
	if reply, ok := msg.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			if replyID, ok := header.GetReplyToMsgID(); ok {
				out.ReplyToMsgID = int64(replyID)
			}
		}
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		if fromPeer, ok := fwd.GetFromID(); ok {
			if fwdID, ok := peerToChatID(fromPeer); ok {
				out.ForwardFrom = fwdID
			}
		}
	}
	if msg.Media != nil {
		out.MediaType = mediaTypeName(msg.Media)
		out.Media = extractMediaRef(msg.Media)
	}
	return out
}

func resolveSender(peer tg.PeerClass, entities entityLookup) *domain.Sender {
	switch from := peer.(type) {
	case *tg.PeerUser:
		if user, ok := entities.users[from.UserID]; ok && user != nil {
			return &domain.Sender{
				ID:       user.ID,
				Name:     formatUserDisplay(user),
				Username: user.Username,
				Bot:      user.Bot,
			}
		}
		return &domain.Sender{ID: from.UserID, Name: fmt.Sprintf("User %d", from.UserID)}
	case *tg.PeerChat:
		if chat, ok := entities.chats[from.ChatID]; ok && chat != nil {
			return &domain.Sender{ID: -from.ChatID, Name: chat.Title}
		}
		return &domain.Sender{ID: -from.ChatID, Name: fmt.Sprintf("Chat %d", from.ChatID)}
	case *tg.PeerChannel:
		id := -(channelChatIDOffset + from.ChannelID)
		if channel, ok := entities.channels[from.ChannelID]; ok && channel != nil {
			return &domain.Sender{ID: id, Name: channel.Title, Username: channel.Username}
		}
		return &domain.Sender{ID: id, Name: fmt.Sprintf("Channel %d", from.ChannelID)}
	}
	return nil
}

// mediaTypeName reports the provider-side media class, recorded verbatim
// in the message row.
func mediaTypeName(media tg.MessageMediaClass) string {
	switch media.(type) {
	case *tg.MessageMediaPhoto:
		return "MessageMediaPhoto"
	case *tg.MessageMediaDocument:
		return "MessageMediaDocument"
	case *tg.MessageMediaWebPage:
		return "MessageMediaWebPage"
	case *tg.MessageMediaContact:
		return "MessageMediaContact"
	case *tg.MessageMediaGeo:
		return "MessageMediaGeo"
	case *tg.MessageMediaPoll:
		return "MessageMediaPoll"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", media), "*tg.")
	}
}

func extractMediaRef(media tg.MessageMediaClass) *domain.MediaRef {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok || photo == nil {
			return nil
		}
		thumbType, size := largestPhotoSize(photo.Sizes)
		return &domain.MediaRef{
			Kind:      domain.MediaPhoto,
			Extension: ".jpg",
			Size:      size,
			IsPhoto:   true,
			PhotoID:   photo.ID,
			PhotoHash: photo.AccessHash,
			FileRef:   photo.FileReference,
			ThumbType: thumbType,
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok || doc == nil {
			return nil
		}
		kind, extension := documentMedia(doc.Attributes, doc.MimeType)
		return &domain.MediaRef{
			Kind:       kind,
			Extension:  extension,
			Size:       doc.Size,
			DocumentID: doc.ID,
			AccessHash: doc.AccessHash,
			FileRef:    doc.FileReference,
		}
	default:
		return nil
	}
}

// largestPhotoSize picks the biggest server-side rendition so downloads
// get the full-resolution image.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int64) {
	thumbType := ""
	var best int64
	for _, sizeClass := range sizes {
		switch size := sizeClass.(type) {
		case *tg.PhotoSize:
			if int64(size.Size) >= best {
				best = int64(size.Size)
				thumbType = size.Type
			}
		case *tg.PhotoSizeProgressive:
			var largest int
			for _, s := range size.Sizes {
				if s > largest {
					largest = s
				}
			}
			if int64(largest) >= best {
				best = int64(largest)
				thumbType = size.Type
			}
		}
	}
	return thumbType, best
}

// documentMedia classifies a document by MIME type first and filename
// extension second. Image documents count as photos with the subtype as
// extension; anything without a usable signal is a plain document with
// the ".dat" extension.
func documentMedia(attrs []tg.DocumentAttributeClass, mime string) (domain.MediaKind, string) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaVideo, ".mp4"
	case strings.HasPrefix(mime, "audio/"):
		if strings.Contains(mime, "mpeg") {
			return domain.MediaAudio, ".mp3"
		}
		return domain.MediaAudio, ".ogg"
	case strings.HasPrefix(mime, "image/"):
		return domain.MediaPhoto, "." + strings.TrimPrefix(mime, "image/")
	}

	for _, attr := range attrs {
		named, ok := attr.(*tg.DocumentAttributeFilename)
		if !ok || named == nil {
			continue
		}
		if ext := path.Ext(named.FileName); ext != "" {
			return domain.MediaDocument, strings.ToLower(ext)
		}
	}
	return domain.MediaDocument, ".dat"
}

func peerToChatID(peer tg.PeerClass) (int64, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID, true
	case *tg.PeerChat:
		return -p.ChatID, true
	case *tg.PeerChannel:
		return -(channelChatIDOffset + p.ChannelID), true
	default:
		return 0, false
	}
}

func manifestEntryFromElem(elem dialogs.Elem) (domain.ChatManifestEntry, bool) {
	switch peer := elem.Dialog.GetPeer().(type) {
	case *tg.PeerUser:
		user, ok := elem.Entities.User(peer.UserID)
		if !ok || user == nil {
			return domain.ChatManifestEntry{}, false
		}
		return domain.ChatManifestEntry{
			ChatID:   peer.UserID,
			Name:     formatUserDisplay(user),
			Kind:     domain.ChatKindUser,
			Username: user.Username,
			Phone:    user.Phone,
			IsBot:    user.Bot,
		}, true

	case *tg.PeerChat:
		chat, ok := elem.Entities.Chat(peer.ChatID)
		if !ok || chat == nil {
			return domain.ChatManifestEntry{}, false
		}
		return domain.ChatManifestEntry{
			ChatID:            -peer.ChatID,
			Name:              chat.Title,
			Kind:              domain.ChatKindGroup,
			ParticipantsCount: chat.ParticipantsCount,
			CreatedDate:       time.Unix(int64(chat.Date), 0).UTC(),
		}, true

	case *tg.PeerChannel:
		channel, ok := elem.Entities.Channel(peer.ChannelID)
		if !ok || channel == nil {
			return domain.ChatManifestEntry{}, false
		}
		kind := domain.ChatKindChannel
		if channel.Megagroup {
			kind = domain.ChatKindSupergroup
		}
		entry := domain.ChatManifestEntry{
			ChatID:      -(channelChatIDOffset + peer.ChannelID),
			Name:        channel.Title,
			Kind:        kind,
			Username:    channel.Username,
			Broadcast:   channel.Broadcast,
			CreatedDate: time.Unix(int64(channel.Date), 0).UTC(),
		}
		if count, ok := channel.GetParticipantsCount(); ok {
			entry.ParticipantsCount = count
		}
		return entry, true
	}

	return domain.ChatManifestEntry{}, false
}

func formatUserDisplay(user *tg.User) string {
	if user == nil {
		return ""
	}
	name := strings.TrimSpace(strings.Join([]string{user.FirstName, user.LastName}, " "))
	if name != "" {
		return name
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return fmt.Sprintf("User %d", user.ID)
}
