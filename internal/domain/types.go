package domain

import "time"

// ChatKind is the closed set of chat entity variants the pipeline knows about.
type ChatKind string

const (
	ChatKindUser       ChatKind = "User"
	ChatKindGroup      ChatKind = "Group"
	ChatKindSupergroup ChatKind = "Supergroup"
	ChatKindChannel    ChatKind = "Channel"
)

// ChatEntity is the capability every provider chat variant exposes,
// regardless of whether it is a user, a basic group, a supergroup or a
// broadcast channel.
type ChatEntity interface {
	ID() int64
	DisplayName() string
	Kind() ChatKind
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSkipped  MediaKind = "skipped"
)

// MediaDescriptor records the outcome of handling one media item.
// A skipped descriptor carries no filename; Size then holds the reported
// size that exceeded the cap.
type MediaDescriptor struct {
	Type          MediaKind `json:"type"`
	Filename      string    `json:"filename,omitempty"`
	Size          int64     `json:"size"`
	SkippedReason string    `json:"skipped_reason,omitempty"`
}

// Sender is the resolved author metadata of a message, when available.
type Sender struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Bot      bool   `json:"bot"`
}

// Message is the canonical provider-agnostic record the crawler normalizes
// every fetched item into. ID is the provider's own message id and is the
// primary key within one chat's local store.
type Message struct {
	ID           int64             `json:"id"`
	Date         time.Time         `json:"date"`
	RetrievedAt  time.Time         `json:"date_retrieved"`
	FromID       int64             `json:"from_id,omitempty"`
	Text         string            `json:"text"`
	ReplyToMsgID int64             `json:"reply_to_msg_id,omitempty"`
	ForwardFrom  int64             `json:"forward_from,omitempty"`
	MediaType    string            `json:"media_type,omitempty"`
	Sender       *Sender           `json:"sender,omitempty"`
	MediaFiles   []MediaDescriptor `json:"media_files"`

	// Media is the provider handle for a not-yet-fetched attachment.
	// It never leaves the crawl path and is not persisted.
	Media *MediaRef `json:"-"`
}

// MediaRef identifies a downloadable media item on the provider side.
// Size is the provider-reported byte size; zero means unknown (photos),
// which the size gate treats as small enough to download.
type MediaRef struct {
	Kind       MediaKind
	Extension  string
	Size       int64
	DocumentID int64
	AccessHash int64
	FileRef    []byte
	IsPhoto    bool
	PhotoID    int64
	PhotoHash  int64
	ThumbType  string
}

// ChatManifestEntry is one row of the deployment-wide chat manifest.
type ChatManifestEntry struct {
	ChatID            int64     `json:"chat_id"`
	Name              string    `json:"name"`
	Kind              ChatKind  `json:"type"`
	Username          string    `json:"username,omitempty"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	LastUpdated       time.Time `json:"last_updated"`
	Broadcast         bool      `json:"broadcast,omitempty"`
	ParticipantsCount int       `json:"participants_count,omitempty"`
	MessagesCount     int       `json:"messages_count,omitempty"`
	LastMessageDate   time.Time `json:"last_message_date,omitempty"`
	CreatedDate       time.Time `json:"created_date,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	IsBot             bool      `json:"is_bot,omitempty"`
}

// SyncMode is how a crawl run was started: a full history walk or a delta
// fetch above the highest message id already in the local store.
type SyncMode string

const (
	FullSync  SyncMode = "full"
	DeltaSync SyncMode = "delta"
)

// CrawlResult summarizes one chat's crawl run.
type CrawlResult struct {
	ChatID       int64
	Mode         SyncMode
	Processed    int
	Skipped      int
	TotalHint    int
	SnapshotPath string
}
