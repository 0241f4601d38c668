package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/l4rz/memefax/internal/domain"
)

var (
	ErrManifestNotFound  = errors.New("manifest store does not exist")
	ErrChatNotInManifest = errors.New("chat is not present in the manifest")
)

// ManifestStore tracks every chat the deployment has seen, one row per
// chat id. first_seen is written once and never overwritten; last_seen
// and last_updated advance on every refresh.
type ManifestStore struct {
	db *sql.DB
}

func OpenManifest(dbPath string) (*ManifestStore, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &ManifestStore{db: db}, nil
}

// OpenExistingManifest opens the manifest only if it is already present.
// Commands that merely consume the manifest (crawl by id, import) fail
// fast instead of silently starting from an empty one.
func OpenExistingManifest(dbPath string) (*ManifestStore, error) {
	if _, err := os.Stat(filepath.Clean(dbPath)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, dbPath)
		}
		return nil, err
	}
	return OpenManifest(dbPath)
}

func (s *ManifestStore) Close() error {
	return s.db.Close()
}

func (s *ManifestStore) Migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS chats (
	chat_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	username TEXT,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	broadcast INTEGER,
	participants_count INTEGER,
	messages_count INTEGER,
	last_message_date TEXT,
	created_date TEXT,
	phone TEXT,
	is_bot INTEGER
);

CREATE INDEX IF NOT EXISTS idx_chat_type ON chats(type);
CREATE INDEX IF NOT EXISTS idx_last_seen ON chats(last_seen);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertChat inserts or refreshes one manifest row. The stored first_seen
// wins over whatever the entry carries; last_seen and last_updated are
// stamped with the current time.
func (s *ManifestStore) UpsertChat(ctx context.Context, entry domain.ChatManifestEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chats (
	chat_id, name, type, username,
	first_seen, last_seen, last_updated,
	broadcast, participants_count, messages_count,
	last_message_date, created_date, phone, is_bot
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET
	name = excluded.name,
	type = excluded.type,
	username = excluded.username,
	last_seen = excluded.last_seen,
	last_updated = excluded.last_updated,
	broadcast = excluded.broadcast,
	participants_count = excluded.participants_count,
	messages_count = CASE WHEN excluded.messages_count > 0
		THEN excluded.messages_count ELSE chats.messages_count END,
	last_message_date = COALESCE(excluded.last_message_date, chats.last_message_date),
	created_date = excluded.created_date,
	phone = excluded.phone,
	is_bot = excluded.is_bot
`,
		entry.ChatID,
		entry.Name,
		string(entry.Kind),
		nullableString(entry.Username),
		now,
		now,
		now,
		boolToInt(entry.Broadcast),
		entry.ParticipantsCount,
		entry.MessagesCount,
		nullableTime(entry.LastMessageDate),
		nullableTime(entry.CreatedDate),
		nullableString(entry.Phone),
		boolToInt(entry.IsBot),
	)
	return err
}

// GetChat loads one manifest row or reports ErrChatNotInManifest.
func (s *ManifestStore) GetChat(ctx context.Context, chatID int64) (domain.ChatManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, selectChatColumns+` WHERE chat_id = ?`, chatID)
	entry, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatManifestEntry{}, fmt.Errorf("%w: chat %d", ErrChatNotInManifest, chatID)
	}
	return entry, err
}

// ListChats returns all manifest rows, most recently seen first.
func (s *ManifestStore) ListChats(ctx context.Context) ([]domain.ChatManifestEntry, error) {
	return s.listChats(ctx, selectChatColumns+` ORDER BY last_seen DESC`)
}

// ListChatsByKind returns manifest rows of the given kinds, most recently
// seen first. Used by crawl --all-users and --all-groups.
func (s *ManifestStore) ListChatsByKind(ctx context.Context, kinds ...domain.ChatKind) ([]domain.ChatManifestEntry, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	query := selectChatColumns + ` WHERE type IN (?`
	args := []any{string(kinds[0])}
	for _, kind := range kinds[1:] {
		query += `, ?`
		args = append(args, string(kind))
	}
	query += `) ORDER BY last_seen DESC`
	return s.listChats(ctx, query, args...)
}

const selectChatColumns = `
SELECT chat_id, name, type, username,
       first_seen, last_seen, last_updated,
       broadcast, participants_count, messages_count,
       last_message_date, created_date, phone, is_bot
FROM chats`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (domain.ChatManifestEntry, error) {
	var (
		entry        domain.ChatManifestEntry
		kind         string
		username     sql.NullString
		firstSeen    string
		lastSeen     string
		lastUpdated  string
		broadcast    sql.NullInt64
		participants sql.NullInt64
		messages     sql.NullInt64
		lastMessage  sql.NullString
		created      sql.NullString
		phone        sql.NullString
		isBot        sql.NullInt64
	)
	err := row.Scan(&entry.ChatID, &entry.Name, &kind, &username,
		&firstSeen, &lastSeen, &lastUpdated,
		&broadcast, &participants, &messages,
		&lastMessage, &created, &phone, &isBot)
	if err != nil {
		return domain.ChatManifestEntry{}, err
	}
	entry.Kind = domain.ChatKind(kind)
	entry.Username = username.String
	entry.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	entry.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	entry.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	entry.Broadcast = broadcast.Int64 == 1
	entry.ParticipantsCount = int(participants.Int64)
	entry.MessagesCount = int(messages.Int64)
	if lastMessage.Valid {
		entry.LastMessageDate, _ = time.Parse(time.RFC3339, lastMessage.String)
	}
	if created.Valid {
		entry.CreatedDate, _ = time.Parse(time.RFC3339, created.String)
	}
	entry.Phone = phone.String
	entry.IsBot = isBot.Int64 == 1
	return entry, nil
}

func (s *ManifestStore) listChats(ctx context.Context, query string, args ...any) ([]domain.ChatManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ChatManifestEntry, 0, 16)
	for rows.Next() {
		entry, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
