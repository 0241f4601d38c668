package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/l4rz/memefax/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrChatStoreNotFound = errors.New("chat message store does not exist")

// ChatStore is the durable per-chat record store. One store holds the
// messages of exactly one chat, keyed by the provider's message id;
// re-ingesting an id overwrites the row instead of duplicating it.
type ChatStore struct {
	db *sql.DB
}

// StoredMessage is a raw row as persisted. Sender and media descriptors
// stay JSON-encoded so the importer can tolerate malformed payloads per
// record instead of failing the whole stream.
type StoredMessage struct {
	ID             int64
	Date           time.Time
	RetrievedAt    time.Time
	FromID         int64
	Text           string
	ReplyToMsgID   int64
	ForwardFrom    int64
	MediaType      string
	SenderJSON     string
	MediaFilesJSON string
}

// OpenChat opens (creating if necessary) the message store at dbPath.
func OpenChat(dbPath string) (*ChatStore, error) {
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
	return &ChatStore{db: db}, nil
}

// OpenExistingChat opens the store only if the database file is already
// present. The importer and exporter must not conjure empty stores for
// chats that were never crawled.
func OpenExistingChat(dbPath string) (*ChatStore, error) {
	if _, err := os.Stat(filepath.Clean(dbPath)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrChatStoreNotFound, dbPath)
		}
		return nil, err
	}
	return OpenChat(dbPath)
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", filepath.Clean(dbPath))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *ChatStore) Close() error {
	return s.db.Close()
}

func (s *ChatStore) Migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY,
	date TEXT NOT NULL,
	date_retrieved TEXT,
	from_id INTEGER,
	text TEXT,
	reply_to_msg_id INTEGER,
	forward_from INTEGER,
	media_type TEXT,
	sender TEXT,
	media_files TEXT
);

CREATE INDEX IF NOT EXISTS idx_date ON messages(date);
CREATE INDEX IF NOT EXISTS idx_from_id ON messages(from_id);
CREATE INDEX IF NOT EXISTS idx_reply_to ON messages(reply_to_msg_id);
CREATE INDEX IF NOT EXISTS idx_date_retrieved ON messages(date_retrieved);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertMessage writes one canonical record, replacing any previous row
// with the same external id.
func (s *ChatStore) UpsertMessage(ctx context.Context, msg domain.Message) error {
	var senderJSON any
	if msg.Sender != nil {
		encoded, err := json.Marshal(msg.Sender)
		if err != nil {
			return fmt.Errorf("encode sender for message %d: %w", msg.ID, err)
		}
		senderJSON = string(encoded)
	}
	var mediaJSON any
	if len(msg.MediaFiles) > 0 {
		encoded, err := json.Marshal(msg.MediaFiles)
		if err != nil {
			return fmt.Errorf("encode media files for message %d: %w", msg.ID, err)
		}
		mediaJSON = string(encoded)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO messages (
	id, date, date_retrieved, from_id, text,
	reply_to_msg_id, forward_from, media_type, sender, media_files
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		msg.ID,
		msg.Date.UTC().Format(time.RFC3339),
		msg.RetrievedAt.UTC().Format(time.RFC3339),
		nullableInt(msg.FromID),
		msg.Text,
		nullableInt(msg.ReplyToMsgID),
		nullableInt(msg.ForwardFrom),
		nullableString(msg.MediaType),
		senderJSON,
		mediaJSON,
	)
	return err
}

// MaxMessageID returns the highest ingested external id, or zero for an
// empty store. It is the resumption cursor for delta sync.
func (s *ChatStore) MaxMessageID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM messages`).Scan(&maxID)
	if err != nil {
		return 0, err
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64, nil
}

// MaxMessageDate returns the newest message timestamp, or the zero time
// for an empty store.
func (s *ChatStore) MaxMessageDate(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM messages`).Scan(&raw)
	if err != nil {
		return time.Time{}, err
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw.String)
}

func (s *ChatStore) CountMessages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages`).Scan(&count)
	return count, err
}

// ForEachMessageAsc streams all records in chronological order. The
// callback returning an error stops the scan and propagates it.
func (s *ChatStore) ForEachMessageAsc(ctx context.Context, fn func(StoredMessage) error) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, date, date_retrieved, from_id, text,
       reply_to_msg_id, forward_from, media_type, sender, media_files
FROM messages
ORDER BY date ASC
`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg        StoredMessage
			date       string
			retrieved  sql.NullString
			fromID     sql.NullInt64
			text       sql.NullString
			replyTo    sql.NullInt64
			forward    sql.NullInt64
			mediaType  sql.NullString
			sender     sql.NullString
			mediaFiles sql.NullString
		)
		if err := rows.Scan(&msg.ID, &date, &retrieved, &fromID, &text, &replyTo, &forward, &mediaType, &sender, &mediaFiles); err != nil {
			return err
		}
		parsed, parseErr := time.Parse(time.RFC3339, date)
		if parseErr != nil {
			return fmt.Errorf("message %d has unparsable date %q: %w", msg.ID, date, parseErr)
		}
		msg.Date = parsed
		if retrieved.Valid {
			if t, err := time.Parse(time.RFC3339, retrieved.String); err == nil {
				msg.RetrievedAt = t
			}
		}
		msg.FromID = fromID.Int64
		msg.Text = text.String
		msg.ReplyToMsgID = replyTo.Int64
		msg.ForwardFrom = forward.Int64
		msg.MediaType = mediaType.String
		msg.SenderJSON = sender.String
		msg.MediaFilesJSON = mediaFiles.String

		if err := fn(msg); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
