package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Session is a transaction-scoped import handle. Work accumulates in the
// open transaction until Commit, which makes it durable and opens a fresh
// transaction for the next batch.
type Session struct {
	pool interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	}
	tx pgx.Tx
}

// BeginImport opens an import session with its first transaction.
func (w *Warehouse) BeginImport(ctx context.Context) (*Session, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	return &Session{pool: w.pool, tx: tx}, nil
}

// EnsureSource finds or creates the source row for one chat and returns
// its id.
func (s *Session) EnsureSource(ctx context.Context, name, kind string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `SELECT id FROM source WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("lookup source: %w", err)
	}

	err = s.tx.QueryRow(ctx,
		`INSERT INTO source (name, kind) VALUES ($1, $2) RETURNING id`,
		name, kind,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}
	return id, nil
}

// FindOrCreateContact resolves a sender display name to a contact id.
func (s *Session) FindOrCreateContact(ctx context.Context, canonical string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `SELECT id FROM contact WHERE canonical = $1`, canonical).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("lookup contact: %w", err)
	}

	err = s.tx.QueryRow(ctx,
		`INSERT INTO contact (canonical, first_seen, last_seen) VALUES ($1, NOW(), NOW()) RETURNING id`,
		canonical,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create contact: %w", err)
	}
	return id, nil
}

// EnsureAlias records one identity of a contact. The (kind, value) pair
// is unique warehouse-wide; re-recording an existing alias is a no-op.
func (s *Session) EnsureAlias(ctx context.Context, contactID int64, kind, value string) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO contact_alias (contact_id, kind, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (kind, value) DO NOTHING`,
		contactID, kind, value,
	)
	if err != nil {
		return fmt.Errorf("ensure alias: %w", err)
	}
	return nil
}

// InsertDocument inserts one message as a document. When the document
// already exists (same source and external id) it reports inserted=false
// and the caller skips all downstream rows for the message.
func (s *Session) InsertDocument(ctx context.Context, sourceID int64, extID, threadID string, sentTS time.Time, authorContactID int64, body string) (int64, bool, error) {
	var author any
	if authorContactID > 0 {
		author = authorContactID
	}

	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO document (source_id, ext_id, thread_id, sent_ts, author_contact_id, raw_body, clean_body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (source_id, ext_id) DO NOTHING
		 RETURNING id`,
		sourceID, extID, threadID, sentTS, author, body, body,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert document: %w", err)
	}
	return id, true, nil
}

// InsertAttachment records one media descriptor under a document. The
// meta payload, when present, must be valid JSON.
func (s *Session) InsertAttachment(ctx context.Context, documentID int64, filename, mimeType, filePath, meta string) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO attachment (document_id, filename, mime_type, file_path, meta)
		 VALUES ($1, $2, $3, $4, $5)`,
		documentID, nullableText(filename), nullableText(mimeType), nullableText(filePath), nullableText(meta),
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// InsertPassage stores one passage of a document at level 'P'.
func (s *Session) InsertPassage(ctx context.Context, documentID int64, startTok, endTok int, text string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO passage (document_id, level, start_tok, end_tok, text)
		 VALUES ($1, 'P', $2, $3, $4) RETURNING id`,
		documentID, startTok, endTok, text,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert passage: %w", err)
	}
	return id, nil
}

// InsertPassageEmbedding stores the embedding vector for one passage.
func (s *Session) InsertPassageEmbedding(ctx context.Context, passageID int64, modelID string, embedding []float32) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO passage_embedding (passage_id, model_id, embedding)
		 VALUES ($1, $2, $3)`,
		passageID, modelID, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("insert passage embedding: %w", err)
	}
	return nil
}

// Commit makes the current batch durable and opens the next transaction.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin next batch: %w", err)
	}
	s.tx = tx
	return nil
}

// Close commits whatever remains in the open transaction.
func (s *Session) Close(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

// Rollback discards the open transaction.
func (s *Session) Rollback(ctx context.Context) error {
	return s.tx.Rollback(ctx)
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}
