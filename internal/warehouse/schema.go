package warehouse

import (
	"context"
	"fmt"
)

// dropOrder lists every warehouse table, dependents first, so InitSchema
// can recreate the schema from scratch.
var dropOrder = []string{
	"document_party", "contact_embedding", "contact_alias", "contact",
	"sentence_embedding", "sentence",
	"passage_embedding", "passage",
	"document_embedding", "attachment", "document", "source",
}

// InitSchema drops and recreates the whole warehouse schema. Embedding
// columns are sized to dims, which must match the embedding client's
// configured dimension.
func (w *Warehouse) InitSchema(ctx context.Context, dims int) error {
	if dims <= 0 {
		dims = 1024
	}

	if _, err := w.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}

	for _, table := range dropOrder {
		if _, err := w.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}

	statements := []string{
		`CREATE TABLE source (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT UNIQUE,
			kind        TEXT     NOT NULL,
			details     JSONB
		);`,
		`CREATE TABLE contact (
			id            BIGSERIAL PRIMARY KEY,
			canonical     TEXT,
			notes         TEXT,
			first_seen    TIMESTAMPTZ,
			last_seen     TIMESTAMPTZ,
			trust_level   SMALLINT DEFAULT 0,
			meta          JSONB
		);`,
		`CREATE TABLE contact_alias (
			id            BIGSERIAL PRIMARY KEY,
			contact_id    BIGINT REFERENCES contact(id) ON DELETE CASCADE,
			kind          TEXT NOT NULL,
			value         TEXT NOT NULL,
			is_primary    BOOLEAN DEFAULT FALSE,
			UNIQUE(kind, value)
		);`,
		fmt.Sprintf(`CREATE TABLE contact_embedding (
			id            BIGSERIAL PRIMARY KEY,
			alias_id      BIGINT REFERENCES contact_alias(id) ON DELETE CASCADE,
			model_id      TEXT NOT NULL,
			embedding     VECTOR(%d) NOT NULL
		);`, dims),
		`CREATE TABLE document (
			id              BIGSERIAL PRIMARY KEY,
			source_id       BIGINT  REFERENCES source(id) ON DELETE CASCADE,
			ext_id          TEXT    NOT NULL,
			thread_id       TEXT,
			sent_ts         TIMESTAMPTZ NOT NULL,
			author_contact_id BIGINT REFERENCES contact(id),
			subject         TEXT,
			raw_body        TEXT,
			clean_body      TEXT,
			metadata        JSONB,
			UNIQUE(source_id, ext_id)
		);`,
		`CREATE TABLE attachment (
			id              BIGSERIAL PRIMARY KEY,
			document_id     BIGINT REFERENCES document(id) ON DELETE CASCADE,
			filename        TEXT,
			mime_type       TEXT,
			file_path       TEXT,
			meta            JSONB
		);`,
		`CREATE TABLE passage (
			id              BIGSERIAL PRIMARY KEY,
			document_id     BIGINT REFERENCES document(id) ON DELETE CASCADE,
			level           CHAR(1)  NOT NULL CHECK(level IN ('P','S')),
			start_tok       INT     NOT NULL,
			end_tok         INT     NOT NULL,
			text            TEXT    NOT NULL
		);`,
		fmt.Sprintf(`CREATE TABLE passage_embedding (
			id              BIGSERIAL PRIMARY KEY,
			passage_id      BIGINT REFERENCES passage(id) ON DELETE CASCADE,
			model_id        TEXT    NOT NULL,
			embedding       VECTOR(%d) NOT NULL
		);`, dims),
		fmt.Sprintf(`CREATE TABLE document_embedding (
			id              BIGSERIAL PRIMARY KEY,
			document_id     BIGINT REFERENCES document(id) ON DELETE CASCADE,
			model_id        TEXT    NOT NULL,
			embedding       VECTOR(%d) NOT NULL
		);`, dims),
		`CREATE TABLE sentence (
			id              BIGSERIAL PRIMARY KEY,
			passage_id      BIGINT REFERENCES passage(id) ON DELETE CASCADE,
			start_tok       INT     NOT NULL,
			end_tok         INT     NOT NULL,
			text            TEXT    NOT NULL
		);`,
		fmt.Sprintf(`CREATE TABLE sentence_embedding (
			id              BIGSERIAL PRIMARY KEY,
			sentence_id     BIGINT REFERENCES sentence(id) ON DELETE CASCADE,
			model_id        TEXT    NOT NULL,
			embedding       VECTOR(%d) NOT NULL
		);`, dims),
		`CREATE TABLE document_party (
			id            BIGSERIAL PRIMARY KEY,
			document_id   BIGINT REFERENCES document(id) ON DELETE CASCADE,
			contact_id    BIGINT REFERENCES contact(id),
			alias_id      BIGINT REFERENCES contact_alias(id),
			role          TEXT NOT NULL,
			display_order SMALLINT
		);`,
		"CREATE INDEX IF NOT EXISTS idx_passage_embedding_vector ON passage_embedding USING hnsw (embedding vector_cosine_ops);",
		"CREATE INDEX IF NOT EXISTS idx_contact_embedding_vector ON contact_embedding USING hnsw (embedding vector_cosine_ops);",
		"CREATE INDEX IF NOT EXISTS idx_document_sent_ts ON document(sent_ts);",
		"CREATE INDEX IF NOT EXISTS idx_document_thread_id ON document(thread_id);",
		"CREATE INDEX IF NOT EXISTS idx_document_author ON document(author_contact_id);",
		"CREATE INDEX IF NOT EXISTS idx_document_party_contact ON document_party(contact_id);",
	}

	for _, stmt := range statements {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
