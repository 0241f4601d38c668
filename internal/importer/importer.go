package importer

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/l4rz/memefax/internal/domain"
	"github.com/l4rz/memefax/internal/store/sqlite"

	"go.uber.org/zap"
)

// ImportSession is the transactional warehouse surface the importer
// writes through. warehouse.Session implements it.
type ImportSession interface {
	EnsureSource(ctx context.Context, name, kind string) (int64, error)
	FindOrCreateContact(ctx context.Context, canonical string) (int64, error)
	EnsureAlias(ctx context.Context, contactID int64, kind, value string) error
	InsertDocument(ctx context.Context, sourceID int64, extID, threadID string, sentTS time.Time, authorContactID int64, body string) (int64, bool, error)
	InsertAttachment(ctx context.Context, documentID int64, filename, mimeType, filePath, meta string) error
	InsertPassage(ctx context.Context, documentID int64, startTok, endTok int, text string) (int64, error)
	InsertPassageEmbedding(ctx context.Context, passageID int64, modelID string, embedding []float32) error
	Commit(ctx context.Context) error
}

// Embedder produces the passage vector, degrading to zero on failure.
type Embedder interface {
	EmbedOrZero(ctx context.Context, text string) []float32
}

// MessageReader streams a chat's stored messages in chronological order.
type MessageReader interface {
	ForEachMessageAsc(ctx context.Context, fn func(sqlite.StoredMessage) error) error
}

// Result summarizes one chat import run.
type Result struct {
	ChatID      int64
	Read        int
	Imported    int
	AlreadySeen int
	Passages    int
}

// Importer moves one chat's sqlite store into the warehouse. Documents
// are keyed by (source, external id), so re-running an import only adds
// messages that arrived since the previous run.
type Importer struct {
	session         ImportSession
	embedder        Embedder
	modelID         string
	minPassageWords int
	commitBatch     int
	log             *zap.SugaredLogger
}

func New(session ImportSession, embedder Embedder, modelID string, minPassageWords, commitBatch int, log *zap.SugaredLogger) *Importer {
	if modelID == "" {
		modelID = "llama-server"
	}
	if minPassageWords <= 0 {
		minPassageWords = 10
	}
	if commitBatch <= 0 {
		commitBatch = 10
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Importer{
		session:         session,
		embedder:        embedder,
		modelID:         modelID,
		minPassageWords: minPassageWords,
		commitBatch:     commitBatch,
		log:             log,
	}
}

// Run imports every message of chatID from reader into the warehouse.
func (i *Importer) Run(ctx context.Context, chatID int64, reader MessageReader) (Result, error) {
	result := Result{ChatID: chatID}

	sourceID, err := i.session.EnsureSource(ctx, strconv.FormatInt(chatID, 10), "chat")
	if err != nil {
		return result, err
	}

	threadID := strconv.FormatInt(chatID, 10)
	err = reader.ForEachMessageAsc(ctx, func(row sqlite.StoredMessage) error {
		result.Read++

		contactID, contactErr := i.resolveContact(ctx, row.SenderJSON)
		if contactErr != nil {
			return contactErr
		}

		documentID, inserted, docErr := i.session.InsertDocument(
			ctx, sourceID, strconv.FormatInt(row.ID, 10), threadID, row.Date, contactID, row.Text,
		)
		if docErr != nil {
			return docErr
		}
		if !inserted {
			result.AlreadySeen++
			return nil
		}

		if attErr := i.importAttachments(ctx, documentID, row); attErr != nil {
			return attErr
		}

		passage := strings.TrimSpace(row.Text)
		if passage != "" && len(strings.Fields(passage)) > i.minPassageWords {
			words := len(strings.Fields(passage))
			passageID, passErr := i.session.InsertPassage(ctx, documentID, 0, words, passage)
			if passErr != nil {
				return passErr
			}
			embedding := i.embedder.EmbedOrZero(ctx, passage)
			if embErr := i.session.InsertPassageEmbedding(ctx, passageID, i.modelID, embedding); embErr != nil {
				return embErr
			}
			result.Passages++
		}

		result.Imported++
		if result.Imported%i.commitBatch == 0 {
			i.log.Infow("import progress", "chat_id", chatID, "imported", result.Imported)
			return i.session.Commit(ctx)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if err := i.session.Commit(ctx); err != nil {
		return result, err
	}
	i.log.Infow("import complete",
		"chat_id", chatID,
		"read", result.Read,
		"imported", result.Imported,
		"already_seen", result.AlreadySeen,
		"passages", result.Passages,
	)
	return result, nil
}

// resolveContact maps the stored sender payload to a contact id, zero
// when the message has no usable sender. A malformed payload only costs
// that message its author attribution.
func (i *Importer) resolveContact(ctx context.Context, senderJSON string) (int64, error) {
	if strings.TrimSpace(senderJSON) == "" {
		return 0, nil
	}
	var sender domain.Sender
	if err := json.Unmarshal([]byte(senderJSON), &sender); err != nil {
		i.log.Warnw("unparseable sender payload", "error", err)
		return 0, nil
	}
	if strings.TrimSpace(sender.Name) == "" {
		return 0, nil
	}

	contactID, err := i.session.FindOrCreateContact(ctx, sender.Name)
	if err != nil {
		return 0, err
	}
	if sender.ID != 0 {
		if err := i.session.EnsureAlias(ctx, contactID, "telegram_id", strconv.FormatInt(sender.ID, 10)); err != nil {
			return 0, err
		}
	}
	if sender.Username != "" {
		if err := i.session.EnsureAlias(ctx, contactID, "username", sender.Username); err != nil {
			return 0, err
		}
	}
	return contactID, nil
}

func (i *Importer) importAttachments(ctx context.Context, documentID int64, row sqlite.StoredMessage) error {
	if strings.TrimSpace(row.MediaFilesJSON) == "" {
		return nil
	}
	var files []domain.MediaDescriptor
	if err := json.Unmarshal([]byte(row.MediaFilesJSON), &files); err != nil {
		i.log.Warnw("unparseable media payload", "msg_id", row.ID, "error", err)
		return nil
	}
	for _, file := range files {
		meta, err := json.Marshal(file)
		if err != nil {
			return err
		}
		if err := i.session.InsertAttachment(ctx, documentID, file.Filename, string(file.Type), "", string(meta)); err != nil {
			return err
		}
	}
	return nil
}
