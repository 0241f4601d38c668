package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/l4rz/memefax/internal/config"
	"github.com/l4rz/memefax/internal/crawler"
	"github.com/l4rz/memefax/internal/domain"
	"github.com/l4rz/memefax/internal/embeddings"
	"github.com/l4rz/memefax/internal/importer"
	"github.com/l4rz/memefax/internal/ratelimit"
	"github.com/l4rz/memefax/internal/store/sqlite"
	"github.com/l4rz/memefax/internal/telegram"
	"github.com/l4rz/memefax/internal/warehouse"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const appVersion = "0.2.0"

func setup(c *cli.Context) (*config.Config, *zap.SugaredLogger, error) {
	log, err := buildLogger(c.String("log-level"))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func telegramService(cfg *config.Config) (*telegram.Service, error) {
	service := telegram.NewService(cfg.Telegram.SessionPath)
	if err := service.Configure(cfg.Telegram.APIID, cfg.Telegram.APIHash); err != nil {
		return nil, err
	}
	return service, nil
}

func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.MinInterval)
}

func loginCommand(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	service, err := telegramService(cfg)
	if err != nil {
		return err
	}

	code := c.String("code")
	if code == "" {
		phone := c.String("phone")
		if phone == "" {
			return errors.New("--phone is required to request a login code")
		}
		status, err := service.RequestCode(c.Context, phone)
		if err != nil {
			return err
		}
		if status.Authorized {
			fmt.Printf("Already authorized as %s\n", status.UserDisplay)
			return nil
		}
		fmt.Printf("Login code sent to %s. Rerun with --code to finish.\n", phone)
		return nil
	}

	status, err := service.SignIn(c.Context, code, c.String("password"))
	if err != nil {
		if errors.Is(err, telegram.ErrPasswordNeeded) {
			return errors.New("account has two-factor auth enabled, rerun with --password")
		}
		return err
	}
	fmt.Printf("Successfully connected as %s\n", status.UserDisplay)
	return nil
}

func chatsCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	service, err := telegramService(cfg)
	if err != nil {
		return err
	}
	limiter := newLimiter(cfg)

	manifest, err := sqlite.OpenManifest(cfg.ManifestDBPath())
	if err != nil {
		return err
	}
	defer manifest.Close()
	if err := manifest.Migrate(c.Context); err != nil {
		return err
	}

	var entries []domain.ChatManifestEntry
	err = service.Connect(c.Context, func(ctx context.Context, conn *telegram.Conn) error {
		for _, entry := range conn.Dialogs() {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			full, infoErr := conn.ChatInfo(ctx, entry.ChatID)
			if infoErr != nil {
				log.Warnw("full chat info unavailable", "chat_id", entry.ChatID, "error", infoErr)
				full = entry
			}
			entries = append(entries, full)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := manifest.UpsertChat(c.Context, entry); err != nil {
			return err
		}
		fmt.Printf("%s: %s (ID: %d)\n", entry.Kind, entry.Name, entry.ChatID)
	}

	// The JSON manifest mirrors the full store, previously seen chats
	// included, not just this listing.
	known, err := manifest.ListChats(c.Context)
	if err != nil {
		return err
	}
	if err := writeManifestJSON(cfg.ManifestJSONPath(), known); err != nil {
		log.Warnw("manifest json not written", "error", err)
	} else {
		fmt.Printf("Chat manifest written to: %s\n", cfg.ManifestJSONPath())
	}
	fmt.Printf("%d chats in manifest.\n", len(known))
	return nil
}

func writeManifestJSON(path string, entries []domain.ChatManifestEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload := struct {
		Version     string                    `json:"version"`
		LastUpdated time.Time                 `json:"last_updated"`
		Chats       []domain.ChatManifestEntry `json:"chats"`
	}{
		Version:     appVersion,
		LastUpdated: time.Now().UTC(),
		Chats:       entries,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func crawlCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	allUsers := c.Bool("all-users")
	allGroups := c.Bool("all-groups")
	if allUsers && allGroups {
		return errors.New("use either --all-users or --all-groups, not both")
	}
	var chatID int64
	if !allUsers && !allGroups {
		if c.NArg() != 1 {
			return errors.New("pass a chat id, or --all-users / --all-groups")
		}
		chatID, err = strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q", c.Args().First())
		}
	}

	service, err := telegramService(cfg)
	if err != nil {
		return err
	}
	limiter := newLimiter(cfg)

	// Crawl targets come from the manifest, so `chats` must have run
	// first. An unknown manifest or chat id fails before any network work.
	manifest, err := sqlite.OpenExistingManifest(cfg.ManifestDBPath())
	if err != nil {
		return err
	}
	defer manifest.Close()

	var targets []domain.ChatManifestEntry
	switch {
	case allUsers:
		targets, err = manifest.ListChatsByKind(c.Context, domain.ChatKindUser)
	case allGroups:
		targets, err = manifest.ListChatsByKind(c.Context, domain.ChatKindGroup, domain.ChatKindSupergroup)
	default:
		var entry domain.ChatManifestEntry
		entry, err = manifest.GetChat(c.Context, chatID)
		targets = []domain.ChatManifestEntry{entry}
	}
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.New("no matching chats in the manifest")
	}

	single := !allUsers && !allGroups
	return service.Connect(c.Context, func(ctx context.Context, conn *telegram.Conn) error {
		for _, entry := range targets {
			fmt.Printf("Processing %s: %s (ID: %d)\n", entry.Kind, entry.Name, entry.ChatID)
			if err := crawlOneChat(ctx, cfg, conn, limiter, manifest, entry, log); err != nil {
				if single || ctx.Err() != nil {
					return err
				}
				log.Errorw("chat crawl failed", "chat_id", entry.ChatID, "error", err)
			}
		}
		return nil
	})
}

func crawlOneChat(ctx context.Context, cfg *config.Config, conn *telegram.Conn, limiter *ratelimit.Limiter, manifest *sqlite.ManifestStore, entry domain.ChatManifestEntry, log *zap.SugaredLogger) error {
	store, err := sqlite.OpenChat(cfg.ChatDBPath(entry.ChatID))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	fetcher := crawler.NewFetcher(conn, limiter, cfg.MediaDir(entry.ChatID), cfg.Media.MaxBytes, log)
	result, err := crawler.New(conn, store, fetcher, limiter, cfg.ChatDir(entry.ChatID), log).Run(ctx, entry.ChatID)
	if err != nil {
		return err
	}

	if count, countErr := store.CountMessages(ctx); countErr == nil {
		entry.MessagesCount = count
	}
	if latest, dateErr := store.MaxMessageDate(ctx); dateErr == nil {
		entry.LastMessageDate = latest
	}
	if err := manifest.UpsertChat(ctx, entry); err != nil {
		return err
	}

	fmt.Printf("Crawled chat %d (%s sync): %d processed, %d skipped, snapshot %s\n",
		result.ChatID, result.Mode, result.Processed, result.Skipped, result.SnapshotPath)
	return nil
}

func exportCommand(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("pass the chat id to export")
	}
	chatID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q", c.Args().First())
	}

	store, err := sqlite.OpenExistingChat(cfg.ChatDBPath(chatID))
	if err != nil {
		return err
	}
	defer store.Close()

	type exportRecord struct {
		ID           int64           `json:"id"`
		Date         time.Time       `json:"date"`
		FromID       int64           `json:"from_id,omitempty"`
		Text         string          `json:"text"`
		ReplyToMsgID int64           `json:"reply_to_msg_id,omitempty"`
		ForwardFrom  int64           `json:"forward_from,omitempty"`
		MediaType    string          `json:"media_type,omitempty"`
		Sender       json.RawMessage `json:"sender,omitempty"`
		MediaFiles   json.RawMessage `json:"media_files"`
	}

	records := make([]exportRecord, 0, 1024)
	err = store.ForEachMessageAsc(c.Context, func(row sqlite.StoredMessage) error {
		record := exportRecord{
			ID:           row.ID,
			Date:         row.Date,
			FromID:       row.FromID,
			Text:         row.Text,
			ReplyToMsgID: row.ReplyToMsgID,
			ForwardFrom:  row.ForwardFrom,
			MediaType:    row.MediaType,
			MediaFiles:   json.RawMessage("[]"),
		}
		if row.SenderJSON != "" && json.Valid([]byte(row.SenderJSON)) {
			record.Sender = json.RawMessage(row.SenderJSON)
		}
		if row.MediaFilesJSON != "" && json.Valid([]byte(row.MediaFilesJSON)) {
			record.MediaFiles = json.RawMessage(row.MediaFilesJSON)
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	exportPath := filepath.Join(cfg.ChatDir(chatID), "messages.json")
	if err := os.WriteFile(exportPath, raw, 0o644); err != nil {
		return err
	}
	fmt.Printf("Exported %d messages to %s\n", len(records), exportPath)
	return nil
}

func initDBCommand(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	wh, err := warehouse.New(c.Context, cfg.Warehouse.DSN)
	if err != nil {
		return err
	}
	defer wh.Close()

	if err := wh.InitSchema(c.Context, cfg.Embeddings.Dimensions); err != nil {
		return err
	}
	fmt.Println("Database initialized successfully.")
	return nil
}

func importCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("pass the chat id to import")
	}
	chatID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q", c.Args().First())
	}

	manifest, err := sqlite.OpenExistingManifest(cfg.ManifestDBPath())
	if err != nil {
		return err
	}
	if _, err := manifest.GetChat(c.Context, chatID); err != nil {
		manifest.Close()
		return err
	}
	manifest.Close()

	store, err := sqlite.OpenExistingChat(cfg.ChatDBPath(chatID))
	if err != nil {
		return err
	}
	defer store.Close()

	wh, err := warehouse.New(c.Context, cfg.Warehouse.DSN)
	if err != nil {
		return err
	}
	defer wh.Close()

	session, err := wh.BeginImport(c.Context)
	if err != nil {
		return err
	}

	embedder := embeddings.NewHTTPClient(cfg.Embeddings.ServerURL, cfg.Embeddings.ModelID, cfg.Embeddings.Dimensions, log)
	imp := importer.New(session, embedder, cfg.Embeddings.ModelID, cfg.Importer.MinPassageWords, cfg.Importer.CommitBatch, log)

	result, err := imp.Run(c.Context, chatID, store)
	if err != nil {
		if rbErr := session.Rollback(c.Context); rbErr != nil {
			log.Warnw("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := session.Close(c.Context); err != nil {
		return err
	}
	fmt.Printf("Import complete. %d messages imported (%d already present, %d passages).\n",
		result.Imported, result.AlreadySeen, result.Passages)
	return nil
}

func searchCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("pass the search query as a single argument")
	}
	query := c.Args().First()

	embedder := embeddings.NewHTTPClient(cfg.Embeddings.ServerURL, cfg.Embeddings.ModelID, cfg.Embeddings.Dimensions, log)
	vector, err := embedder.Embed(c.Context, query)
	if err != nil {
		return fmt.Errorf("failed to get embedding for query: %w", err)
	}

	wh, err := warehouse.New(c.Context, cfg.Warehouse.DSN)
	if err != nil {
		return err
	}
	defer wh.Close()

	matches, err := wh.SearchPassages(c.Context, vector, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No passages found in the database.")
		return nil
	}

	for i, match := range matches {
		fmt.Printf("\nRank %d | Score: %.4f\n", i+1, match.Similarity)
		fmt.Printf("Text: %s\n", match.Text)
	}
	return nil
}
