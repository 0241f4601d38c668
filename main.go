package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "memefax",
		Usage: "Telegram chat history downloader and archiver",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authorize the Telegram session with a phone code",
				Action: loginCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "phone",
						Usage: "Phone number including country code",
					},
					&cli.StringFlag{
						Name:  "code",
						Usage: "Login code received in Telegram",
					},
					&cli.StringFlag{
						Name:  "password",
						Usage: "Two-factor password, if the account has one",
					},
				},
			},
			{
				Name:   "chats",
				Usage:  "List account dialogs and refresh the chat manifest",
				Action: chatsCommand,
			},
			{
				Name:      "crawl",
				Usage:     "Download message history into the local archive",
				ArgsUsage: "[chat-id]",
				Action:    crawlCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all-users",
						Usage: "Crawl every private chat",
					},
					&cli.BoolFlag{
						Name:  "all-groups",
						Usage: "Crawl every group chat (including supergroups)",
					},
				},
			},
			{
				Name:      "export",
				Usage:     "Dump one chat's archive to a JSON file",
				ArgsUsage: "<chat-id>",
				Action:    exportCommand,
			},
			{
				Name:   "init-db",
				Usage:  "Create the warehouse schema (drops existing data)",
				Action: initDBCommand,
			},
			{
				Name:      "import",
				Usage:     "Import one crawled chat into the warehouse",
				ArgsUsage: "<chat-id>",
				Action:    importCommand,
			},
			{
				Name:      "search",
				Usage:     "Semantic search over imported passages",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of passages to return",
						Value: 5,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildLogger(level string) (*zap.SugaredLogger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
