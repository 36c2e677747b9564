package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/md2conf/internal"
	"github.com/starford/md2conf/internal/apperr"
	pkgconfig "github.com/starford/md2conf/pkg/config"
)

// loadConfig builds the configuration from defaults, the optional YAML file,
// then flags and their environment variables, in increasing precedence.
// space is the positional space key, empty when not given.
func loadConfig(cmd *cli.Command, space string) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.ReadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("username") {
		cfg.Confluence.Username = cmd.String("username")
	}
	if cmd.IsSet("apikey") {
		cfg.Confluence.APIKey = cmd.String("apikey")
	}
	if cmd.IsSet("orgname") {
		cfg.Confluence.OrgName = cmd.String("orgname")
	}
	if cmd.IsSet("ancestor") {
		cfg.Confluence.Ancestor = cmd.String("ancestor")
	}
	if space == "" {
		space = os.Getenv("CONFLUENCE_SPACE_KEY")
	}
	if space != "" {
		cfg.Confluence.SpaceKey = space
	}
	if cmd.IsSet("nossl") {
		cfg.Confluence.NoSSL = cmd.Bool("nossl")
	}

	if cmd.IsSet("folder") {
		cfg.Sync.Folders = cmd.StringSlice("folder")
	}
	if cmd.IsSet("delete") {
		cfg.Sync.Delete = cmd.Bool("delete")
	}
	if cmd.IsSet("simulate") {
		cfg.Sync.Simulate = cmd.Bool("simulate")
	}
	if cmd.IsSet("log-html") {
		cfg.Sync.LogHTML = cmd.Bool("log-html")
	}
	if cmd.IsSet("missing-folder-page") {
		cfg.Sync.MissingFolderPage = cmd.String("missing-folder-page")
	}

	if cmd.IsSet("contents") {
		cfg.Markup.Contents = cmd.Bool("contents")
	}
	if cmd.IsSet("note") {
		cfg.Markup.Note = cmd.String("note")
	}

	if cmd.IsSet("loglevel") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("loglevel"))); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	if cmd.IsSet("journal") {
		cfg.Journal.Path = cmd.String("journal")
	}
	if cmd.IsSet("watch") {
		cfg.Watch.Enabled = cmd.Bool("watch")
	}
	return cfg, nil
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, cmd.Args().First())
	if err != nil {
		return err
	}
	if err := pkgconfig.Validate(cfg); err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, "")
	if err != nil {
		return err
	}
	if cmd.IsSet("limit") {
		cfg.Journal.HistoryLimit = int(cmd.Int("limit"))
	}
	if err := pkgconfig.Validate(&cfg.Journal); err != nil {
		return err
	}
	opts := []internal.Option{internal.WithConfig(cfg)}
	if path := cmd.Args().First(); path != "" {
		opts = append(opts, internal.WithHistoryPath(path))
	}
	return internal.RunHistory(ctx, opts...)
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, "")
	if err != nil {
		return err
	}
	if err := pkgconfig.Validate(&cfg.Sync); err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:      "md2conf",
		Usage:     "Publish a folder of Markdown files as a Confluence page tree",
		ArgsUsage: "[SPACE_KEY]",
		Action:    runSync,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "Confluence username",
				Sources: cli.EnvVars("CONFLUENCE_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "apikey",
				Aliases: []string{"p"},
				Usage:   "Confluence API key",
				Sources: cli.EnvVars("CONFLUENCE_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "orgname",
				Aliases: []string{"o"},
				Usage:   "Atlassian Cloud organisation name, or the host of the Confluence site",
				Sources: cli.EnvVars("CONFLUENCE_ORGNAME"),
			},
			&cli.StringFlag{
				Name:    "ancestor",
				Aliases: []string{"a"},
				Usage:   "ID of the page the tree is published under",
				Sources: cli.EnvVars("CONFLUENCE_ANCESTOR"),
			},
			&cli.StringSliceFlag{
				Name:    "folder",
				Aliases: []string{"f"},
				Usage:   "Folder of Markdown files to publish (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "contents",
				Aliases: []string{"c"},
				Usage:   "Add a table of contents to every page",
			},
			&cli.BoolFlag{
				Name:    "nossl",
				Aliases: []string{"n"},
				Usage:   "Use http instead of https",
			},
			&cli.BoolFlag{
				Name:    "delete",
				Aliases: []string{"d"},
				Usage:   "Delete labeled pages below the ancestor that no longer have a local file",
			},
			&cli.BoolFlag{
				Name:    "simulate",
				Aliases: []string{"s"},
				Usage:   "Convert only and write the markup to a log file",
			},
			&cli.BoolFlag{
				Name:  "log-html",
				Usage: "In simulate mode, also write one HTML file per page",
			},
			&cli.StringFlag{
				Name:    "loglevel",
				Aliases: []string{"l"},
				Usage:   "Log level: debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars("MD2CONF_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "note",
				Usage:   "Note shown at the top of every page",
				Sources: cli.EnvVars("CONFLUENCE_NOTE"),
			},
			&cli.StringFlag{
				Name:  "missing-folder-page",
				Usage: "What to do with a folder without a folder page: abort, skip or placeholder",
				Value: "abort",
			},
			&cli.StringFlag{
				Name:    "journal",
				Usage:   "Path of the SQLite run journal (disabled when empty)",
				Sources: cli.EnvVars("MD2CONF_JOURNAL"),
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Keep running and sync again whenever the folders change",
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to an optional config file",
				DefaultText: "md2conf.yaml",
				Value:       "md2conf.yaml",
				Sources:     cli.EnvVars("MD2CONF_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "history",
				Usage:     "Show journaled runs, or the journaled events of one document",
				ArgsUsage: "[PATH]",
				Action:    runHistory,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of entries to show",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the conversion tools over MCP on stdin/stdout",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, apperr.ErrPartialFailure) {
			slog.Error("sync incomplete", slog.String("error", err.Error()))
		} else {
			slog.Error("application error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
