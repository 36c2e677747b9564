package internal

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/md2conf/internal/tree"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Confluence ConfluenceConfig  `yaml:"confluence"`
	Sync       SyncConfig        `yaml:"sync"`
	Markup     MarkupConfig      `yaml:"markup"`
	Journal    JournalConfig     `yaml:"journal"`
	Watch      WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Confluence.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	// Only a simulated run can do without a parent page.
	return validation.Errors{
		"ancestor": validation.Validate(c.Confluence.Ancestor,
			validation.When(!c.Sync.Simulate, validation.Required.Error("is required unless simulating"))),
	}.Filter()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.Required, validation.In(LogFormatJSON, LogFormatText)),
	)
}

// ConfluenceConfig holds the credentials and target of the wiki.
type ConfluenceConfig struct {
	Username          string  `yaml:"username"`
	APIKey            string  `yaml:"api_key"`
	OrgName           string  `yaml:"orgname"`
	SpaceKey          string  `yaml:"space_key"`
	Ancestor          string  `yaml:"ancestor"`
	NoSSL             bool    `yaml:"nossl"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Retries           int     `yaml:"retries"`
}

// Validate validates the Confluence configuration.
func (c *ConfluenceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.OrgName, validation.Required),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.Retries, validation.Min(0)),
	)
}

// Space returns the configured space key, or the personal space of the user.
func (c *ConfluenceConfig) Space() string {
	if c.SpaceKey != "" {
		return c.SpaceKey
	}
	return "~" + c.Username
}

// SyncConfig controls what a run publishes and how.
type SyncConfig struct {
	Folders           []string `yaml:"folders"`
	Delete            bool     `yaml:"delete"`
	Simulate          bool     `yaml:"simulate"`
	LogHTML           bool     `yaml:"log_html"`
	LogDir            string   `yaml:"log_dir"`
	MissingFolderPage string   `yaml:"missing_folder_page"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Folders, validation.Required),
		validation.Field(&c.LogDir, validation.Required),
		validation.Field(&c.MissingFolderPage, validation.Required, validation.In(
			string(tree.PolicyAbort), string(tree.PolicySkip), string(tree.PolicyPlaceholder))),
	)
}

// MarkupConfig holds the decorations added to every page.
type MarkupConfig struct {
	Note     string `yaml:"note"`
	Contents bool   `yaml:"contents"`
}

// JournalConfig holds the optional SQLite run journal settings.
// An empty Path disables the journal.
type JournalConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// Enabled reports whether runs are journaled.
func (c *JournalConfig) Enabled() bool {
	return c.Path != ""
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HistoryLimit, validation.Required, validation.Min(1)),
	)
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
		},
		Confluence: ConfluenceConfig{
			RequestsPerSecond: 10,
			Retries:           3,
		},
		Sync: SyncConfig{
			Folders:           []string{"."},
			LogDir:            "logs",
			MissingFolderPage: string(tree.PolicyAbort),
		},
		Journal: JournalConfig{
			HistoryLimit: 20,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}
