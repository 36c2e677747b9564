package internal

import (
	"io"
	"net/http"
	"os"
	"time"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config      *Config
	out         io.Writer
	logOutput   io.Writer
	httpClient  *http.Client
	retryDelay  time.Duration
	historyPath string
}

func newApplication(opts []Option) *application {
	app := &application{
		out:        os.Stdout,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithOutput sets where command output (history tables) is written.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithLogOutput sets where log records are written. Run defaults to stdout,
// RunMCP to stderr since stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithHTTPClient sets the HTTP client used to talk to Confluence.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *application) {
		a.httpClient = hc
	}
}

// WithRetryDelay sets the first delay between retried requests.
func WithRetryDelay(d time.Duration) Option {
	return func(a *application) {
		a.retryDelay = d
	}
}

// WithHistoryPath makes RunHistory list the events of one document instead
// of the recent runs.
func WithHistoryPath(path string) Option {
	return func(a *application) {
		a.historyPath = path
	}
}
