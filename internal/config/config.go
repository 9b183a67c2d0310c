// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	App      App
	HTTP     HTTP
	Dir      Dir
	Queue    Queue
	Executor Executor
	Proxy    Proxy
	Notify   Notify
	Client   Client
}

// App holds application-wide configuration.
type App struct {
	LogLevel  string `env:"NAGARE_APP_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"NAGARE_APP_LOG_FORMAT" envDefault:"json"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Addr            string        `env:"NAGARE_HTTP_ADDR"             envDefault:"127.0.0.1:8750"`
	HandlerTimeout  time.Duration `env:"NAGARE_HTTP_HANDLER_TIMEOUT"  envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"NAGARE_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Dir holds directory paths for state, cache and the cookie file.
type Dir struct {
	Data  string `env:"NAGARE_DIR_DATA"  envDefault:"./data"`       // sqlite db, settings.toml, lock file
	Cache string `env:"NAGARE_DIR_CACHE" envDefault:"./data/cache"` // yt-dlp cache (meta, sigs)
	// Downloads is the output dir written into fresh settings. Settings own it afterwards.
	Downloads string `env:"NAGARE_DIR_DOWNLOAD" envDefault:"./data/downloads"`

	// must contain cookies.txt file
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"NAGARE_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Data, err = filepath.Abs(c.Data); err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// DBPath is the sqlite database location.
func (c *Dir) DBPath() string {
	return filepath.Join(c.Data, "nagare.db")
}

// SettingsPath is the user settings file location.
func (c *Dir) SettingsPath() string {
	return filepath.Join(c.Data, "settings.toml")
}

// LockPath is the single instance lock location.
func (c *Dir) LockPath() string {
	return filepath.Join(c.Data, "nagare.lock")
}

// Queue holds orchestration configuration.
type Queue struct {
	// ConvertDelay is the pause between a finished transfer and its automatic conversion.
	ConvertDelay time.Duration `env:"NAGARE_QUEUE_CONVERT_DELAY" envDefault:"2s"`
	// EventBuffer is the capacity of the executor event stream.
	EventBuffer int `env:"NAGARE_QUEUE_EVENT_BUFFER" envDefault:"256"`
	// MetadataMode is "barrier" or "pool".
	MetadataMode string `env:"NAGARE_QUEUE_METADATA_MODE" envDefault:"barrier"`
	// MetadataCores overrides the detected core count when positive.
	MetadataCores int `env:"NAGARE_QUEUE_METADATA_CORES" envDefault:"0"`
	// MetadataTimeout bounds each metadata fetch stage.
	MetadataTimeout time.Duration `env:"NAGARE_QUEUE_METADATA_TIMEOUT" envDefault:"30s"`
	// PlaylistLimit caps the entries admitted from one playlist URL.
	PlaylistLimit int `env:"NAGARE_QUEUE_PLAYLIST_LIMIT" envDefault:"200"`
}

// Executor holds external process configuration.
type Executor struct {
	// Kind is "ytdlp" or "mock".
	Kind       string `env:"NAGARE_EXECUTOR_KIND"        envDefault:"ytdlp"`
	YTdlpPath  string `env:"NAGARE_EXECUTOR_YTDLP_PATH"  envDefault:"yt-dlp"`
	FFmpegPath string `env:"NAGARE_EXECUTOR_FFMPEG_PATH" envDefault:"ffmpeg"`
	// Attempts is the number of retries after the first try of a transient transfer failure.
	Attempts int `env:"NAGARE_EXECUTOR_ATTEMPTS" envDefault:"5"`
	// Backoff is the first retry delay, doubled after every attempt.
	Backoff time.Duration `env:"NAGARE_EXECUTOR_BACKOFF" envDefault:"10s"`
	// ProgressInterval is the yt-dlp progress callback frequency.
	ProgressInterval time.Duration `env:"NAGARE_EXECUTOR_PROGRESS_INTERVAL" envDefault:"250ms"`
	// SimulateTime is the length of one simulated transfer in the mock executor.
	SimulateTime time.Duration `env:"NAGARE_EXECUTOR_SIMULATE_TIME" envDefault:"5s"`
}

// Proxy holds proxy configuration for outbound yt-dlp calls.
type Proxy struct {
	// List is a comma-separated list of proxy URLs in socks5h format
	List string `env:"NAGARE_PROXY_LIST" envDefault:""`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"NAGARE_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"NAGARE_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}

// Notify holds notification configuration.
type Notify struct {
	// NtfyTopic is a full topic URL, e.g. https://ntfy.sh/my-downloads. Empty disables notifications.
	NtfyTopic string        `env:"NAGARE_NOTIFY_NTFY_TOPIC" envDefault:""`
	Timeout   time.Duration `env:"NAGARE_NOTIFY_TIMEOUT"    envDefault:"10s"`
}

// Client holds configuration for the CLI commands talking to a running server.
type Client struct {
	ServerURL string        `env:"NAGARE_CLIENT_SERVER_URL" envDefault:"http://127.0.0.1:8750"`
	Timeout   time.Duration `env:"NAGARE_CLIENT_TIMEOUT"    envDefault:"30s"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}
