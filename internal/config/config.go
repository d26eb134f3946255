// Package config loads service configuration.
//
// Precedence, lowest first: built-in defaults, an optional YAML file,
// REPLYPLACE_* environment variables (dots become underscores, so
// canvas.width is REPLYPLACE_CANVAS_WIDTH), then any bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/ingest"
	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/jetstream"
	"github.com/roach88/replyplace/internal/store"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "REPLYPLACE"

// DefaultRootURI is the canvas post tracked when none is configured.
const DefaultRootURI = "at://did:plc:k6acu4chiwkixvdedcmdgmal/app.bsky.feed.post/3lkqdcmcync2n"

// Config keys.
const (
	KeyCanvasWidth          = "canvas.width"
	KeyCanvasHeight         = "canvas.height"
	KeyCanvasBackground     = "canvas.background"
	KeyCanvasHistory        = "canvas.history"
	KeyRootURI              = "root.uri"
	KeyBskyService          = "bsky.service"
	KeyBskyDepth            = "bsky.depth"
	KeyBskyTimeout          = "bsky.timeout"
	KeyJetstreamURL         = "jetstream.url"
	KeyJetstreamRewind      = "jetstream.rewind"
	KeySubscriberMinBackoff = "subscriber.min_backoff"
	KeySubscriberMaxBackoff = "subscriber.max_backoff"
	KeyBackfillAttempts     = "backfill.attempts"
	KeyBackfillRequired     = "backfill.required"
	KeyStoreDriver          = "store.driver"
	KeyStoreDSN             = "store.dsn"
	KeyHTTPAddr             = "http.addr"
)

// Config is the resolved service configuration.
type Config struct {
	Canvas     CanvasConfig
	RootURI    string
	Bsky       BskyConfig
	Jetstream  JetstreamConfig
	Subscriber SubscriberConfig
	Backfill   BackfillConfig
	Store      StoreConfig
	HTTPAddr   string
}

// CanvasConfig fixes the grid for the life of the process.
type CanvasConfig struct {
	Width      int
	Height     int
	Background string
	History    int
}

// BskyConfig addresses the AppView used for backfill.
type BskyConfig struct {
	Service string
	Depth   int
	Timeout time.Duration
}

// JetstreamConfig addresses the firehose.
type JetstreamConfig struct {
	URL    string
	Rewind time.Duration
}

// SubscriberConfig bounds reconnect delays.
type SubscriberConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// BackfillConfig controls startup seeding.
type BackfillConfig struct {
	Attempts int
	// Required aborts startup when the backfill fails.
	Required bool
}

// StoreConfig selects the command log backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// New returns a viper instance with defaults and environment overrides
// configured. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyCanvasWidth, canvas.DefaultWidth)
	v.SetDefault(KeyCanvasHeight, canvas.DefaultHeight)
	v.SetDefault(KeyCanvasBackground, canvas.DefaultBackground)
	v.SetDefault(KeyCanvasHistory, canvas.DefaultHistoryLimit)
	v.SetDefault(KeyRootURI, DefaultRootURI)
	v.SetDefault(KeyBskyService, bsky.DefaultService)
	v.SetDefault(KeyBskyDepth, bsky.DefaultDepth)
	v.SetDefault(KeyBskyTimeout, bsky.DefaultTimeout)
	v.SetDefault(KeyJetstreamURL, jetstream.DefaultURL)
	v.SetDefault(KeyJetstreamRewind, ingest.DefaultRewind)
	v.SetDefault(KeySubscriberMinBackoff, ingest.DefaultMinBackoff)
	v.SetDefault(KeySubscriberMaxBackoff, ingest.DefaultMaxBackoff)
	v.SetDefault(KeyBackfillAttempts, ingest.DefaultBackfillAttempts)
	v.SetDefault(KeyBackfillRequired, true)
	v.SetDefault(KeyStoreDriver, store.DriverMemory)
	v.SetDefault(KeyStoreDSN, store.MemoryDSN)
	v.SetDefault(KeyHTTPAddr, ":8787")
	return v
}

// Load reads path (if non-empty) into v and resolves the configuration.
// The result is validated.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Canvas: CanvasConfig{
			Width:      v.GetInt(KeyCanvasWidth),
			Height:     v.GetInt(KeyCanvasHeight),
			Background: strings.ToUpper(v.GetString(KeyCanvasBackground)),
			History:    v.GetInt(KeyCanvasHistory),
		},
		RootURI: v.GetString(KeyRootURI),
		Bsky: BskyConfig{
			Service: v.GetString(KeyBskyService),
			Depth:   v.GetInt(KeyBskyDepth),
			Timeout: v.GetDuration(KeyBskyTimeout),
		},
		Jetstream: JetstreamConfig{
			URL:    v.GetString(KeyJetstreamURL),
			Rewind: v.GetDuration(KeyJetstreamRewind),
		},
		Subscriber: SubscriberConfig{
			MinBackoff: v.GetDuration(KeySubscriberMinBackoff),
			MaxBackoff: v.GetDuration(KeySubscriberMaxBackoff),
		},
		Backfill: BackfillConfig{
			Attempts: v.GetInt(KeyBackfillAttempts),
			Required: v.GetBool(KeyBackfillRequired),
		},
		Store: StoreConfig{
			Driver: v.GetString(KeyStoreDriver),
			DSN:    v.GetString(KeyStoreDSN),
		},
		HTTPAddr: v.GetString(KeyHTTPAddr),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with no file, environment or flags.
func Default() Config {
	cfg, err := Load(New(), "")
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", key, fmt.Sprintf(format, args...)))
	}

	if c.Canvas.Width <= 0 {
		bad(KeyCanvasWidth, "must be positive, got %d", c.Canvas.Width)
	}
	if c.Canvas.Height <= 0 {
		bad(KeyCanvasHeight, "must be positive, got %d", c.Canvas.Height)
	}
	if !ir.ValidColour(c.Canvas.Background) {
		bad(KeyCanvasBackground, "must be #RRGGBB, got %q", c.Canvas.Background)
	}
	if c.Canvas.History <= 0 {
		bad(KeyCanvasHistory, "must be positive, got %d", c.Canvas.History)
	}
	if !bsky.IsPostURI(c.RootURI) {
		bad(KeyRootURI, "must be an at:// post URI, got %q", c.RootURI)
	}
	if !hasScheme(c.Bsky.Service, "http", "https") {
		bad(KeyBskyService, "must be an http(s) URL, got %q", c.Bsky.Service)
	}
	if c.Bsky.Depth <= 0 || c.Bsky.Depth > bsky.DefaultDepth {
		bad(KeyBskyDepth, "must be in 1..%d, got %d", bsky.DefaultDepth, c.Bsky.Depth)
	}
	if c.Bsky.Timeout <= 0 {
		bad(KeyBskyTimeout, "must be positive, got %s", c.Bsky.Timeout)
	}
	if !hasScheme(c.Jetstream.URL, "ws", "wss") {
		bad(KeyJetstreamURL, "must be a ws(s) URL, got %q", c.Jetstream.URL)
	}
	if c.Jetstream.Rewind < 0 {
		bad(KeyJetstreamRewind, "must not be negative, got %s", c.Jetstream.Rewind)
	}
	if c.Subscriber.MinBackoff <= 0 {
		bad(KeySubscriberMinBackoff, "must be positive, got %s", c.Subscriber.MinBackoff)
	}
	if c.Subscriber.MaxBackoff < c.Subscriber.MinBackoff {
		bad(KeySubscriberMaxBackoff, "must be at least %s, got %s", c.Subscriber.MinBackoff, c.Subscriber.MaxBackoff)
	}
	if c.Backfill.Attempts < 1 {
		bad(KeyBackfillAttempts, "must be at least 1, got %d", c.Backfill.Attempts)
	}
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite:
	default:
		bad(KeyStoreDriver, "must be %q or %q, got %q", store.DriverMemory, store.DriverSQLite, c.Store.Driver)
	}
	if c.HTTPAddr == "" {
		bad(KeyHTTPAddr, "must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// CanvasOptions converts the canvas settings for the reducer.
func (c Config) CanvasOptions() canvas.Options {
	return canvas.Options{
		Width:        c.Canvas.Width,
		Height:       c.Canvas.Height,
		Background:   c.Canvas.Background,
		HistoryLimit: c.Canvas.History,
	}
}

func hasScheme(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}
