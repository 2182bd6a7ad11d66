package config

import (
	"fmt"
	"strings"
	"time"
)

// defaultAPIBaseURL is overridden at build time with
// -ldflags "-X github.com/mnemion/ocrdesk/internal/config.defaultAPIBaseURL=https://...".
var defaultAPIBaseURL = "http://localhost:5000"

type Config struct {
	API     APIConfig
	OCR     OCRConfig
	Image   ImageConfig
	Batch   BatchConfig
	History HistoryConfig
	Display DisplayConfig
	Editor  EditorConfig
	Storage StorageConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string
	// Timeout and LongTimeout are Go duration strings.
	Timeout     string
	LongTimeout string
}

type OCRConfig struct {
	Model    string
	Language string
}

type ImageConfig struct {
	Quality      int
	Zoom         float64
	MaxDimension int
}

type BatchConfig struct {
	Concurrency   int
	RatePerSecond float64
}

type HistoryConfig struct {
	CacheTTL string
}

type DisplayConfig struct {
	UTCOffset string
}

type EditorConfig struct {
	AutosaveDelay string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:     defaultAPIBaseURL,
			Timeout:     "30s",
			LongTimeout: "60s",
		},
		OCR: OCRConfig{
			Model:    "auto",
			Language: "auto",
		},
		Image: ImageConfig{
			Quality:      90,
			Zoom:         1.0,
			MaxDimension: 4096,
		},
		Batch: BatchConfig{
			Concurrency: 1,
		},
		History: HistoryConfig{
			CacheTTL: "10s",
		},
		Display: DisplayConfig{
			UTCOffset: "+09:00",
		},
		Editor: EditorConfig{
			AutosaveDelay: "1s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.ocrdesk.app).
// Elsewhere it is a sectioned JSON file at $XDG_CONFIG_HOME/ocrdesk/config.json.
// OCRDESK_CONFIG selects an explicit JSON file on every platform.
//
// Environment variables (OCRDESK_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that the key table cannot express.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	for key, raw := range map[string]string{
		"api.timeout":           c.API.Timeout,
		"api.long_timeout":      c.API.LongTimeout,
		"history.cache_ttl":     c.History.CacheTTL,
		"editor.autosave_delay": c.Editor.AutosaveDelay,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 1 and 100, got %d", c.Image.Quality)
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.RatePerSecond < 0 {
		return fmt.Errorf("batch.rate_per_second must not be negative")
	}
	return nil
}

// Duration parses a duration field, returning fallback when it is malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Location returns the fixed zone used to display timestamps.
func (c Config) Location() (*time.Location, error) {
	return ParseOffset(c.Display.UTCOffset)
}

// ParseOffset turns "+09:00" style offsets into a fixed time zone.
func ParseOffset(s string) (*time.Location, error) {
	if s == "" || s == "Z" || s == "UTC" {
		return time.UTC, nil
	}
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return nil, fmt.Errorf("invalid display.utc_offset %q: %w", s, err)
	}
	_, off := t.Zone()
	return time.FixedZone(s, off), nil
}
