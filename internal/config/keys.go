package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "api.base_url", typ: kString, env: "OCRDESK_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.timeout", typ: kString, env: "OCRDESK_API_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.API.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Timeout },
	},
	{
		key: "api.long_timeout", typ: kString, env: "OCRDESK_API_LONG_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.API.LongTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.API.LongTimeout },
	},
	{
		key: "ocr.model", typ: kString, env: "OCRDESK_OCR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OCR.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OCR.Model },
	},
	{
		key: "ocr.language", typ: kString, env: "OCRDESK_OCR_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.OCR.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.OCR.Language },
	},
	{
		key: "image.quality", typ: kInt, env: "OCRDESK_IMAGE_QUALITY",
		apply:   func(cfg *Config, v any) { cfg.Image.Quality = v.(int) },
		extract: func(cfg Config) any { return cfg.Image.Quality },
	},
	{
		key: "image.zoom", typ: kFloat, env: "OCRDESK_IMAGE_ZOOM",
		apply:   func(cfg *Config, v any) { cfg.Image.Zoom = v.(float64) },
		extract: func(cfg Config) any { return cfg.Image.Zoom },
	},
	{
		key: "image.max_dimension", typ: kInt, env: "OCRDESK_IMAGE_MAX_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Image.MaxDimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Image.MaxDimension },
	},
	{
		key: "batch.concurrency", typ: kInt, env: "OCRDESK_BATCH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Batch.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Concurrency },
	},
	{
		key: "batch.rate_per_second", typ: kFloat, env: "OCRDESK_BATCH_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Batch.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Batch.RatePerSecond },
	},
	{
		key: "history.cache_ttl", typ: kString, env: "OCRDESK_HISTORY_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.History.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.History.CacheTTL },
	},
	{
		key: "display.utc_offset", typ: kString, env: "OCRDESK_DISPLAY_UTC_OFFSET",
		apply:   func(cfg *Config, v any) { cfg.Display.UTCOffset = v.(string) },
		extract: func(cfg Config) any { return cfg.Display.UTCOffset },
	},
	{
		key: "editor.autosave_delay", typ: kString, env: "OCRDESK_EDITOR_AUTOSAVE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Editor.AutosaveDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Editor.AutosaveDelay },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OCRDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "OCRDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
