package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"soyosaki-backend/internal/adapters"
	"soyosaki-backend/internal/components/chrono"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/crawl"
	"soyosaki-backend/internal/keychain"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/searchcache"
	"soyosaki-backend/lib/configutil"
)

type Config struct {
	Workers      int    `json:"workers"`
	KeychainPath string `json:"keychain_path"`
	MaxPageSize  int    `json:"max_page_size"`

	DynamicCrawl  bool `json:"dynamic_crawl"`
	MaxScrolls    int  `json:"max_scrolls"`
	InitialWaitMs int  `json:"initial_wait_ms"`
	ScrollWaitMs  int  `json:"scroll_wait_ms"`

	CacheTTLMinutes int `json:"cache_ttl_minutes"`
	CacheMaxEntries int `json:"cache_max_entries"`

	AO3BrowserFallback bool `json:"ao3_browser_fallback"`
}

func (c Config) withDefaults() Config {
	if c.KeychainPath == "" {
		c.KeychainPath = "keychain.db"
	}
	return c
}

// loadConfig falls back to defaults when no config file is present; the
// CLI should work out of the box.
func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		slog.Warn("config not loaded, using defaults", "err", err)
	}
	return cfg.withDefaults()
}

type app struct {
	registry *adapters.Registry
	keys     *keychain.SqliteStore
	cache    *searchcache.Cache
	cfg      Config
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.keys != nil {
		_ = a.keys.Close()
	}
}

func buildApp(cfg Config) (*app, error) {
	tel := telemetry.SlogAPI{}

	keys, err := keychain.Open(cfg.KeychainPath)
	if err != nil {
		return nil, fmt.Errorf("open keychain: %w", err)
	}

	cache, err := searchcache.Open(searchcache.Options{
		TTL:        time.Duration(cfg.CacheTTLMinutes) * time.Minute,
		MaxEntries: cfg.CacheMaxEntries,
		Time:       chrono.StandardImpl{},
		Telemetry:  tel,
	})
	if err != nil {
		_ = keys.Close()
		return nil, fmt.Errorf("open search cache: %w", err)
	}

	ao3Adapter, err := adapters.NewAO3Adapter(adapters.AO3Options{
		BrowserFallback: cfg.AO3BrowserFallback,
		Telemetry:       tel,
	})
	if err != nil {
		_ = cache.Close()
		_ = keys.Close()
		return nil, err
	}

	registry := adapters.NewRegistry(cfg.Workers, tel)
	registry.Register(ao3Adapter)
	registry.Register(adapters.NewPixivAdapter(adapters.PixivOptions{
		Credentials: keys,
		Telemetry:   tel,
	}))
	registry.Register(adapters.NewLofterAdapter(adapters.LofterOptions{
		Credentials:  keys,
		Cache:        cache,
		Telemetry:    tel,
		DynamicCrawl: cfg.DynamicCrawl,
		Crawl: crawl.Options{
			MaxScrolls:  cfg.MaxScrolls,
			InitialWait: time.Duration(cfg.InitialWaitMs) * time.Millisecond,
			ScrollWait:  time.Duration(cfg.ScrollWaitMs) * time.Millisecond,
		},
	}))
	registry.Register(adapters.NewBilibiliAdapter(adapters.BilibiliOptions{
		Credentials: keys,
		Telemetry:   tel,
	}))

	return &app{registry: registry, keys: keys, cache: cache, cfg: cfg}, nil
}

func adapterFor(a *app, rawSource string) (adapters.Adapter, error) {
	source, err := novel.ParseSource(rawSource)
	if err != nil {
		return nil, err
	}
	adapter, ok := a.registry.Get(source)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for %s", source)
	}
	return adapter, nil
}

func printJSON(value any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		fatal("failed to encode output", err)
	}
}
