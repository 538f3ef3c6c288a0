// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// defaultPrecachePaths are the storefront pages cached unconditionally
// at install when no override is configured. The offline page must be
// in this list or the navigation fallback has nothing to serve.
var defaultPrecachePaths = []string{
	"/", "/about", "/careers", "/privacy", "/terms",
	"/returns", "/shipping", "/offline", "/favicon.ico",
}

// appConfigKeys defines the configuration keys for ShopEdge.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, origin, cache_version, etc.
//   - Environment variables: SHOPEDGE_MONGO_URI, SHOPEDGE_ORIGIN, etc.
//   - Command-line flags: --mongo_uri, --origin, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "shopedge", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Origin and cache configuration
	{Name: "origin", Default: "http://localhost:3000", Desc: "Storefront origin the worker fronts"},
	{Name: "cache_version", Default: "shop-cache-v1", Desc: "Active cache generation; bump on deploy to invalidate"},
	{Name: "cache_path", Default: "./data/cache", Desc: "Filesystem path of the cache database"},
	{Name: "precache_paths", Default: "", Desc: "Comma-separated paths cached at install (blank = built-in list)"},
	{Name: "rules_file", Default: "", Desc: "YAML file overriding request classification rules"},
	{Name: "skip_waiting", Default: false, Desc: "Activate immediately after install"},

	// Image cache tuning
	{Name: "image_cache_first", Default: false, Desc: "Serve images cache-first with trimming"},
	{Name: "image_cache_max", Default: 150, Desc: "Image cache entry bound when cache-first is enabled"},

	// Push configuration
	{Name: "api_base_url", Default: "http://localhost:3000", Desc: "Commerce API base for push-event reporting"},
	{Name: "push_rate_limit", Default: 30, Desc: "Max notifications per subscriber per window (0 disables)"},
	{Name: "push_rate_window", Default: "1m", Desc: "Push rate limit window (e.g., 1m, 30s)"},

	// Control and client identity
	{Name: "control_token_hash", Default: "", Desc: "bcrypt hash gating the worker message endpoint (blank = open, dev only)"},
	{Name: "client_hash_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Key signing the client-id cookie (must be strong in production)"},
	{Name: "client_block_key", Default: "", Desc: "Optional key encrypting the client-id cookie (16/24/32 bytes)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// It is called early in startup so that both WAFFLE and the app have
// access to configuration before any backends or handlers are built.
// CoreConfig comes from the shared WAFFLE layer; AppConfig is specific
// to this app.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, SHOPEDGE_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "SHOPEDGE", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		Origin:        appValues.String("origin"),
		CacheVersion:  appValues.String("cache_version"),
		CachePath:     appValues.String("cache_path"),
		PrecachePaths: splitPaths(appValues.String("precache_paths")),
		RulesFile:     appValues.String("rules_file"),
		SkipWaiting:   appValues.Bool("skip_waiting"),

		ImageCacheFirst: appValues.Bool("image_cache_first"),
		ImageCacheMax:   appValues.Int("image_cache_max"),

		APIBaseURL:     appValues.String("api_base_url"),
		PushRateLimit:  appValues.Int("push_rate_limit"),
		PushRateWindow: appValues.Duration("push_rate_window", time.Minute),

		ControlTokenHash: appValues.String("control_token_hash"),
		ClientHashKey:    appValues.String("client_hash_key"),
		ClientBlockKey:   appValues.String("client_block_key"),
	}

	if len(appCfg.PrecachePaths) == 0 {
		appCfg.PrecachePaths = defaultPrecachePaths
	}

	return coreCfg, appCfg, nil
}

// splitPaths parses a comma-separated path list, dropping empties.
func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// This is the right place to enforce required fields or invariants that
// involve both the core and app configs.
//
// ShopEdge validates the MongoDB URI and the origin URL to catch
// configuration errors early, before attempting to connect.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	u, err := url.Parse(appCfg.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin must be an absolute URL, got %q", appCfg.Origin)
	}

	if appCfg.CacheVersion == "" {
		return fmt.Errorf("cache_version must not be blank")
	}

	if key := len(appCfg.ClientBlockKey); key != 0 && key != 16 && key != 24 && key != 32 {
		return fmt.Errorf("client_block_key must be 16, 24, or 32 bytes, got %d", key)
	}

	if coreCfg.Env == "prod" && appCfg.ControlTokenHash == "" {
		logger.Warn("control_token_hash is blank; the worker message endpoint is open")
	}

	return nil
}
