// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//   - Database connection timeouts
//
// AppConfig is where everything specific to the edge worker lives: the
// storefront origin it fronts, the cache generation, the push reporting
// endpoint, and so on.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Max connection pool size
	MongoMinPoolSize uint64 // Min connection pool size

	// Origin and cache configuration
	Origin        string   // Storefront origin the worker fronts (e.g., http://localhost:3000)
	CacheVersion  string   // Active cache generation (e.g., shop-cache-v3); bump on deploy to invalidate
	CachePath     string   // Filesystem path of the cache database
	PrecachePaths []string // Paths fetched and cached unconditionally at install
	RulesFile     string   // Optional YAML file overriding the request classification rules
	SkipWaiting   bool     // Activate immediately after install instead of waiting

	// Image cache tuning
	ImageCacheFirst bool // Serve images cache-first with trimming instead of stale-while-revalidate
	ImageCacheMax   int  // Entry bound for the image cache when cache-first is enabled

	// Push configuration
	APIBaseURL     string        // Commerce API base for push-event reporting
	PushRateLimit  int           // Max notifications per subscriber per window (0 disables)
	PushRateWindow time.Duration // Rate limit window

	// Control and client identity
	ControlTokenHash string // bcrypt hash gating the worker message endpoint (blank = open, dev only)
	ClientHashKey    string // Key signing the client-id cookie
	ClientBlockKey   string // Optional key encrypting the client-id cookie (16/24/32 bytes)
}
