// Package lifecycle brings a worker version online and garbage-collects
// obsolete cache generations. The state machine mirrors the browser
// worker lifecycle: installing → installed → activating → activated,
// with activated terminal until a new version supersedes it. There is
// no rollback; an activation always runs to completion once triggered.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pellmarket/shopedge/internal/app/cache"
	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
	"go.uber.org/zap"
)

// State is the worker lifecycle state.
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// SkipWaitingToken is the literal cross-context message that forces
// immediate activation of an installed worker.
const SkipWaitingToken = "SKIP_WAITING"

// Config carries the worker's version and pre-cache inputs.
type Config struct {
	Version       string   // cache namespace, e.g. "shop-cache-v3"
	Origin        string   // storefront origin base URL
	PrecachePaths []string // static asset paths fetched at install
	SkipWaiting   bool     // activate immediately after install
}

// Controller manages install/activate/versioning and signals attached
// pages over the broadcast channel.
type Controller struct {
	cfg    Config
	store  *cache.Store
	hub    *broadcast.Hub
	client *http.Client
	log    *zap.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
}

// NewController builds a controller. The worker starts in the
// installing state; nothing is intercepted until it activates.
func NewController(cfg Config, store *cache.Store, hub *broadcast.Hub, logger *zap.Logger) *Controller {
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")
	return &Controller{
		cfg:         cfg,
		store:       store,
		hub:         hub,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         logger,
		state:       StateInstalling,
		skipWaiting: cfg.SkipWaiting,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version returns the current cache version string.
func (c *Controller) Version() string { return c.cfg.Version }

// Namespace returns the current cache namespace. Only meaningful for
// interception once the worker is activated.
func (c *Controller) Namespace() *cache.Namespace {
	return c.store.Namespace(c.cfg.Version)
}

// Activated reports whether the worker controls traffic.
func (c *Controller) Activated() bool {
	return c.State() == StateActivated
}

// Install opens the namespace for the current version and pre-caches
// the configured static paths. The batch is all-or-nothing: a single
// failed fetch fails the whole install and no entry is written. That
// simplification is deliberate; a flaky network during install blocks
// activation entirely.
func (c *Controller) Install(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateInstalling
	c.mu.Unlock()

	fetched := make(map[string]cache.Snapshot, len(c.cfg.PrecachePaths))
	for _, path := range c.cfg.PrecachePaths {
		snap, err := c.fetchPath(ctx, path)
		if err != nil {
			c.log.Error("install pre-cache failed",
				zap.String("path", path),
				zap.Error(err))
			return fmt.Errorf("pre-cache %s: %w", path, err)
		}
		fetched[path] = snap
	}

	ns := c.Namespace()
	for _, path := range c.cfg.PrecachePaths {
		if err := ns.Put(path, fetched[path]); err != nil {
			return fmt.Errorf("store pre-cached %s: %w", path, err)
		}
	}

	c.mu.Lock()
	c.state = StateInstalled
	skip := c.skipWaiting
	c.mu.Unlock()

	c.log.Info("worker installed",
		zap.String("version", c.cfg.Version),
		zap.Int("precached", len(c.cfg.PrecachePaths)))

	if skip {
		return c.Activate(ctx)
	}
	return nil
}

// Activate deletes every cache namespace that is not the current
// version, then claims attached pages by broadcasting ACTIVATED so
// they route through the new worker without a reload.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateActivated {
		c.mu.Unlock()
		return nil
	}
	c.state = StateActivating
	c.mu.Unlock()

	names, err := c.store.Namespaces()
	if err != nil {
		return fmt.Errorf("enumerate cache namespaces: %w", err)
	}
	for _, name := range names {
		if name == c.cfg.Version {
			continue
		}
		if err := c.store.DeleteNamespace(name); err != nil {
			return fmt.Errorf("delete stale namespace %s: %w", name, err)
		}
		c.log.Info("deleted stale cache namespace", zap.String("namespace", name))
	}

	c.mu.Lock()
	c.state = StateActivated
	c.mu.Unlock()

	c.hub.Publish(broadcast.Message{
		Type:    broadcast.TypeActivated,
		Version: c.cfg.Version,
	})
	c.log.Info("worker activated", zap.String("version", c.cfg.Version))
	return nil
}

// SkipWaiting forces immediate activation. If the install is still
// running, the intent is remembered and activation follows install.
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.mu.Lock()
	c.skipWaiting = true
	state := c.state
	c.mu.Unlock()

	if state == StateInstalled {
		return c.Activate(ctx)
	}
	return nil
}

func (c *Controller) fetchPath(ctx context.Context, path string) (cache.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Origin+path, nil)
	if err != nil {
		return cache.Snapshot{}, err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.client.Do(req)
	if err != nil {
		return cache.Snapshot{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Snapshot{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return cache.Snapshot{}, fmt.Errorf("origin returned %d", resp.StatusCode)
	}

	snap := cache.NewSnapshot(resp.StatusCode, resp.Header, body)
	snap.Header.Del("Content-Length")
	return snap, nil
}
