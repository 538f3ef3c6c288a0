// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"

	"github.com/pellmarket/shopedge/internal/app/features/gateway"
	"github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	"github.com/pellmarket/shopedge/internal/app/resources"
	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
)

// Startup runs one-time application initialization after DB connections
// and schema setup are complete, but before the HTTP handler is built.
//
// For ShopEdge this is the worker lifecycle: pre-cache the configured
// static paths into the current cache generation (install), then take
// over traffic and delete stale generations (activate). A pre-cache
// failure aborts startup; serving with a partial pre-cache would leave
// the offline fallback unreliable.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	rules := gateway.DefaultRules()
	if appCfg.RulesFile != "" {
		loaded, err := gateway.LoadRulesFile(appCfg.RulesFile)
		if err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
		rules = loaded
	}

	hub := broadcast.NewHub(logger)
	controller := lifecycle.NewController(lifecycle.Config{
		Version:       appCfg.CacheVersion,
		Origin:        appCfg.Origin,
		PrecachePaths: appCfg.PrecachePaths,
		SkipWaiting:   appCfg.SkipWaiting,
	}, deps.CacheStore, hub, logger)

	if err := controller.Install(ctx); err != nil {
		return fmt.Errorf("worker install: %w", err)
	}
	if err := controller.Activate(ctx); err != nil {
		return fmt.Errorf("worker activate: %w", err)
	}
	logger.Info("worker activated",
		zap.String("cache_version", appCfg.CacheVersion),
		zap.Int("precached", len(appCfg.PrecachePaths)))

	var opts []gateway.Option
	if appCfg.ImageCacheFirst {
		opts = append(opts, gateway.WithImageCacheFirst(appCfg.ImageCacheMax))
	}
	gw := gateway.NewHandler(appCfg.Origin, controller, hub, rules, logger, opts...)

	resources.SetWorker(&resources.Worker{
		Hub:        hub,
		Controller: controller,
		Gateway:    gw,
	})
	return nil
}
