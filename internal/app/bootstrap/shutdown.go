// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"

	"github.com/pellmarket/shopedge/internal/app/resources"
)

// Shutdown cleanly tears down DB connections and other resources.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if worker := resources.GetWorker(); worker != nil && worker.Gateway != nil {
		// Let in-flight background revalidations finish writing.
		worker.Gateway.Wait()
	}

	if deps.CacheStore != nil {
		if err := deps.CacheStore.Close(); err != nil {
			logger.Error("cache store close failed", zap.Error(err))
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
