// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	clientsfeature "github.com/pellmarket/shopedge/internal/app/features/clients"
	healthfeature "github.com/pellmarket/shopedge/internal/app/features/health"
	lifecyclefeature "github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	pushfeature "github.com/pellmarket/shopedge/internal/app/features/push"
	"github.com/pellmarket/shopedge/internal/app/reporting"
	"github.com/pellmarket/shopedge/internal/app/resources"
	"github.com/pellmarket/shopedge/internal/app/store/notifications"
	"github.com/pellmarket/shopedge/internal/app/system/ratelimit"
)

// BuildHandler constructs the root HTTP handler (router) for this
// WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup,
// and any Startup hooks have completed. At this point the worker
// runtime (hub, lifecycle controller, gateway) is already activated.
//
// ShopEdge mounts its control and push surfaces on fixed prefixes and
// hands everything else to the gateway, which fronts the storefront
// origin with the per-class caching strategies.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	worker := resources.GetWorker()

	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, worker.Controller, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Worker control surface: status and the SKIP_WAITING message
	lifecycleHandler := lifecyclefeature.NewHandler(worker.Controller, worker.Hub, appCfg.ControlTokenHash, logger)
	r.Mount("/sw", lifecyclefeature.Routes(lifecycleHandler))

	// Push lifecycle: receive, click, close
	var limiter *ratelimit.Limiter
	if appCfg.PushRateLimit > 0 {
		window := appCfg.PushRateWindow
		if window <= 0 {
			window = time.Minute
		}
		limiter = ratelimit.New(appCfg.PushRateLimit, window)
	}
	reporter := reporting.NewClient(appCfg.APIBaseURL, logger)
	pushHandler := pushfeature.NewHandler(
		notifications.New(deps.MongoDatabase), reporter, worker.Hub, limiter, logger)
	r.Mount("/push", pushfeature.Routes(pushHandler))

	// Page event stream (the sw-messages channel)
	clientsHandler := clientsfeature.NewHandler(
		[]byte(appCfg.ClientHashKey), blockKey(appCfg.ClientBlockKey), worker.Hub, logger)
	r.Mount("/events", clientsfeature.Routes(clientsHandler))

	// Everything else goes through the gateway to the origin.
	r.Handle("/*", worker.Gateway)

	return r, nil
}

func blockKey(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
