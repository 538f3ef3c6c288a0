// internal/app/resources/resources.go
package resources

import (
	"sync"

	"github.com/pellmarket/shopedge/internal/app/features/gateway"
	"github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
)

// Worker bundles the edge worker runtime built once during startup and
// shared by the handler builder and the shutdown hook.
type Worker struct {
	Hub        *broadcast.Hub
	Controller *lifecycle.Controller
	Gateway    *gateway.Handler
}

var (
	mu     sync.Mutex
	worker *Worker
)

// SetWorker stores the runtime. Called once from the startup hook.
func SetWorker(w *Worker) {
	mu.Lock()
	worker = w
	mu.Unlock()
}

// GetWorker returns the runtime, or nil before startup has run.
func GetWorker() *Worker {
	mu.Lock()
	defer mu.Unlock()
	return worker
}
