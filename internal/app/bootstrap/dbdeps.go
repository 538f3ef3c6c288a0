// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/pellmarket/shopedge/internal/app/cache"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// CacheStore is the on-disk response cache the worker serves from.
	CacheStore *cache.Store
}
