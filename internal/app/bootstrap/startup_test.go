package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"

	"github.com/pellmarket/shopedge/internal/app/cache"
	"github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	"github.com/pellmarket/shopedge/internal/app/resources"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestStartupInstallsAndActivates(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page " + r.URL.Path))
	}))
	defer origin.Close()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	appCfg := AppConfig{
		Origin:        origin.URL,
		CacheVersion:  "shop-cache-v1",
		PrecachePaths: []string{"/offline", "/about"},
	}
	deps := DBDeps{CacheStore: store}

	if err := Startup(context.Background(), &config.CoreConfig{}, appCfg, deps, testLogger()); err != nil {
		t.Fatalf("startup: %v", err)
	}

	worker := resources.GetWorker()
	if worker == nil {
		t.Fatal("worker runtime not registered")
	}
	if worker.Controller.State() != lifecycle.StateActivated {
		t.Errorf("state after startup: got %s, want activated", worker.Controller.State())
	}
	if _, ok, _ := worker.Controller.Namespace().Match("/offline"); !ok {
		t.Error("offline page was not pre-cached")
	}
}

func TestStartupAbortsOnPrecacheFailure(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer origin.Close()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	appCfg := AppConfig{
		Origin:        origin.URL,
		CacheVersion:  "shop-cache-v1",
		PrecachePaths: []string{"/offline"},
	}

	err = Startup(context.Background(), &config.CoreConfig{}, appCfg, DBDeps{CacheStore: store}, testLogger())
	if err == nil {
		t.Fatal("startup must fail when the pre-cache cannot complete")
	}
}

func TestValidateConfig(t *testing.T) {
	base := AppConfig{
		MongoURI:     "mongodb://localhost:27017",
		Origin:       "http://localhost:3000",
		CacheVersion: "shop-cache-v1",
	}

	if err := ValidateConfig(&config.CoreConfig{}, base, testLogger()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := base
	bad.Origin = "not-a-url"
	if err := ValidateConfig(&config.CoreConfig{}, bad, testLogger()); err == nil {
		t.Error("relative origin accepted")
	}

	bad = base
	bad.CacheVersion = ""
	if err := ValidateConfig(&config.CoreConfig{}, bad, testLogger()); err == nil {
		t.Error("blank cache version accepted")
	}

	bad = base
	bad.ClientBlockKey = "too-short"
	if err := ValidateConfig(&config.CoreConfig{}, bad, testLogger()); err == nil {
		t.Error("bad block key length accepted")
	}

	ok := base
	ok.ClientBlockKey = "0123456789abcdef"
	if err := ValidateConfig(&config.CoreConfig{}, ok, testLogger()); err != nil {
		t.Errorf("16-byte block key rejected: %v", err)
	}
}

func TestSplitPaths(t *testing.T) {
	got := splitPaths(" /about, /offline ,,/terms")
	want := []string{"/about", "/offline", "/terms"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitPaths: got %v, want %v", got, want)
	}
	if out := splitPaths(""); out != nil {
		t.Errorf("empty input: got %v, want nil", out)
	}
}
