package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pellmarket/shopedge/internal/app/cache"
	"github.com/pellmarket/shopedge/internal/app/features/gateway"
	"github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
	"go.uber.org/zap"
)

// worker spins up an activated controller with an empty pre-cache list
// against origin, plus a hub for observing broadcasts.
func worker(t *testing.T, origin string) (*lifecycle.Controller, *broadcast.Hub) {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := broadcast.NewHub(zap.NewNop())
	ctl := lifecycle.NewController(lifecycle.Config{
		Version: "shop-cache-v1",
		Origin:  origin,
	}, store, hub, zap.NewNop())
	if err := ctl.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := ctl.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return ctl, hub
}

func get(h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStaleWhileRevalidateServesCachedFirst(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		// Slow network: a cached hit must not wait on this.
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("fresh about"))
	}))
	defer origin.Close()

	ctl, hub := worker(t, origin.URL)
	page := hub.Subscribe("tab-1")

	if err := ctl.Namespace().Put("/about", cache.NewSnapshot(200, nil, []byte("stale about"))); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())

	start := time.Now()
	rec := get(h, "/about", nil)
	elapsed := time.Since(start)

	if rec.Body.String() != "stale about" {
		t.Errorf("body: got %q, want the cached copy", rec.Body.String())
	}
	if rec.Header().Get(gateway.CacheStatusHeader) != "hit" {
		t.Errorf("cache status: got %q, want hit", rec.Header().Get(gateway.CacheStatusHeader))
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("cached response waited on the network: %v", elapsed)
	}

	// The network call still happens and refreshes the cache.
	h.Wait()
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("origin hits: got %d, want 1 revalidation", hits)
	}
	snap, ok, err := ctl.Namespace().Match("/about")
	if err != nil || !ok {
		t.Fatalf("cache after revalidation: ok=%v err=%v", ok, err)
	}
	if string(snap.Body) != "fresh about" {
		t.Errorf("cache body after revalidation: got %q", snap.Body)
	}

	// Changed content is announced to attached pages.
	select {
	case msg := <-page:
		if msg.Type != broadcast.TypeNewContent || msg.URL != "/about" {
			t.Errorf("broadcast: got %+v", msg)
		}
	default:
		t.Error("expected a NEW_CONTENT broadcast after the body changed")
	}
}

func TestStaleWhileRevalidateMissWaitsOnNetwork(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first sight"))
	}))
	defer origin.Close()

	ctl, hub := worker(t, origin.URL)
	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())

	rec := get(h, "/about", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "first sight" {
		t.Errorf("miss: got %d %q", rec.Code, rec.Body.String())
	}

	// And the response was stored for next time.
	snap, ok, _ := ctl.Namespace().Match("/about")
	if !ok || string(snap.Body) != "first sight" {
		t.Errorf("cache after miss: ok=%v body=%q", ok, snap.Body)
	}
}

func TestStaleWhileRevalidateMissNetworkFailure(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	ctl, hub := worker(t, origin.URL)
	origin.Close() // network gone, nothing cached

	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())
	rec := get(h, "/about", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("no cache + network failure: got %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestImageVariantStoresOnlyStatus200(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer origin.Close()

	ctl, hub := worker(t, origin.URL)
	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())

	rec := get(h, "/products/images/chair.webp", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want the origin 404 passed through", rec.Code)
	}
	if _, ok, _ := ctl.Namespace().Match("/products/images/chair.webp"); ok {
		t.Error("a non-200 image response must not be cached")
	}
}

func TestNavigationOfflineFallback(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("live page"))
	}))
	ctl, hub := worker(t, origin.URL)

	if err := ctl.Namespace().Put("/offline", cache.NewSnapshot(200, nil, []byte("you are offline"))); err != nil {
		t.Fatalf("seed offline page: %v", err)
	}

	origin.Close() // no connectivity

	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())
	rec := get(h, "/checkout", map[string]string{"Sec-Fetch-Mode": "navigate"})

	if rec.Body.String() != "you are offline" {
		t.Errorf("body: got %q, want the offline page", rec.Body.String())
	}
	if rec.Header().Get(gateway.CacheStatusHeader) != "offline-fallback" {
		t.Errorf("cache status: got %q", rec.Header().Get(gateway.CacheStatusHeader))
	}
}

func TestNavigationNon2xxIsNotSubstituted(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer origin.Close()

	ctl, hub := worker(t, origin.URL)
	if err := ctl.Namespace().Put("/offline", cache.NewSnapshot(200, nil, []byte("you are offline"))); err != nil {
		t.Fatalf("seed offline page: %v", err)
	}

	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())
	rec := get(h, "/missing-page", map[string]string{"Sec-Fetch-Mode": "navigate"})

	// Only a failed fetch triggers the fallback; a 404 passes through.
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404 from the origin", rec.Code)
	}
}

func TestCacheFirstTrimBound(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image bytes"))
	}))
	defer origin.Close()

	ctl, hub := worker(t, origin.URL)
	const limit = 4
	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop(),
		gateway.WithImageCacheFirst(limit))

	const total = 10
	for i := 0; i < total; i++ {
		rec := get(h, fmt.Sprintf("/products/images/%d.webp", i), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("image %d: status %d", i, rec.Code)
		}

		count, err := ctl.Namespace().Len()
		if err != nil {
			t.Fatalf("len: %v", err)
		}
		if count > limit {
			t.Fatalf("after insert %d the cache holds %d entries, bound is %d", i, count, limit)
		}
	}

	// Oldest entries were the ones evicted.
	keys, err := ctl.Namespace().Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := fmt.Sprintf("/products/images/%d.webp", total-limit)
	if len(keys) == 0 || keys[0] != want {
		t.Errorf("oldest surviving key: got %v, want first %q", keys, want)
	}

	// A cached image is served without touching the origin.
	origin.Close()
	rec := get(h, fmt.Sprintf("/products/images/%d.webp", total-1), nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "image bytes" {
		t.Errorf("cache-first hit after origin shutdown: %d %q", rec.Code, rec.Body.String())
	}
}

func TestNotActivatedPassesThrough(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("direct"))
	}))
	defer origin.Close()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	hub := broadcast.NewHub(zap.NewNop())
	ctl := lifecycle.NewController(lifecycle.Config{Version: "v1", Origin: origin.URL}, store, hub, zap.NewNop())

	h := gateway.NewHandler(origin.URL, ctl, hub, gateway.DefaultRules(), zap.NewNop())
	rec := get(h, "/about", nil)

	if rec.Header().Get(gateway.CacheStatusHeader) != "bypass" {
		t.Errorf("pre-activation requests must bypass the cache, got %q",
			rec.Header().Get(gateway.CacheStatusHeader))
	}
	if _, ok, _ := store.Namespace("v1").Match("/about"); ok {
		t.Error("nothing should be cached before activation")
	}
}

func TestClassify(t *testing.T) {
	rules := gateway.DefaultRules()

	cases := []struct {
		name   string
		method string
		target string
		hdr    map[string]string
		want   gateway.Class
	}{
		{"png extension", "GET", "/assets/logo.png", nil, gateway.ClassImage},
		{"product image prefix", "GET", "/products/images/42", nil, gateway.ClassImage},
		{"cdn marker", "GET", "http://cdn.shop.example/banner", nil, gateway.ClassImage},
		{"storage marker", "GET", "http://bucket.s3.amazonaws.com/img", nil, gateway.ClassImage},
		{"known static page", "GET", "/about", nil, gateway.ClassStatic},
		{"navigation by sec-fetch-mode", "GET", "/products/42", map[string]string{"Sec-Fetch-Mode": "navigate"}, gateway.ClassNavigation},
		{"navigation by accept", "GET", "/products/42", map[string]string{"Accept": "text/html,application/xhtml+xml"}, gateway.ClassNavigation},
		{"subresource fetch", "GET", "/api/cart", map[string]string{"Sec-Fetch-Mode": "cors"}, gateway.ClassPassthrough},
		{"post is never intercepted", "POST", "/about", nil, gateway.ClassPassthrough},
		// First match wins: an image inside a navigation-looking
		// request is still an image.
		{"image beats navigation", "GET", "/products/images/42.jpg", map[string]string{"Sec-Fetch-Mode": "navigate"}, gateway.ClassImage},
		{"offline page is static", "GET", "/offline", nil, gateway.ClassStatic},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			for k, v := range tc.hdr {
				req.Header.Set(k, v)
			}
			if got := rules.Classify(req); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	content := []byte("image_prefixes:\n  - /media/\nstatic_paths:\n  - /about\n  - /offline\n")
	if err := os.WriteFile(file, content, 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	rules, err := gateway.LoadRulesFile(file)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(rules.ImagePrefixes) != 1 || rules.ImagePrefixes[0] != "/media/" {
		t.Errorf("image prefixes: got %v", rules.ImagePrefixes)
	}
	if len(rules.StaticPaths) != 2 {
		t.Errorf("static paths: got %v", rules.StaticPaths)
	}
	// Unset fields fall back to defaults.
	if rules.OfflinePath != "/offline" {
		t.Errorf("offline path default: got %q", rules.OfflinePath)
	}
	if len(rules.ImageExtensions) == 0 {
		t.Error("image extensions default missing")
	}
}
