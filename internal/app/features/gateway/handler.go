// Package gateway intercepts storefront traffic and applies a caching
// strategy per request class: stale-while-revalidate for images and
// known static pages, network-first with an offline fallback for
// navigations, and untouched passthrough for everything else. The
// strategy table is explicit so the whole protocol surface is
// reviewable in one place.
package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pellmarket/shopedge/internal/app/cache"
	"github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
	"github.com/pellmarket/shopedge/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// CacheStatusHeader reports how a response was produced: hit, miss,
// revalidating, offline-fallback, or bypass.
const CacheStatusHeader = "X-Shopedge-Cache"

// DefaultImageCacheMax bounds the image cache when cache-first
// trimming is enabled.
const DefaultImageCacheMax = 150

// maxConcurrentRevalidations bounds background refresh work.
const maxConcurrentRevalidations = 32

// Handler is the fetch interceptor.
type Handler struct {
	origin     string
	controller *lifecycle.Controller
	hub        *broadcast.Hub
	rules      Rules
	log        *zap.Logger

	// Cache-first with trimming for the image class, instead of
	// stale-while-revalidate.
	imageCacheFirst bool
	imageCacheMax   int

	client   *http.Client
	dispatch map[Class]func(http.ResponseWriter, *http.Request)
	bgSem    chan struct{}
	wg       sync.WaitGroup
}

// Option tweaks handler construction.
type Option func(*Handler)

// WithImageCacheFirst switches the image class to cache-first with
// oldest-entry trimming at max entries (0 means the default bound).
func WithImageCacheFirst(max int) Option {
	return func(h *Handler) {
		h.imageCacheFirst = true
		if max > 0 {
			h.imageCacheMax = max
		}
	}
}

// WithHTTPClient substitutes the client used for origin fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.client = c }
}

// NewHandler builds the interceptor in front of origin.
func NewHandler(origin string, controller *lifecycle.Controller, hub *broadcast.Hub, rules Rules, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		origin:        strings.TrimRight(origin, "/"),
		controller:    controller,
		hub:           hub,
		rules:         rules,
		log:           logger,
		imageCacheMax: DefaultImageCacheMax,
		client:        &http.Client{Timeout: 30 * time.Second},
		bgSem:         make(chan struct{}, maxConcurrentRevalidations),
	}
	for _, opt := range opts {
		opt(h)
	}

	// One strategy per class, dispatched explicitly.
	h.dispatch = map[Class]func(http.ResponseWriter, *http.Request){
		ClassImage:       h.serveImage,
		ClassStatic:      h.serveStaleWhileRevalidate(false),
		ClassNavigation:  h.serveNetworkFirst,
		ClassPassthrough: h.servePassthrough,
	}
	return h
}

// Wait blocks until outstanding background revalidations finish. Used
// at shutdown and in tests.
func (h *Handler) Wait() { h.wg.Wait() }

// ServeHTTP routes the request through the strategy for its class.
// Until the worker has activated, nothing is intercepted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.controller.Activated() {
		h.servePassthrough(w, r)
		return
	}
	h.dispatch[h.rules.Classify(r)](w, r)
}

func (h *Handler) serveImage(w http.ResponseWriter, r *http.Request) {
	if h.imageCacheFirst {
		h.serveCacheFirst(w, r)
		return
	}
	h.serveStaleWhileRevalidate(true)(w, r)
}

// serveStaleWhileRevalidate returns the SWR strategy. A cached match
// is returned immediately and refreshed in the background; a miss
// waits on the network. The image variant only stores responses with
// status 200.
func (h *Handler) serveStaleWhileRevalidate(imageVariant bool) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.RequestURI()
		ns := h.controller.Namespace()

		snap, ok, err := ns.Match(key)
		if err != nil {
			h.log.Error("cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			h.writeSnapshot(w, snap, "hit")
			h.revalidateAsync(key, imageVariant)
			return
		}

		fresh, err := h.fetchOrigin(r.Context(), key)
		if err != nil {
			// No cached copy and the network failed: surface it as a
			// gateway error instead of an empty response.
			h.log.Warn("origin fetch failed with no cached fallback",
				zap.String("key", key), zap.Error(err))
			w.Header().Set(CacheStatusHeader, "bad-gateway")
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}

		if storable(fresh, imageVariant) {
			if err := ns.Put(key, fresh); err != nil {
				h.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
			}
		}
		h.writeSnapshot(w, fresh, "miss")
	}
}

// serveCacheFirst is the bounded image cache: cached copy wins, a miss
// fetches and stores, and each insertion beyond the bound evicts
// exactly one oldest entry by enumeration order.
func (h *Handler) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	ns := h.controller.Namespace()

	if snap, ok, _ := ns.Match(key); ok {
		h.writeSnapshot(w, snap, "hit")
		return
	}

	fresh, err := h.fetchOrigin(r.Context(), key)
	if err != nil {
		w.Header().Set(CacheStatusHeader, "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	if fresh.Status == http.StatusOK {
		if err := ns.Put(key, fresh); err != nil {
			h.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		} else if evicted, ok, err := ns.TrimOldest(h.imageCacheMax); err != nil {
			h.log.Warn("image cache trim failed", zap.Error(err))
		} else if ok {
			h.log.Debug("trimmed image cache", zap.String("evicted", evicted))
		}
	}
	h.writeSnapshot(w, fresh, "miss")
}

// serveNetworkFirst tries the network and substitutes the pre-cached
// offline page only when the fetch itself fails; a non-2xx origin
// response is passed through untouched.
func (h *Handler) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()

	fresh, err := h.fetchOrigin(r.Context(), key)
	if err == nil {
		h.writeSnapshot(w, fresh, "network")
		return
	}

	h.log.Warn("navigation fetch failed, serving offline page",
		zap.String("key", key), zap.Error(err))

	snap, ok, cacheErr := h.controller.Namespace().Match(h.rules.OfflinePath)
	if cacheErr != nil || !ok {
		w.Header().Set(CacheStatusHeader, "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	h.writeSnapshot(w, snap, "offline-fallback")
}

// servePassthrough forwards the request untouched, any method.
func (h *Handler) servePassthrough(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, h.origin+r.URL.RequestURI(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		w.Header().Set(CacheStatusHeader, "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(CacheStatusHeader, "bypass")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// revalidateAsync refreshes a cached entry in the background. Failures
// are swallowed; the cached copy keeps serving. When the refreshed
// body differs from the cached one, attached pages are told over the
// broadcast channel.
func (h *Handler) revalidateAsync(key string, imageVariant bool) {
	select {
	case h.bgSem <- struct{}{}:
	default:
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { <-h.bgSem }()

		ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Long(), h.log, "revalidate "+key)
		defer cancel()

		fresh, err := h.fetchOrigin(ctx, key)
		if err != nil {
			return
		}
		if !storable(fresh, imageVariant) {
			return
		}

		ns := h.controller.Namespace()
		cur, ok, _ := ns.Match(key)
		changed := !ok || cur.Hash32 != fresh.Hash32

		if err := ns.Put(key, fresh); err != nil {
			h.log.Warn("revalidation store failed", zap.String("key", key), zap.Error(err))
			return
		}
		if changed {
			h.hub.Publish(broadcast.Message{Type: broadcast.TypeNewContent, URL: key})
		}
	}()
}

// storable applies the per-variant store rule: the image variant only
// caches status 200, the generic variant caches whatever arrived.
func storable(snap cache.Snapshot, imageVariant bool) bool {
	if imageVariant {
		return snap.Status == http.StatusOK
	}
	return true
}

func (h *Handler) fetchOrigin(ctx context.Context, uri string) (cache.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.origin+uri, nil)
	if err != nil {
		return cache.Snapshot{}, err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := h.client.Do(req)
	if err != nil {
		return cache.Snapshot{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Snapshot{}, err
	}

	snap := cache.NewSnapshot(resp.StatusCode, resp.Header, body)
	snap.Header.Del("Content-Length")
	return snap, nil
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, snap cache.Snapshot, status string) {
	for k, vs := range snap.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(CacheStatusHeader, status)
	w.WriteHeader(snap.Status)
	_, _ = w.Write(snap.Body)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
