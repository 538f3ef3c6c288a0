package gateway

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class is the request classification decided by the interceptor.
type Class int

const (
	// ClassPassthrough requests are not intercepted at all.
	ClassPassthrough Class = iota
	// ClassImage requests get the stale-while-revalidate image variant
	// (or cache-first with trimming when configured).
	ClassImage
	// ClassStatic requests are known pre-cached pages, served with the
	// generic stale-while-revalidate strategy.
	ClassStatic
	// ClassNavigation requests are full page loads, served
	// network-first with the offline fallback.
	ClassNavigation
)

func (c Class) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	default:
		return "passthrough"
	}
}

// Rules drives request classification. Evaluated in a fixed order,
// first match wins: image-like asset, known static page, navigation,
// then passthrough.
type Rules struct {
	// ImageExtensions are path suffixes treated as image assets.
	ImageExtensions []string `yaml:"image_extensions"`
	// ImagePrefixes are path prefixes for product imagery.
	ImagePrefixes []string `yaml:"image_prefixes"`
	// CDNMarkers are substrings of the full URL identifying the CDN.
	CDNMarkers []string `yaml:"cdn_markers"`
	// StorageMarkers are substrings identifying the storage provider.
	StorageMarkers []string `yaml:"storage_markers"`
	// StaticPaths are the pre-cached pages; an exact path match makes
	// a request a known static page.
	StaticPaths []string `yaml:"static_paths"`
	// OfflinePath is the pre-cached page served when a navigation
	// request fails.
	OfflinePath string `yaml:"offline_path"`
}

// DefaultRules returns the storefront's standard classification rules.
func DefaultRules() Rules {
	return Rules{
		ImageExtensions: []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico"},
		ImagePrefixes:   []string{"/products/images/"},
		CDNMarkers:      []string{"cdn.", "/cdn/"},
		StorageMarkers:  []string{"storage.googleapis.com", "s3.amazonaws.com", "blob.core.windows.net"},
		StaticPaths: []string{
			"/about", "/careers", "/privacy", "/terms",
			"/returns", "/shipping", "/offline", "/favicon.ico",
		},
		OfflinePath: "/offline",
	}
}

// LoadRulesFile reads rules from a YAML file, filling unset fields
// from the defaults.
func LoadRulesFile(file string) (Rules, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return Rules{}, err
	}
	rules := Rules{}
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}

	def := DefaultRules()
	if len(rules.ImageExtensions) == 0 {
		rules.ImageExtensions = def.ImageExtensions
	}
	if len(rules.ImagePrefixes) == 0 {
		rules.ImagePrefixes = def.ImagePrefixes
	}
	if len(rules.CDNMarkers) == 0 {
		rules.CDNMarkers = def.CDNMarkers
	}
	if len(rules.StorageMarkers) == 0 {
		rules.StorageMarkers = def.StorageMarkers
	}
	if len(rules.StaticPaths) == 0 {
		rules.StaticPaths = def.StaticPaths
	}
	if rules.OfflinePath == "" {
		rules.OfflinePath = def.OfflinePath
	}
	return rules, nil
}

// Classify decides the strategy class for a request. Only GET requests
// are classified; everything else passes through.
func (rules Rules) Classify(r *http.Request) Class {
	if r.Method != http.MethodGet {
		return ClassPassthrough
	}

	if rules.isImage(r) {
		return ClassImage
	}
	if rules.isStatic(r.URL.Path) {
		return ClassStatic
	}
	if isNavigation(r) {
		return ClassNavigation
	}
	return ClassPassthrough
}

func (rules Rules) isImage(r *http.Request) bool {
	p := r.URL.Path
	ext := strings.ToLower(path.Ext(p))
	for _, e := range rules.ImageExtensions {
		if ext == e {
			return true
		}
	}
	for _, prefix := range rules.ImagePrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}

	full := r.URL.String()
	if full == "" || r.URL.Host == "" {
		full = r.Host + r.URL.RequestURI()
	}
	for _, marker := range rules.CDNMarkers {
		if strings.Contains(full, marker) {
			return true
		}
	}
	for _, marker := range rules.StorageMarkers {
		if strings.Contains(full, marker) {
			return true
		}
	}
	return false
}

func (rules Rules) isStatic(p string) bool {
	for _, s := range rules.StaticPaths {
		if p == s {
			return true
		}
	}
	return false
}

// isNavigation reports whether the request is a full page load rather
// than a subresource fetch. Sec-Fetch-Mode is authoritative when
// present; the Accept header is the fallback for older agents.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
