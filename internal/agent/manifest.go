package agent

import (
	"fmt"
	"net/url"

	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// DefaultShell returns the built-in app shell, relative to the base path.
func DefaultShell() []string {
	return []string{
		"/",
		"/index.html",
		"/bootstrap.js",
		"/index.js",
		"/manifest.json",
		"/icons/icon-192x192.png",
		"/icons/icon-512x512.png",
		"/pkg/mask_my_text_bg.wasm",
		"/pkg/mask_my_text.js",
		"/pkg/mask_my_text_bg.js",
	}
}

// Manifest is the ordered, de-duplicated list of absolute paths that must
// be available offline.
type Manifest []string

// BuildManifest prefixes every app-shell path with base.
func BuildManifest(base string, shell []string) Manifest {
	seen := make(map[string]struct{}, len(shell))
	m := make(Manifest, 0, len(shell))
	for _, p := range shell {
		full := paths.Join(base, p)
		if _, ok := seen[full]; ok {
			continue
		}
		seen[full] = struct{}{}
		m = append(m, full)
	}
	return m
}

// Validate checks that every entry resolves under origin.
func (m Manifest) Validate(origin *url.URL) error {
	if len(m) == 0 {
		return fmt.Errorf("manifest is empty")
	}
	for _, p := range m {
		if _, err := paths.Resolve(origin, p); err != nil {
			return err
		}
	}
	return nil
}

// URLs resolves every entry against origin.
func (m Manifest) URLs(origin *url.URL) ([]string, error) {
	urls := make([]string, len(m))
	for i, p := range m {
		u, err := paths.Resolve(origin, p)
		if err != nil {
			return nil, err
		}
		urls[i] = u
	}
	return urls, nil
}

// Contains reports whether p is a manifest entry.
func (m Manifest) Contains(p string) bool {
	for _, e := range m {
		if e == p {
			return true
		}
	}
	return false
}
