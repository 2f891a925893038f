package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Mode mirrors the fetch request mode.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
)

// Request is an intercepted request. Only Method and URL participate in the
// cache key; Header and Body are forwarded to the network untouched.
type Request struct {
	Method string
	URL    string
	Mode   Mode
	Header http.Header
	Body   []byte
}

// NewRequest builds a GET request for rawURL.
func NewRequest(rawURL string) Request {
	return Request{Method: http.MethodGet, URL: rawURL, Mode: ModeSameOrigin}
}

// Key returns the normalized cache key: upper-case method and the URL
// without its fragment.
func (r Request) Key() string {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + normalizeURL(r.URL)
}

// Path returns the URL path, or "" when the URL cannot be parsed.
func (r Request) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// IsNavigation reports whether the request loads a top-level document.
func (r Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	return u.String()
}
