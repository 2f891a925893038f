package agent

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/richardjypark/maskmytext.com/internal/cache"
)

// KeyHealer identifies known-bad cache keys to delete on activation.
type KeyHealer interface {
	Name() string
	Broken(req cache.Request) bool
}

type duplicatePrefixHealer struct {
	needle string
}

// DuplicatePrefixHealer matches keys whose URL repeats the deployment
// prefix segment, e.g. /maskmytext.com/maskmytext.com/index.js.
func DuplicatePrefixHealer(prefix string) KeyHealer {
	prefix = strings.Trim(prefix, "/")
	return duplicatePrefixHealer{needle: "/" + prefix + "/" + prefix + "/"}
}

func (h duplicatePrefixHealer) Name() string { return "duplicate-prefix" }

func (h duplicatePrefixHealer) Broken(req cache.Request) bool {
	return h.needle != "///" && strings.Contains(req.URL, h.needle)
}

type globHealer struct {
	patterns []string
}

// GlobHealer matches keys whose URL path matches any of the doublestar
// patterns.
func GlobHealer(patterns ...string) (KeyHealer, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid heal pattern %q", p)
		}
	}
	return globHealer{patterns: patterns}, nil
}

func (h globHealer) Name() string { return "glob" }

func (h globHealer) Broken(req cache.Request) bool {
	p := req.Path()
	if p == "" {
		return false
	}
	for _, pattern := range h.patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
