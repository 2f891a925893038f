package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// DefaultThreshold is the default runtime cache size limit.
const DefaultThreshold = 100

// ExtensionSet is the set of path suffixes eligible for runtime caching.
// Directory-shaped paths (ending in "/") always match.
type ExtensionSet struct {
	suffixes []string
}

// NewExtensionSet builds a set from suffixes such as ".js". Matching is
// case-insensitive.
func NewExtensionSet(suffixes ...string) ExtensionSet {
	s := ExtensionSet{suffixes: make([]string, 0, len(suffixes))}
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		s.suffixes = append(s.suffixes, suffix)
	}
	return s
}

// DefaultExtensions returns the static asset suffixes of the app.
func DefaultExtensions() ExtensionSet {
	return NewExtensionSet(
		".html", ".js", ".mjs", ".css", ".json", ".webmanifest", ".wasm",
		".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
		".woff", ".woff2", ".ttf", ".txt",
	)
}

// Matches reports whether path is directory-shaped or ends in a suffix.
func (e ExtensionSet) Matches(path string) bool {
	if strings.HasSuffix(path, "/") {
		return true
	}
	lower := strings.ToLower(path)
	for _, s := range e.suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Suffixes returns a copy of the configured suffixes.
func (e ExtensionSet) Suffixes() []string {
	return append([]string(nil), e.suffixes...)
}

// PolicyOptions configures a Policy.
type PolicyOptions struct {
	Origin     *url.URL
	Extensions ExtensionSet
	// Threshold is the entry count pruning converges to. Zero selects
	// DefaultThreshold.
	Threshold int
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// Policy decides runtime cacheability and bounds store growth.
type Policy struct {
	origin     *url.URL
	extensions ExtensionSet
	threshold  int
	log        *logging.Logger
	metrics    *monitoring.Metrics

	// pruneMu serializes prunes so two of them never both delete down to
	// the threshold from the same snapshot.
	pruneMu sync.Mutex
}

// NewPolicy creates a policy.
func NewPolicy(opts PolicyOptions) *Policy {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Policy{
		origin:     opts.Origin,
		extensions: opts.Extensions,
		threshold:  opts.Threshold,
		log:        logging.OrNop(opts.Logger).Component("policy"),
		metrics:    opts.Metrics,
	}
}

// Threshold returns the pruning threshold.
func (p *Policy) Threshold() int { return p.threshold }

// Cacheable reports whether resp to req may be written to the store.
func (p *Policy) Cacheable(req cache.Request, resp *cache.Response) bool {
	if resp == nil || resp.Status != http.StatusOK || resp.Type != cache.TypeBasic {
		return false
	}
	method := strings.ToUpper(req.Method)
	if method != "" && method != http.MethodGet {
		return false
	}
	if p.origin == nil || !paths.SameOrigin(p.origin, req.URL) {
		return false
	}
	return p.extensions.Matches(req.Path())
}

// Prune evicts entries in insertion order until the store holds at most
// Threshold entries. App-shell entries get no special treatment: reads never
// refresh an entry's position. It returns the number of evicted entries.
func (p *Policy) Prune(ctx context.Context, store cache.Store) (int, error) {
	p.pruneMu.Lock()
	defer p.pruneMu.Unlock()

	keys, err := store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	excess := len(keys) - p.threshold
	evicted := 0
	for _, k := range keys {
		if excess <= 0 {
			break
		}
		deleted, err := store.Delete(ctx, k)
		if err != nil {
			p.metrics.AddEvictions(evicted)
			return evicted, fmt.Errorf("evict %s: %w", k.URL, err)
		}
		// A concurrent writer or healer may have removed it already; the
		// slot is freed either way.
		excess--
		if deleted {
			evicted++
		}
	}

	if evicted > 0 {
		p.log.Debug("pruned runtime cache",
			zap.String("store", store.Name()),
			zap.Int("evicted", evicted),
			zap.Int("threshold", p.threshold))
	}
	p.metrics.AddEvictions(evicted)
	return evicted, nil
}
