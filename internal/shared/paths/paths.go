package paths

import (
	"fmt"
	"net/url"
	"strings"
)

// ScriptName is the file name of the background agent script.
const ScriptName = "service-worker.js"

// Deployment describes where the application may be hosted.
type Deployment struct {
	// ProductionHosts are served from the domain root.
	ProductionHosts []string
	// PathPrefix is the single path segment used by prefixed static hosting.
	PathPrefix string
	// StaticHostSuffix identifies prefixed static hosting for script resolution.
	StaticHostSuffix string
}

// DefaultDeployment returns the maskmytext.com deployment shapes.
func DefaultDeployment() Deployment {
	return Deployment{
		ProductionHosts:  []string{"maskmytext.com", "www.maskmytext.com"},
		PathPrefix:       "maskmytext.com",
		StaticHostSuffix: "github.io",
	}
}

// IsProductionHost reports whether hostname is a canonical production host.
func (d Deployment) IsProductionHost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	for _, h := range d.ProductionHosts {
		if strings.EqualFold(h, hostname) {
			return true
		}
	}
	return false
}

// prefixSegment returns "/<prefix>" or "" when no prefix is configured.
func (d Deployment) prefixSegment() string {
	p := strings.Trim(d.PathPrefix, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// hasPrefixSegment reports whether pathname contains "/<prefix>" as a whole segment.
func (d Deployment) hasPrefixSegment(pathname string) bool {
	seg := d.prefixSegment()
	if seg == "" {
		return false
	}
	for rest := pathname; ; {
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		after := rest[i+len(seg):]
		if after == "" || after[0] == '/' {
			return true
		}
		rest = rest[i+1:]
	}
}

// BasePath resolves the asset base path for an agent running at
// hostname/pathname. Only one instance of the prefix is ever returned, even
// when the pathname already repeats it.
func (d Deployment) BasePath(hostname, pathname string) string {
	if d.IsProductionHost(hostname) {
		return ""
	}
	if d.hasPrefixSegment(pathname) {
		return d.prefixSegment()
	}
	return ""
}

// ScriptPath resolves the agent script location for a page at hostname/pathname.
func (d Deployment) ScriptPath(hostname, pathname string) string {
	if d.IsProductionHost(hostname) {
		return "/" + ScriptName
	}
	seg := d.prefixSegment()
	if seg != "" && d.StaticHostSuffix != "" &&
		strings.Contains(strings.ToLower(hostname), d.StaticHostSuffix) &&
		strings.Contains(pathname, seg+"/") {
		return seg + "/" + ScriptName
	}
	return "./" + ScriptName
}

// Join prefixes p with base, keeping exactly one slash between them.
func Join(base, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(base, "/") + p
}

// SameOrigin reports whether rawURL shares scheme and host with origin.
func SameOrigin(origin *url.URL, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Host, origin.Host)
}

// Resolve turns an absolute path into a URL on origin, rejecting paths that
// would escape it (for example "//other.host/x").
func Resolve(origin *url.URL, p string) (string, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	u := origin.ResolveReference(ref)
	if !strings.EqualFold(u.Host, origin.Host) || !strings.EqualFold(u.Scheme, origin.Scheme) {
		return "", fmt.Errorf("path %q resolves off origin %s", p, origin.Host)
	}
	return u.String(), nil
}
