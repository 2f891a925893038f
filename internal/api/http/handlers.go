package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/richardjypark/maskmytext.com/internal/agent"
	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/host"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
)

// maxBodySize bounds request bodies forwarded upstream.
const maxBodySize = 10 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	host    *host.Host
	origin  *url.URL
	metrics *monitoring.Metrics
}

// NewHandlers creates a new handler set
func NewHandlers(h *host.Host, origin *url.URL, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{host: h, origin: origin, metrics: metrics}
}

// UpdateRequest is the body of the update endpoint.
type UpdateRequest struct {
	Build string `json:"build"`
}

// SkipWaitingRequest is the body of the skip-waiting endpoint.
type SkipWaitingRequest struct {
	Version string `json:"version"`
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	active := h.host.Registration().Active()
	resp := gin.H{
		"status": "healthy",
		"pages":  h.host.Pages(),
	}
	if active != nil {
		resp["version"] = active.Version()
	}
	c.JSON(http.StatusOK, resp)
}

// Status reports the registration, the active store and cache counters.
func (h *Handlers) Status(c *gin.Context) {
	reg := h.host.Registration()
	resp := gin.H{
		"registration": reg.Status(),
		"pages":        h.host.Pages(),
		"cache":        h.metrics.Snapshot(),
	}
	if active := reg.Active(); active != nil {
		store, err := active.Versions().Store(c.Request.Context())
		if err == nil {
			if n, err := store.Len(c.Request.Context()); err == nil {
				resp["store_size"] = n
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Update deploys a new version and returns once it is installed.
func (h *Handlers) Update(c *gin.Context) {
	var req UpdateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	// Install outlives the request; a disconnecting client must not abort it.
	ctx := context.WithoutCancel(c.Request.Context())
	w, err := h.host.Update(ctx, req.Build)
	switch {
	case errors.Is(err, agent.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "version": w.Version()})
		return
	case err != nil && w == nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "version": w.Version()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version": w.Version(),
		"state":   w.State(),
	})
}

// SkipWaiting activates the waiting worker.
func (h *Handlers) SkipWaiting(c *gin.Context) {
	var req SkipWaitingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !h.host.SkipWaiting(req.Version) {
		c.JSON(http.StatusConflict, gin.H{"error": "no update waiting"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}

// Intercept answers any other request through the active worker.
func (h *Handlers) Intercept(c *gin.Context) {
	req, err := h.toRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := h.host.Fetch(c.Request.Context(), req)
	writeResponse(c, resp)
}

func (h *Handlers) toRequest(c *gin.Context) (cache.Request, error) {
	r := c.Request
	u := h.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})

	var body []byte
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			return cache.Request{}, err
		}
	}

	header := r.Header.Clone()
	for _, hop := range hopHeaders {
		header.Del(hop)
	}

	return cache.Request{
		Method: r.Method,
		URL:    u.String(),
		Mode:   requestMode(r),
		Header: header,
		Body:   body,
	}, nil
}

// requestMode derives the fetch mode from Sec-Fetch-Mode, falling back to
// the Accept header for clients that do not send it.
func requestMode(r *http.Request) cache.Mode {
	switch mode := cache.Mode(r.Header.Get("Sec-Fetch-Mode")); mode {
	case cache.ModeNavigate, cache.ModeCORS, cache.ModeNoCORS, cache.ModeSameOrigin:
		return mode
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return cache.ModeNavigate
	}
	return cache.ModeSameOrigin
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Te",
	"Trailer",
}

func writeResponse(c *gin.Context, resp *cache.Response) {
	status := resp.Status
	if status == 0 {
		// opaque responses carry nothing a client can use
		status = http.StatusBadGateway
	}
	for k, vs := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(status)
	if c.Request.Method == http.MethodHead {
		return
	}
	_, _ = c.Writer.Write(resp.Body)
}
