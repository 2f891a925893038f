package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/resilience"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/tracing"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// Options configures an HTTPFetcher.
type Options struct {
	// Origin is the agent's own origin; responses from it are typed basic.
	Origin string
	// Timeout bounds a whole fetch including retries. Zero means no limit.
	Timeout time.Duration
	// Retries is the number of extra attempts for safe requests.
	Retries int
	// RateLimit caps outgoing requests per second. Zero means unlimited.
	RateLimit float64
	UserAgent string
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	origin  *url.URL
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *logging.Logger
	metrics *monitoring.Metrics
}

type noRetryKey struct{}

// NewHTTPFetcher creates a fetcher for the given origin.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", opts.Origin)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "maskmytext-agent/1.0"
	}
	log := logging.OrNop(opts.Logger).Component("network")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = retryPolicy
	// Keep the last response instead of turning exhausted retries into an error.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetHeader("User-Agent", opts.UserAgent)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	breaker := resilience.New("upstream", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A caller giving up says nothing about the upstream.
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &HTTPFetcher{
		origin:  origin,
		client:  client,
		limiter: limiter,
		breaker: breaker,
		log:     log,
		metrics: opts.Metrics,
	}, nil
}

// Origin returns the configured origin.
func (f *HTTPFetcher) Origin() *url.URL {
	u := *f.origin
	return &u
}

// Fetch performs req against the network.
func (f *HTTPFetcher) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	resp, err := f.fetch(ctx, req)
	f.metrics.RecordFetch(err)
	if err != nil {
		f.log.Debug("fetch failed", zap.String("url", req.URL), zap.Error(err))
	}
	return resp, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if !safeMethod(method) {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, req.URL, err)
	}

	raw, err := resilience.Run(f.breaker, func() (*resty.Response, error) {
		r := f.client.R().SetContext(ctx)
		for k, vs := range req.Header {
			// The transport negotiates compression itself and hands back
			// decoded bodies.
			if http.CanonicalHeaderKey(k) == "Accept-Encoding" {
				continue
			}
			for _, v := range vs {
				r.Header.Add(k, v)
			}
		}
		tracing.Inject(ctx, r.Header)
		if len(req.Body) > 0 {
			r.SetBody(req.Body)
		}
		return r.Execute(method, req.URL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, req.URL, err)
	}

	return f.convert(req, raw), nil
}

func (f *HTTPFetcher) convert(req cache.Request, raw *resty.Response) *cache.Response {
	finalURL := req.URL
	if raw.RawResponse != nil && raw.RawResponse.Request != nil {
		finalURL = raw.RawResponse.Request.URL.String()
	}

	if !paths.SameOrigin(f.origin, finalURL) {
		if req.Mode == cache.ModeNoCORS {
			return &cache.Response{Header: make(http.Header), Body: []byte{}, Type: cache.TypeOpaque}
		}
	}

	header := raw.Header().Clone()
	if header == nil {
		header = make(http.Header)
	}
	// resty inflates gzip bodies without touching the headers, so the body
	// is already decoded.
	if strings.EqualFold(header.Get("Content-Encoding"), "gzip") {
		header.Del("Content-Encoding")
	}
	header.Del("Content-Length")
	body := raw.Body()
	if body == nil {
		body = []byte{}
	}
	if header.Get("Content-Type") == "" && len(body) > 0 {
		header.Set("Content-Type", mimetype.Detect(body).String())
	}

	resp := &cache.Response{
		Status:     raw.StatusCode(),
		StatusText: http.StatusText(raw.StatusCode()),
		Header:     header,
		Body:       body,
		Type:       cache.TypeBasic,
		URL:        finalURL,
	}
	if !paths.SameOrigin(f.origin, finalURL) {
		resp.Type = cache.TypeCORS
	}
	return resp
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

var _ Fetcher = (*HTTPFetcher)(nil)
