package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/registry-sync/internal/resilience"
)

const statusBodySnippet = 4 << 10

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	MaxBodyBytes int64
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase  time.Duration
	RateLimiters map[string]*rate.Limiter
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// RateLimiters builds per-host limiters from requests-per-second settings.
// Hosts with a non-positive rate are left on the default limiter.
func RateLimiters(perHost map[string]float64) map[string]*rate.Limiter {
	lims := make(map[string]*rate.Limiter, len(perHost))
	for host, rps := range perHost {
		if rps <= 0 {
			continue
		}
		lims[host] = rate.NewLimiter(rate.Limit(rps), max(1, int(math.Ceil(rps))))
	}
	return lims
}

// HTTPFetcher implements Fetcher using net/http with retry and rate limiting.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 100 << 20
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Second
	}
	limiters := make(map[string]*AdaptiveLimiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		limiters[host] = NewAdaptiveLimiter(lim.Limit(), lim.Burst())
	}
	return &HTTPFetcher{
		// Deadlines come from the per-request context so a streamed body is
		// not cut off by a client-wide timeout.
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		opts:     opts,
		limiters: limiters,
	}
}

// limiterFor returns the host's limiter, creating a default one on first use.
func (f *HTTPFetcher) limiterFor(rawURL string) *AdaptiveLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(5, 5)
		f.limiters[host] = lim
	}
	return lim
}

func (f *HTTPFetcher) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: create request for %s", r.URL)
	}
	if len(r.Headers) == 0 {
		req.Header.Set("User-Agent", f.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,*/*;q=0.8")
		return req, nil
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (f *HTTPFetcher) timeoutFor(r Request) time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return f.opts.Timeout
}

// do sends req with retry. Transient statuses and network errors are retried;
// any other non-2xx status is returned as a *StatusError without retry.
func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.String())
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("url", req.URL.String()))

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			log.Warn("http request failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			lim.OnSuccess()
			return resp, nil
		}

		statusErr := readStatusError(req.URL.String(), resp)
		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, statusErr
		}
		lastErr = resilience.NewTransientError(statusErr, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		log.Warn("transient status, retrying",
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
		)
		f.backoff(ctx, attempt)
	}

	return nil, eris.Wrap(lastErr, "fetcher: all retries exhausted")
}

func readStatusError(rawURL string, resp *http.Response) *StatusError {
	defer resp.Body.Close() //nolint:errcheck
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodySnippet))
	return &StatusError{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       snippet,
	}
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(f.opts.BackoffBase) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Get fetches the URL and buffers the body, failing with ErrBodyTooLarge past MaxBodyBytes.
func (f *HTTPFetcher) Get(ctx context.Context, r Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeoutFor(r))
	defer cancel()

	req, err := f.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(&maxBytesReader{r: resp.Body, remaining: f.opts.MaxBodyBytes, url: r.URL})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body from %s", r.URL)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, r Request) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeoutFor(r))

	req, err := f.newRequest(ctx, r)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := f.do(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	return &cancelReadCloser{
		Reader: &maxBytesReader{r: resp.Body, remaining: f.opts.MaxBodyBytes, url: r.URL},
		body:   resp.Body,
		cancel: cancel,
	}, nil
}

// maxBytesReader fails with ErrBodyTooLarge once more than remaining bytes
// arrive, instead of silently truncating.
type maxBytesReader struct {
	r         io.Reader
	remaining int64
	url       string
}

func (m *maxBytesReader) Read(p []byte) (int, error) {
	if m.remaining < 0 {
		return 0, eris.Wrapf(ErrBodyTooLarge, "fetcher: %s", m.url)
	}
	// Ask for one byte past the limit so an oversized body is detected.
	if int64(len(p)) > m.remaining+1 {
		p = p[:m.remaining+1]
	}
	n, err := m.r.Read(p)
	if int64(n) > m.remaining {
		n = int(m.remaining)
		m.remaining = -1
		return n, eris.Wrapf(ErrBodyTooLarge, "fetcher: %s", m.url)
	}
	m.remaining -= int64(n)
	return n, err
}

type cancelReadCloser struct {
	io.Reader
	body   io.Closer
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.body.Close()
	c.cancel()
	return err
}
