package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"imgsearch/internal/adapter/httpx"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

const (
	defaultAttempts  = 3
	defaultTimeout   = 15 * time.Second
	defaultBackoff   = time.Second
	defaultUserAgent = "Mozilla/5.0 (Shopify Image Indexer)"
)

// HTTPFetcher downloads images over HTTP with per-attempt timeouts and
// linear backoff between retryable failures.
type HTTPFetcher struct {
	client    *http.Client
	attempts  int
	timeout   time.Duration
	backoff   time.Duration
	userAgent string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ port.ImageFetcher = (*HTTPFetcher)(nil)

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithAttempts sets the number of attempts per Fetch call.
func WithAttempts(n int) Option {
	return func(f *HTTPFetcher) { f.attempts = n }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.timeout = d }
}

// WithBackoff sets the backoff base; attempt n waits base*n.
func WithBackoff(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.backoff = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(f *HTTPFetcher) { f.limiter = httpx.NewLimiter(rps) }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates an image fetcher.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    http.DefaultClient,
		attempts:  defaultAttempts,
		timeout:   defaultTimeout,
		backoff:   defaultBackoff,
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.attempts <= 0 {
		f.attempts = defaultAttempts
	}
	return f
}

// Fetch returns the body of url. 5xx responses, timeouts and network errors
// are retried; any other non-2xx status fails immediately with
// domain.ErrPermanentInput.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty image URL", domain.ErrPermanentInput)
	}

	var body []byte
	err := httpx.Retry(ctx, f.attempts, f.backoff, func(attempt int) error {
		f.logger.Debug("fetching image", "url", url, "attempt", attempt, "attempts", f.attempts)

		b, err := f.fetchOnce(ctx, url)
		if err != nil {
			f.logger.Warn("fetch attempt failed", "url", url, "attempt", attempt, "error", err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return body, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	if err := httpx.Wait(ctx, f.limiter); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPermanentInput, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, httpx.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, httpx.StatusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httpx.TransportError(ctx, err)
	}
	return body, nil
}
