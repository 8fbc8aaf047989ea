package client

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const userAgent = "corsbroker/1.0"

// Options configures a Client. Zero values take the defaults.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond caps outgoing requests; zero is unlimited.
	RequestsPerSecond float64
	MaxRedirects      int
	// Middleware wraps the pooled transport, e.g. a filter engine.
	Middleware func(http.RoundTripper) http.RoundTripper
	// Breaker overrides the default upstream circuit breaker.
	Breaker *resilience.Breaker
	// OnBody observes the media type and size of every captured body.
	OnBody func(mime string, size int)
	Logger *zap.Logger
}

// Client sends decoded requests upstream.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	onBody  func(string, int)
	logger  *zap.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Pooled transport only; retries stay with the caller.
	pooled := retryablehttp.NewClient()
	pooled.RetryMax = 0
	pooled.Logger = nil
	var transport http.RoundTripper = pooled.HTTPClient.Transport
	if opts.Middleware != nil {
		transport = opts.Middleware(transport)
	}

	r := resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects)).
		SetAllowGetMethodPayload(true).
		SetHeader("User-Agent", userAgent)

	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.New("upstream", resilience.Settings{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 10 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}

	return &Client{
		resty:   r,
		limiter: limiter,
		breaker: breaker,
		onBody:  opts.OnBody,
		logger:  logger,
	}
}

// Breaker exposes the upstream circuit breaker.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// Do sends req and returns the raw response with its content decoded. The
// caller must close the body. Every failure wraps types.ErrUpstreamNetwork.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", types.ErrUpstreamNetwork, err)
	}

	resp, err := resilience.Call(c.breaker, func() (*resty.Response, error) {
		r := c.resty.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetHeaderMultiValues(req.Header)
		if req.Body != nil && req.Body != http.NoBody {
			r.SetBody(req.Body)
			if req.ContentLength > 0 {
				r.SetContentLength(true)
			}
		}
		return r.Execute(req.Method, req.URL.String())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", types.ErrUpstreamNetwork, req.Method, req.URL.Redacted(), err)
	}

	raw := resp.RawResponse
	if err := decodeContent(raw); err != nil {
		raw.Body.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrUpstreamNetwork, err)
	}

	c.logger.Debug("upstream response",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", raw.StatusCode),
		zap.Duration("duration", resp.Time()))
	return raw, nil
}

// Exchange sends req and captures the response.
func (c *Client) Exchange(ctx context.Context, req *http.Request) (*wire.SerializedResponse, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")

	sr, err := wire.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	sr.Body = wire.Flatten(sr.Body)
	if sr.URL == "" {
		sr.URL = req.URL.String()
	}

	if c.onBody != nil && sr.Body != nil {
		label, size := describe(contentType, sr.Body)
		c.onBody(label, size)
	}
	return sr, nil
}

// describe names a captured body for metrics. Binary bodies are sniffed;
// the others report their declared media type.
func describe(contentType string, body wire.Body) (string, int) {
	switch b := body.(type) {
	case wire.Binary:
		return mimetype.Detect(b.Data).String(), len(b.Data)
	case wire.Text:
		return mediaType(contentType), len(b.Value)
	default:
		s, err := wire.ValueString(body)
		if err != nil {
			return mediaType(contentType), 0
		}
		return mediaType(contentType), len(s)
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "unknown"
	}
	return mt
}
