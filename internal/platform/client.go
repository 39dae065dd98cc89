// Package platform is the client for the streaming platform's REST API:
// workspaces, topics, applications, sandbox sessions, deployments and
// secrets.
//
// Every request goes through a circuit breaker and is retried on transient
// failures (429, 5xx, transport errors). Sandbox runs are the exception: they
// are bounded by their own run timeout instead of the request timeout, and
// only a 429 is re-sent, since any other failure may mean the app already
// ran. Discovery listings are cached for a short TTL, and internal topics are
// hidden by glob pattern.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/retry"
	"github.com/Iron-Ham/klaus/internal/telemetry"
	"github.com/Iron-Ham/klaus/internal/util"
)

// breakerThreshold is the number of consecutive failures that opens the
// circuit breaker.
const breakerThreshold = 5

// runDeadlineMargin is added to a sandbox run's timeout to cover session
// startup and returning the logs.
const runDeadlineMargin = 30 * time.Second

// Client talks to the platform REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	runClient  *http.Client
	runMargin  time.Duration
	policy     retry.Policy
	breaker    *gobreaker.CircuitBreaker
	discovery  *cache.Cache
	ttl        time.Duration
	excluded   []glob.Glob
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a Client from config. Invalid exclusion patterns are an
// error.
func NewClient(cfg config.PlatformConfig, logger *logging.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	excluded := make([]glob.Glob, 0, len(cfg.ExcludedTopicPatterns))
	for _, p := range cfg.ExcludedTopicPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid topic exclusion pattern %q: %w", p, err)
		}
		excluded = append(excluded, g)
	}

	ttl := cfg.DiscoveryCacheTTL()
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		policy:     retry.HTTPPolicy(cfg.MaxRetries),
		runMargin:  runDeadlineMargin,
		discovery:  cache.New(ttl, 2*ttl+time.Second),
		ttl:        ttl,
		excluded:   excluded,
		logger:     logger,
		tracer:     telemetry.Tracer(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "platform",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		// Client errors (auth, validation, not found) say nothing about
		// platform health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	// Runs share the transport but not the client-wide timeout.
	rc := *c.httpClient
	rc.Timeout = 0
	c.runClient = &rc
	return c, nil
}

// ExcludedTopic reports whether a topic name matches an exclusion pattern.
func (c *Client) ExcludedTopic(name string) bool {
	for _, g := range c.excluded {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// InvalidateDiscovery drops cached listings.
func (c *Client) InvalidateDiscovery() {
	c.discovery.Flush()
}

// request is one call to the platform API. in may be nil; out may be nil or
// a *string for text responses.
type request struct {
	op, method, path string
	in, out          any
	client           *http.Client
	// once marks requests that must not be re-sent after the platform may
	// have acted on them. Only a 429 is retried.
	once bool
}

// do sends one JSON request with retries and the circuit breaker.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	return c.call(ctx, request{op: op, method: method, path: path, in: in, out: out, client: c.httpClient})
}

func (c *Client) call(ctx context.Context, r request) error {
	op, path := r.op, r.path
	ctx, span := c.tracer.Start(ctx, "platform."+op, trace.WithAttributes(
		attribute.String("http.method", r.method),
		attribute.String("http.path", path),
	))
	defer span.End()

	var body []byte
	if r.in != nil {
		var err error
		if body, err = json.Marshal(r.in); err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	attempt := 0
	err := retry.Do(ctx, c.policy, func(err error, wait time.Duration) {
		c.logger.Warn("platform request failed, retrying", "op", op, "path", path, "error", err.Error(), "wait", wait)
	}, func(ctx context.Context) error {
		attempt++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.send(ctx, r.client, op, r.method, path, body, r.out)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return errors.NewPlatformError(op, fmt.Errorf("%w: %v", errors.ErrCircuitOpen, err)).
				WithEndpoint(path).WithRetryable(false)
		}
		var pe *errors.PlatformError
		if r.once && errors.As(err, &pe) && pe.StatusCode != http.StatusTooManyRequests {
			pe.WithRetryable(false)
		}
		return err
	})
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("platform request failed", "op", op, "path", path, "attempts", attempt, "error", err.Error())
		return err
	}
	c.logger.Debug("platform request", "op", op, "path", path, "attempts", attempt)
	return nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Version", "2.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewPlatformError(op, err).WithEndpoint(path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewPlatformError(op, fmt.Errorf("read response: %w", err)).WithEndpoint(path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(util.TruncateString(string(data), 300))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errors.NewPlatformError(op, errors.New(msg)).WithStatus(resp.StatusCode).WithEndpoint(path)
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *string:
		*v = string(data)
		return nil
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errors.NewPlatformError(op, fmt.Errorf("decode response: %w", err)).
				WithEndpoint(path).WithRetryable(false)
		}
		return nil
	}
}

// cached returns the discovery listing under key, fetching it on a miss.
// A non-positive TTL disables caching.
func cached[T any](c *Client, key string, fetch func() (T, error)) (T, error) {
	if c.ttl <= 0 {
		return fetch()
	}
	if v, ok := c.discovery.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.discovery.Set(key, v, cache.DefaultExpiration)
	return v, nil
}

func escape(s string) string { return url.PathEscape(s) }
