// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rainclassroom talks to the Rain Classroom (Yuketang) web API.
package rainclassroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/platform/httpx"
	"github.com/ManuGH/rcwatch/internal/telemetry"
)

// DefaultUserAgent is the desktop Edge browser the web client identifies as.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36 Edg/134.0.0.0"

const (
	defaultTimeout          = 15 * time.Second
	defaultBackoff          = 500 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultRateLimit        = 5
	defaultRateLimitBurst   = 10
	defaultMaxConns         = 4
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second

	maxBodyBytes  = 8 << 20
	maxErrorBytes = 256
)

// Session carries the browser login credentials.
type Session struct {
	SessionID string
	CSRFToken string
	XTBZ      string
}

// Options configures the client behavior.
type Options struct {
	Timeout time.Duration
	// MaxRetries is the number of extra attempts for GET requests that hit
	// a transport error or a 5xx answer. Submissions are never retried.
	MaxRetries       int
	Backoff          time.Duration
	MaxBackoff       time.Duration
	RateLimit        rate.Limit
	RateLimitBurst   int
	MaxConns         int
	UserAgent        string
	BreakerThreshold int
	BreakerReset     time.Duration
	// HTTPClient overrides the transport; a cookie jar is added when missing.
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client interacts with the platform on behalf of one logged-in user.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	session    Session
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string
	logger     zerolog.Logger

	rnd *rand.Rand
	mu  sync.Mutex

	uvMu         sync.RWMutex
	universityID int64
}

// NewClient creates a client for host, which is either a bare authority
// such as "changjiang.yuketang.cn" or a full base URL.
func NewClient(host string, session Session, opts Options) (*Client, error) {
	base, err := parseBaseURL(host)
	if err != nil {
		return nil, err
	}

	nopts := normalizeOptions(opts)
	hc := nopts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(httpx.Options{
			Timeout:         nopts.Timeout,
			MaxConnsPerHost: nopts.MaxConns,
			Instrument:      true,
		})
	} else if hc.Jar == nil {
		clone := *hc
		clone.Jar = httpx.NewJar()
		hc = &clone
	}

	hc.Jar.SetCookies(base, []*http.Cookie{
		{Name: "sessionid", Value: session.SessionID},
		{Name: "csrftoken", Value: session.CSRFToken},
	})

	logger := xglog.WithComponent("rainclassroom")
	if nopts.Logger != nil {
		logger = *nopts.Logger
	}
	logger = logger.With().Str(xglog.FieldHost, base.Host).Logger()

	return &Client{
		baseURL:    base,
		httpClient: hc,
		session:    session,
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		breaker:    NewCircuitBreaker(nopts.BreakerThreshold, nopts.BreakerReset),
		maxRetries: nopts.MaxRetries,
		backoff:    nopts.Backoff,
		maxBackoff: nopts.MaxBackoff,
		userAgent:  nopts.UserAgent,
		logger:     logger,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}, nil
}

func parseBaseURL(host string) (*url.URL, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(host), "/")
	if trimmed == "" {
		return nil, errors.New("rainclassroom: empty host")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("rainclassroom: invalid host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("rainclassroom: invalid host %q", host)
	}
	u.Path = ""
	u.RawQuery = ""
	return u, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	return opts
}

// SetUniversityID attaches the classroom's university to every later request.
func (c *Client) SetUniversityID(id int64) {
	if id == 0 {
		return
	}
	c.uvMu.Lock()
	c.universityID = id
	c.uvMu.Unlock()

	v := strconv.FormatInt(id, 10)
	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{
		{Name: "university_id", Value: v},
		{Name: "uv_id", Value: v},
	})
}

// UniversityID returns the id set by SetUniversityID.
func (c *Client) UniversityID() int64 {
	c.uvMu.RLock()
	defer c.uvMu.RUnlock()
	return c.universityID
}

// BreakerState exposes the circuit breaker state.
func (c *Client) BreakerState() State {
	return c.breaker.State()
}

// request describes one API call.
type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	header    http.Header
	body      []byte
	// envelope selects business status checking on the decoded body.
	envelope bool
}

// call performs req and, for envelope requests, returns the decoded
// top-level JSON object after checking its business status.
func (c *Client) call(ctx context.Context, req request) (envelope, error) {
	if !c.breaker.Allow() {
		return nil, &RemoteError{Sentinel: ErrCircuitOpen, Operation: req.operation}
	}

	status, body, err := c.do(ctx, req)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) {
			switch {
			case re.outage():
				c.breaker.RecordFailure()
			case !errors.Is(err, context.Canceled):
				c.breaker.RecordSuccess()
			}
		}
		return nil, err
	}
	c.breaker.RecordSuccess()

	if !req.envelope {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &RemoteError{Sentinel: ErrBadResponse, Operation: req.operation, Status: status, Err: err}
	}

	conv := conventionFor(req.path)
	if !env.accepted(conv) {
		code, msg := env.status(conv)
		businessRejections.WithLabelValues(req.operation).Inc()
		return nil, &RemoteError{Sentinel: ErrBusiness, Operation: req.operation, Status: status, Code: code, Message: msg}
	}
	return env, nil
}

// do sends req with retries and returns the status and body of a 2xx answer.
func (c *Client) do(ctx context.Context, req request) (int, []byte, error) {
	tracer := telemetry.Tracer("rcwatch.rainclassroom")
	ctx, span := tracer.Start(ctx, "rcwatch.rainclassroom.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(telemetry.OperationKey, req.operation),
		attribute.String(telemetry.HTTPMethodKey, req.method),
		attribute.String(telemetry.HTTPRouteKey, req.path),
	)
	defer span.End()

	u := *c.baseURL
	u.Path = req.path
	u.RawQuery = req.query.Encode()
	rawURL := u.String()

	maxAttempts := 1
	if req.method == http.MethodGet {
		maxAttempts += c.maxRetries
	}
	logger := c.logger.With().Str(xglog.FieldOperation, req.operation).Logger()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, nil, transportError(req.operation, err)
		}

		status, body, took, err := c.attempt(ctx, req, rawURL)
		retry := err != nil && attempt < maxAttempts && retryable(err)
		var transportErr error
		if err != nil && status == 0 {
			transportErr = err
		}
		recordAttemptMetrics(req.method, req.operation, status, took, transportErr, retry)
		span.SetAttributes(attribute.Int("attempt", attempt))

		if err == nil {
			span.SetAttributes(telemetry.HTTPAttributes(req.method, req.path, status)...)
			span.SetStatus(codes.Ok, "")
			logger.Debug().
				Str(xglog.FieldEvent, "remote.ok").
				Int(xglog.FieldStatus, status).
				Int(xglog.FieldAttempt, attempt).
				Msg("request succeeded")
			return status, body, nil
		}
		lastErr = err

		if !retry {
			break
		}
		wait := c.backoffFor(attempt - 1)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "remote.retry").
			Int(xglog.FieldAttempt, attempt).
			Dur("wait", wait).
			Msg("request failed, retrying")
		if err := sleepWithContext(ctx, wait); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, nil, transportError(req.operation, err)
		}
	}

	var re *RemoteError
	if errors.As(lastErr, &re) && re.Status > 0 {
		span.SetAttributes(telemetry.HTTPAttributes(req.method, req.path, re.Status)...)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return 0, nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req request, rawURL string) (int, []byte, time.Duration, error) {
	var bodyReader io.Reader
	if req.body != nil {
		bodyReader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, rawURL, bodyReader)
	if err != nil {
		return 0, nil, 0, &RemoteError{Sentinel: ErrUnavailable, Operation: req.operation, Err: err}
	}
	c.applyHeaders(httpReq, req)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, time.Since(start), transportError(req.operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	took := time.Since(start)
	if err != nil {
		return 0, nil, took, transportError(req.operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &RemoteError{Sentinel: ErrHTTPStatus, Operation: req.operation, Status: resp.StatusCode}
		var env envelope
		if json.Unmarshal(body, &env) == nil {
			re.Code, re.Message = env.status(conventionFor(req.path))
		} else {
			re.Message = truncate(string(body), maxErrorBytes)
		}
		return resp.StatusCode, nil, took, re
	}
	return resp.StatusCode, body, took, nil
}

func (c *Client) applyHeaders(httpReq *http.Request, req request) {
	h := httpReq.Header
	h.Set("User-Agent", c.userAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("X-Csrftoken", c.session.CSRFToken)
	h.Set("xtbz", c.session.XTBZ)
	if uv := c.UniversityID(); uv != 0 {
		h.Set("University-Id", strconv.FormatInt(uv, 10))
	}
	if req.body != nil {
		h.Set("Content-Type", "application/json")
	}
	for k, vs := range req.header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
}

func retryable(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	if errors.Is(re.Err, context.Canceled) {
		return false
	}
	switch re.Sentinel {
	case ErrUnavailable, ErrTimeout:
		return true
	case ErrHTTPStatus:
		return re.Status >= http.StatusInternalServerError
	}
	return false
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
