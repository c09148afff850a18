// Package httpx builds the shared outbound HTTP client.
package httpx

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultClientTimeout         = 15 * time.Second
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultIdleConnTimeout       = 60 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxConnsPerHost       = 4
)

// Options tunes NewClient.
type Options struct {
	Timeout time.Duration
	// MaxConnsPerHost caps concurrent connections to the remote platform.
	MaxConnsPerHost int
	// Jar stores session cookies; NewClient creates one when nil.
	Jar http.CookieJar
	// Instrument wraps the transport with OpenTelemetry client spans.
	Instrument bool
}

// NewJar returns a cookie jar aware of public suffix boundaries.
func NewJar() http.CookieJar {
	// cookiejar.New never returns a non-nil error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// NewClient returns a hardened HTTP client for the remote platform.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}

	responseHeaderTimeout := timeout
	if responseHeaderTimeout > defaultResponseHeaderTimeout {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	maxConns := opts.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = defaultMaxConnsPerHost
	}

	jar := opts.Jar
	if jar == nil {
		jar = NewJar()
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       maxConns,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
	if opts.Instrument {
		transport = otelhttp.NewTransport(transport)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		Jar:       jar,
	}
}
