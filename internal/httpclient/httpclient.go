// Package httpclient is the Shared HTTP Client (C1, SPEC_FULL.md §4.1): one
// logical resty.Client per upstream-service name, each wrapping a hand-built
// *http.Transport for the socket/keep-alive/proxy knobs resty itself doesn't
// expose, mirroring torrent-search/cmd/server/main.go's
// newRutrackerHTTPClient (there a one-off *http.Client per provider; here
// generalized into a registry keyed by upstream name with periodic
// transport recycling and error-streak-triggered proxy routing, per
// §1.3/§7, grounded in torrent-search/internal/search/health.go's
// consecutive-failure bookkeeping).
package httpclient

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// Outcome classifies one response for error-streak bookkeeping, per §4.1.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeConnectionError
	OutcomeStatusNon2xx
)

// Options configures one upstream client.
type Options struct {
	// ProxyURL is used for requests once this upstream's error streak trips
	// the threshold (§1.3's supplemented proxy-adaptation mechanism).
	ProxyURL string
	// RequestTimeout overrides the default 60s per-request timeout.
	RequestTimeout time.Duration
	// MaxAge is how long a transport lives before being recreated and the
	// old one drained, the defense against socket leaks under timeout
	// storms named in §4.1.
	MaxAge time.Duration
	// ErrorStreakThreshold is the consecutive-failure count after which
	// requests route through ProxyURL (if set).
	ErrorStreakThreshold int
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.MaxAge == 0 {
		o.MaxAge = 5 * time.Minute
	}
	if o.ErrorStreakThreshold == 0 {
		o.ErrorStreakThreshold = 5
	}
	return o
}

// Client is one upstream's resty.Client plus its error-streak state.
type Client struct {
	name   string
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	rest        *resty.Client
	builtAt     time.Time
	errorStreak int64
	usingProxy  bool
}

// newTransport builds a fresh *http.Transport per §4.1's socket policy:
// keep-alive on, ≤100 conns/host, ≤20 idle, 30s idle timeout, no implicit
// retries (callers decide).
func newTransport(proxyURL string, useProxy bool, logger *slog.Logger) *http.Transport {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if useProxy && proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			transport.Proxy = http.ProxyURL(parsed)
		} else if logger != nil {
			logger.Warn("httpclient: invalid proxy url, proxy disabled", "proxyURL", proxyURL)
		}
	}

	return transport
}

func newClient(name string, opts Options, logger *slog.Logger) *Client {
	c := &Client{name: name, opts: opts.withDefaults(), logger: logger}
	c.rebuild(false)
	return c
}

func (c *Client) rebuild(useProxy bool) {
	transport := newTransport(c.opts.ProxyURL, useProxy, c.logger)
	rest := resty.New().
		SetTransport(transport).
		SetTimeout(c.opts.RequestTimeout).
		SetRetryCount(0)

	c.mu.Lock()
	old := c.rest
	c.rest = rest
	c.builtAt = time.Now()
	c.usingProxy = useProxy
	c.mu.Unlock()

	if old != nil {
		// Drain out-of-band: idle connections close themselves once
		// dereferenced; CloseIdleConnections speeds that up without
		// blocking in-flight requests on the old transport.
		if t, ok := old.GetClient().Transport.(*http.Transport); ok {
			go t.CloseIdleConnections()
		}
	}
}

// Rest returns the underlying resty.Client, recreating the transport first
// if it has exceeded MaxAge.
func (c *Client) Rest() *resty.Client {
	c.mu.RLock()
	age := time.Since(c.builtAt)
	useProxy := c.usingProxy
	c.mu.RUnlock()

	if age > c.opts.MaxAge {
		c.rebuild(useProxy)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rest
}

// RecordOutcome updates the error streak and, crossing the threshold,
// switches routing to the proxy; a success resets the streak and routing.
func (c *Client) RecordOutcome(outcome Outcome) {
	switch outcome {
	case OutcomeSuccess:
		if atomic.SwapInt64(&c.errorStreak, 0) >= int64(c.opts.ErrorStreakThreshold) {
			c.rebuild(false)
		}
	case OutcomeTimeout, OutcomeConnectionError, OutcomeStatusNon2xx:
		streak := atomic.AddInt64(&c.errorStreak, 1)
		if streak == int64(c.opts.ErrorStreakThreshold) && c.opts.ProxyURL != "" {
			c.mu.RLock()
			alreadyProxied := c.usingProxy
			c.mu.RUnlock()
			if !alreadyProxied {
				if c.logger != nil {
					c.logger.Warn("httpclient: error streak threshold reached, switching to proxy", "upstream", c.name, "streak", streak)
				}
				c.rebuild(true)
			}
		}
	}
}

// ErrorStreak returns the current consecutive-failure count, for metrics.
func (c *Client) ErrorStreak() int64 {
	return atomic.LoadInt64(&c.errorStreak)
}

// ClassifyError maps an error/response pair to an Outcome.
func ClassifyError(err error, statusCode int) Outcome {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return OutcomeTimeout
		}
		return OutcomeConnectionError
	}
	if statusCode < 200 || statusCode >= 300 {
		return OutcomeStatusNon2xx
	}
	return OutcomeSuccess
}

// Registry owns one Client per upstream-service name, per §9's "explicit
// services with init and teardown, not ambient globals" decision.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, clients: make(map[string]*Client)}
}

// Get returns (creating if necessary) the Client for name.
func (r *Registry) Get(name string, opts Options) *Client {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c
	}
	c := newClient(key, opts, r.logger)
	r.clients[key] = c
	return c
}

// Shutdown drains every registered transport.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.mu.RLock()
		rest := c.rest
		c.mu.RUnlock()
		if rest != nil {
			if t, ok := rest.GetClient().Transport.(*http.Transport); ok {
				t.CloseIdleConnections()
			}
		}
	}
}
