package fetchextra

import (
	"net"
	"net/http"
	"time"
)

// Config holds the underlying HTTP transport tuning. Use DefaultConfig()
// for a properly initialized configuration, then modify fields as
// needed. The transport itself — DNS, TLS, pooling — is an external
// collaborator: this wrapper only tunes it, never reinterprets its
// bytes.
//
// Note the transport carries no overall deadline of its own; the four
// timeout clocks govern the request lifecycle instead.
type Config struct {
	// MaxIdleConns caps idle keep-alive connections across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host.
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections (idle + active) per host.
	// Zero means unlimited. Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake. Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for a "100 Continue".
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// DialTimeout bounds TCP connection establishment. Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval. Default: 30s
	KeepAlive time.Duration

	// DisableKeepAlives forces a new connection per request.
	// Default: false
	DisableKeepAlives bool

	// DisableCompression disables automatic gzip negotiation, keeping
	// the delivered bytes identical to the wire bytes. Default: true
	DisableCompression bool

	// ForceHTTP2 forces HTTP/2 negotiation over HTTPS. Default: false
	ForceHTTP2 bool
}

// DefaultConfig returns balanced transport settings for typical API
// consumption.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		DisableKeepAlives:     false,
		DisableCompression:    true,
		ForceHTTP2:            false,
	}
}

// buildTransport creates an http.Transport from the configuration.
func (c Config) buildTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   c.DialTimeout,
		KeepAlive: c.KeepAlive,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		MaxConnsPerHost:       c.MaxConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   c.TLSHandshakeTimeout,
		ExpectContinueTimeout: c.ExpectContinueTimeout,
		DisableKeepAlives:     c.DisableKeepAlives,
		DisableCompression:    c.DisableCompression,
		ForceAttemptHTTP2:     c.ForceHTTP2,
	}
}
