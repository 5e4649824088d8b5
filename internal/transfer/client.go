package transfer

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// ClientOptions configure the HTTP client shared by every transfer of a run.
type ClientOptions struct {
	// InsecureSkipVerify disables certificate and hostname verification.
	// Only for load tests against systems you control.
	InsecureSkipVerify bool

	// MaxConnsPerHost caps connections to one host. 0 means no limit.
	MaxConnsPerHost int
}

// NewClient returns an http.Client tuned for load generation. It sets no
// overall request timeout, so transfers run under the transport's own limits,
// and it never follows redirects: the redirect response is the outcome.
func NewClient(opt ClientOptions) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       opt.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: opt.InsecureSkipVerify, //nolint:gosec // opt-in test mode
		},
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
