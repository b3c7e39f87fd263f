// Package httpclient builds the HTTP client shared by all upstream API clients.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const idleConnTimeout = 90 * time.Second

// Options configures the shared client.
type Options struct {
	ConnectTimeout     time.Duration
	Timeout            time.Duration
	AcceptInvalidCerts bool
}

// New returns a client whose dial is bounded by ConnectTimeout and whose
// whole request, body included, is bounded by Timeout. Every request asks
// for JSON unless the caller sets Accept itself.
func New(opts Options) *http.Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout
	transport.IdleConnTimeout = idleConnTimeout
	if opts.AcceptInvalidCerts {
		//nolint:gosec // opt-in for self-hosted Tautulli with self-signed certificates
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &acceptJSON{next: transport},
	}
}

type acceptJSON struct {
	next http.RoundTripper
}

func (t *acceptJSON) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept", "application/json")
	}
	return t.next.RoundTrip(req)
}
