// Package swarm implements the proxy swarm dispatcher: it owns an ordered
// set of proxy endpoints and executes batches of outbound fetches against
// them, one item per proxy per wave, with per-item timeouts and live
// progress estimation.
package swarm

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Supported endpoint schemes.
const (
	SchemeHTTP   = "http"
	SchemeSOCKS5 = "socks5"
)

// Credentials is the username/password pair applied to a proxy connection.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no credentials are set.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Endpoint identifies one egress path. It is immutable once constructed;
// the dispatcher holds an ordered sequence of endpoints whose order is
// stable for the lifetime of a run and determines wave-slot assignment.
type Endpoint struct {
	Host        string
	Port        int
	Scheme      string
	Credentials Credentials
}

// NewEndpoint builds an HTTP proxy endpoint.
func NewEndpoint(host string, port int, creds Credentials) Endpoint {
	return Endpoint{Host: host, Port: port, Scheme: SchemeHTTP, Credentials: creds}
}

// Addr returns the host:port form of the endpoint.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the endpoint address without credentials, safe for logs.
func (e Endpoint) String() string {
	return e.Addr()
}

// URL returns the proxy URL including credentials, as consumed by
// http.ProxyURL.
func (e Endpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: e.scheme(),
		Host:   e.Addr(),
	}
	if !e.Credentials.Empty() {
		u.User = url.UserPassword(e.Credentials.Username, e.Credentials.Password)
	}
	return u
}

func (e Endpoint) scheme() string {
	if e.Scheme == "" {
		return SchemeHTTP
	}
	return e.Scheme
}

// ParseEndpoint parses "host:port" or "scheme://host:port" into an endpoint
// with the given shared credentials.
func ParseEndpoint(s string, creds Credentials) (Endpoint, error) {
	scheme := SchemeHTTP
	if i := strings.Index(s, "://"); i >= 0 {
		scheme = s[:i]
		s = s[i+3:]
	}
	if scheme != SchemeHTTP && scheme != SchemeSOCKS5 {
		return Endpoint{}, fmt.Errorf("unsupported proxy scheme %q", scheme)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse proxy address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("parse proxy port %q: invalid port", portStr)
	}

	return Endpoint{Host: host, Port: port, Scheme: scheme, Credentials: creds}, nil
}

// transportFor builds the per-endpoint transport. HTTP endpoints route via
// Transport.Proxy; SOCKS5 endpoints route via a SOCKS dialer.
func transportFor(ep Endpoint, timeout time.Duration) (http.RoundTripper, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}

	switch ep.scheme() {
	case SchemeHTTP:
		transport.Proxy = http.ProxyURL(ep.URL())
	case SchemeSOCKS5:
		var auth *xproxy.Auth
		if !ep.Credentials.Empty() {
			auth = &xproxy.Auth{
				User:     ep.Credentials.Username,
				Password: ep.Credentials.Password,
			}
		}
		socks, err := xproxy.SOCKS5("tcp", ep.Addr(), auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", ep.Addr(), err)
		}
		transport.Proxy = nil
		transport.DialContext = socks.(xproxy.ContextDialer).DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", ep.Scheme)
	}

	return transport, nil
}
