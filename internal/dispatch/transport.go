// Package dispatch implements the upstream HTTP dispatch layer: per-provider
// request construction, egress-proxy-aware transports, and upstream error
// classification. It never retries a failed call.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/dnscache"
	"golang.org/x/net/proxy"
)

const (
	connectTimeout = 10 * time.Second
	overallTimeout = 60 * time.Second
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// DNS caching via resolver. When egressProxy is non-empty it is honored:
// http/https proxies route through http.Transport.Proxy, socks5 through an
// explicit proxy.Dialer wired into DialContext.
func NewTransport(resolver *dnscache.Resolver, egressProxy string) (*http.Transport, error) {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if resolver == nil {
			d := &net.Dialer{Timeout: connectTimeout}
			return d.DialContext(ctx, network, addr)
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		d := &net.Dialer{Timeout: connectTimeout}
		return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}

	if egressProxy == "" {
		t.DialContext = dial
		return t, nil
	}

	proxyURL, err := url.Parse(egressProxy)
	if err != nil {
		return nil, fmt.Errorf("parse egress proxy %q: %w", egressProxy, err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(proxyURL)
		t.DialContext = dial
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(proxyURL, &net.Dialer{Timeout: connectTimeout})
		if err != nil {
			return nil, fmt.Errorf("build socks5 dialer for %q: %w", egressProxy, err)
		}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if ctxDialer, ok := dialer.(interface {
				DialContext(ctx context.Context, network, addr string) (net.Conn, error)
			}); ok {
				return ctxDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported egress proxy scheme %q", proxyURL.Scheme)
	}
	return t, nil
}

// NewClient builds the *http.Client used for a single upstream call: a fresh
// transport (so per-credential proxy routing never bleeds across clients)
// wrapped with the fixed 60s overall timeout.
func NewClient(resolver *dnscache.Resolver, egressProxy string) (*http.Client, error) {
	t, err := NewTransport(resolver, egressProxy)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: overallTimeout}, nil
}
