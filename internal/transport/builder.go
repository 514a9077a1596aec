// Package transport builds the five ClientTransportBuilder variants:
// HTTP/1.x cleartext, HTTP/1.x TLS, HTTP/2 cleartext, HTTP/2 TLS, and
// FastCGI. Construction is atomic: a Builder returns a ready-to-use
// http.RoundTripper with no post-hoc mutation, so client and transport
// never hold a circular reference to each other.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/volcanion-company/loadgen-core/internal/model"
)

// Per-destination connection limits, applied per-variant with no shared
// mutable state between them so HTTP/1 can never silently inherit the
// HTTP/2 limit.
const (
	maxConnsPerDestinationHTTP1   = 7
	maxConnsPerDestinationHTTP2   = 1
	maxConnsPerDestinationFastCGI = maxConnsPerDestinationHTTP1 // left unspecified upstream; mirrors HTTP/1
	idleConnTimeout               = 90 * time.Second
)

// Builder produces a transport for one selector pool. selectors sizes
// the transport's own internal concurrency (idle-conn capacity for the
// HTTP/1 transports, the in-flight round-trip bound for FastCGI; the
// HTTP/2 builders ignore it); it is independent of the Engine's worker
// count.
type Builder interface {
	Build(selectors int, tlsConfig *tls.Config) (http.RoundTripper, error)
}

// ForTransport resolves the Builder for a configured model.Transport.
func ForTransport(t model.Transport) (Builder, error) {
	switch t {
	case model.TransportHTTP1:
		return HTTP1Builder{}, nil
	case model.TransportHTTP1TLS:
		return HTTP1TLSBuilder{}, nil
	case model.TransportHTTP2:
		return HTTP2Builder{}, nil
	case model.TransportHTTP2TLS:
		return HTTP2TLSBuilder{}, nil
	case model.TransportFastCGI:
		return FastCGIBuilder{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown variant %q", t)
	}
}

// HTTP1Builder produces a cleartext HTTP/1.x transport.
type HTTP1Builder struct{}

func (HTTP1Builder) Build(selectors int, _ *tls.Config) (http.RoundTripper, error) {
	return &http.Transport{
		MaxConnsPerHost:     maxConnsPerDestinationHTTP1,
		MaxIdleConnsPerHost: maxConnsPerDestinationHTTP1,
		MaxIdleConns:        selectorBound(selectors) * maxConnsPerDestinationHTTP1,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   false,
		DisableKeepAlives:   false,
	}, nil
}

// HTTP1TLSBuilder produces an HTTP/1.x transport over TLS.
type HTTP1TLSBuilder struct{}

func (HTTP1TLSBuilder) Build(selectors int, tlsConfig *tls.Config) (http.RoundTripper, error) {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	return &http.Transport{
		MaxConnsPerHost:     maxConnsPerDestinationHTTP1,
		MaxIdleConnsPerHost: maxConnsPerDestinationHTTP1,
		MaxIdleConns:        selectorBound(selectors) * maxConnsPerDestinationHTTP1,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   false,
		TLSClientConfig:     tlsConfig,
	}, nil
}

// HTTP2Builder produces a cleartext HTTP/2 (h2c) transport, dialing
// plain TCP and speaking HTTP/2 on it directly, with no TLS handshake
// and no HTTP/1.1 Upgrade exchange.
type HTTP2Builder struct{}

func (HTTP2Builder) Build(selectors int, _ *tls.Config) (http.RoundTripper, error) {
	dialer := &net.Dialer{}
	return &http2.Transport{
		AllowHTTP:          true,
		DisableCompression: false,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxReadFrameSize: defaultHTTP2FrameSize,
		// Keeps to maxConnsPerDestinationHTTP2 (one) connection per host:
		// extra streams wait on it instead of opening another connection.
		StrictMaxConcurrentStreams: true,
	}, nil
}

// HTTP2TLSBuilder produces an HTTP/2 transport over TLS.
type HTTP2TLSBuilder struct{}

func (HTTP2TLSBuilder) Build(selectors int, tlsConfig *tls.Config) (http.RoundTripper, error) {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	return &http2.Transport{
		TLSClientConfig:  tlsConfig,
		MaxReadFrameSize: defaultHTTP2FrameSize,
		// Keeps to maxConnsPerDestinationHTTP2 (one) connection per host.
		StrictMaxConcurrentStreams: true,
	}, nil
}

const defaultHTTP2FrameSize = 16384

// selectorBound floors selectors at 1 so a misconfigured builder still
// gets a usable idle-conn ceiling.
func selectorBound(selectors int) int {
	if selectors < 1 {
		return 1
	}
	return selectors
}
