package headers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	requestconfig "github.com/always-cache/grache/pkg/request-config"

	"golang.org/x/net/http/httpguts"
)

// CacheHitHeader tells the client whether the response came from the cache.
const CacheHitHeader = "Grache-Cache-Hit"

// AcceptEncoding is the only encoding requested from the upstream.
const AcceptEncoding = "gzip"

var (
	ErrInvalidUpstreamURL = errors.New("invalid upstream url")
	ErrInvalidHeaderValue = errors.New("invalid header value")
)

// hop-by-hop and transport headers that are never reflected to the client
var transportHeaders = []string{
	"Transfer-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Trailer",
	"Upgrade",
}

// Sanitize returns a copy of the inbound headers that is safe to send to the upstream.
// The Host header is set to the upstream host, Content-Length is dropped
// (the body is re-serialized) and only gzip is accepted as content encoding.
// The inbound headers are not modified.
//
// ErrInvalidHeaderValue means the upstream URL is fine but its host cannot be sent as a header;
// callers may then fall back to forwarding the inbound headers.
func Sanitize(in http.Header, upstreamURL string) (http.Header, error) {
	out := in.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range requestconfig.ControlHeaders {
		out.Del(name)
	}

	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUpstreamURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrInvalidUpstreamURL, upstreamURL)
	}
	if !httpguts.ValidHostHeader(u.Host) {
		return nil, fmt.Errorf("%w: host %q", ErrInvalidHeaderValue, u.Host)
	}

	out.Del("Host")
	out.Set("Host", u.Host)
	out.Del("Content-Length")
	out.Del("Accept-Encoding")
	out.Set("Accept-Encoding", AcceptEncoding)
	// do not forward connection header, this causes trouble
	out.Del("Connection")
	return out, nil
}

// ForClient returns the headers of a response as they may be sent to the client:
// without transport headers and without any control header.
func ForClient(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range transportHeaders {
		out.Del(name)
	}
	for _, name := range requestconfig.ControlHeaders {
		out.Del(name)
	}
	out.Del(CacheHitHeader)
	return out
}

// SetCacheHit sets the cache hit indicator.
func SetCacheHit(h http.Header, hit bool) {
	if hit {
		h.Set(CacheHitHeader, "true")
	} else {
		h.Set(CacheHitHeader, "false")
	}
}
