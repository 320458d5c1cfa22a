package requestconfig

import (
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Control headers understood by the proxy.
// They are consumed while resolving the config and never leave the proxy.
const (
	ExpirationHeader     = "Grache-Expiration"
	IgnoreAuthHeader     = "Grache-Ignore-Auth"
	CacheMutationsHeader = "Grache-Cache-Mutations"
	URLHeader            = "Grache-Url"
)

// Query parameters mirroring the control headers.
const (
	ExpirationParam     = "expiration"
	IgnoreAuthParam     = "ignoreAuth"
	CacheMutationsParam = "cacheMutations"
	URLParam            = "url"
)

// DefaultExpiration is used when neither header nor query parameter set a valid TTL.
const DefaultExpiration = 600 * time.Second

// ControlHeaders lists every control header name.
var ControlHeaders = []string{
	ExpirationHeader,
	IgnoreAuthHeader,
	CacheMutationsHeader,
	URLHeader,
}

// Config is the caching policy for a single request.
type Config struct {
	// How long a stored response lives. Zero bypasses the cache.
	Expiration time.Duration
	// Leave auth identifiers out of the cache key.
	IgnoreAuth bool
	// Cache GraphQL mutations like queries.
	CacheMutations bool
	// Where the request is forwarded to.
	UpstreamURL string
}

// Resolve builds the request config from the query parameters and headers.
// A header that parses overrides the query parameter, which overrides the default.
// Every control header is removed from h, whether it was used or not.
// Values that do not parse are ignored.
func Resolve(h http.Header, query url.Values, defaultURL string) Config {
	cfg := Config{
		Expiration:  DefaultExpiration,
		UpstreamURL: defaultURL,
	}

	if exp, ok := parseExpiration(query.Get(ExpirationParam)); ok {
		cfg.Expiration = exp
	}
	if exp, ok := parseExpiration(h.Get(ExpirationHeader)); ok {
		cfg.Expiration = exp
	}
	h.Del(ExpirationHeader)

	if b, err := strconv.ParseBool(query.Get(IgnoreAuthParam)); err == nil {
		cfg.IgnoreAuth = b
	}
	if b, err := strconv.ParseBool(h.Get(IgnoreAuthHeader)); err == nil {
		cfg.IgnoreAuth = b
	}
	h.Del(IgnoreAuthHeader)

	if b, err := strconv.ParseBool(query.Get(CacheMutationsParam)); err == nil {
		cfg.CacheMutations = b
	}
	if b, err := strconv.ParseBool(h.Get(CacheMutationsHeader)); err == nil {
		cfg.CacheMutations = b
	}
	h.Del(CacheMutationsHeader)

	if u := query.Get(URLParam); u != "" {
		cfg.UpstreamURL = u
	}
	if u := h.Get(URLHeader); u != "" {
		cfg.UpstreamURL = u
	}
	h.Del(URLHeader)

	return cfg
}

// parseExpiration parses a TTL in whole seconds.
// Negative numbers are rejected.
func parseExpiration(s string) (time.Duration, bool) {
	secs, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
