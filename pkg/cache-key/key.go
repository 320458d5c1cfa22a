package cachekey

import (
	"net/http"

	requestbody "github.com/always-cache/grache/pkg/request-body"
	requestconfig "github.com/always-cache/grache/pkg/request-config"

	"github.com/mitchellh/hashstructure/v2"
)

// CacheKeyer derives cache keys for requests.
type CacheKeyer struct {
	// Where the auth identifiers of a request come from.
	Auth AuthExtractor
}

// NewCacheKeyer returns a keyer using the given auth scheme.
// Cookie auth is used if auth is nil.
func NewCacheKeyer(auth AuthExtractor) CacheKeyer {
	if auth == nil {
		auth = DefaultCookieAuth
	}
	return CacheKeyer{Auth: auth}
}

// Identify extracts the auth identifiers of the request.
func (c CacheKeyer) Identify(r *http.Request) Identity {
	return c.Auth.Identify(r)
}

// keyMaterial is everything a cache key depends on.
// Field names take part in the hash, so values cannot move between fields.
type keyMaterial struct {
	UpstreamURL string
	Auth        []string
	BodyKind    string
	Body        []string
}

// Derive returns the cache key for a request.
// The key depends on the upstream URL, on the auth identifiers unless auth is ignored
// (and only when both are present), and on the cache-relevant part of the body.
// Mutation bodies only count when mutation caching is enabled; use Cacheable
// to tell whether a request may be served from the cache at all.
func Derive(cfg requestconfig.Config, id Identity, body requestbody.Body) uint64 {
	m := keyMaterial{UpstreamURL: cfg.UpstreamURL}
	if !cfg.IgnoreAuth && id.Complete() {
		m.Auth = []string{id.Token, id.Signature}
	}
	switch b := body.(type) {
	case requestbody.GraphQL:
		if b.Kind == requestbody.Query || cfg.CacheMutations {
			m.BodyKind = "graphql"
			opName := ""
			if b.OperationName != nil {
				opName = *b.OperationName
			}
			m.Body = []string{b.Query, opName, b.CanonicalVariables(), b.CanonicalExtensions()}
		}
	case requestbody.JSON:
		m.BodyKind = "json"
		m.Body = []string{b.Canonical()}
	case requestbody.Text:
		m.BodyKind = "text"
		m.Body = []string{b.Raw}
	}
	// keyMaterial only holds strings, hashing it cannot fail
	key, _ := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	return key
}

// Cacheable reports whether responses to the request may be read from or written to the cache.
// A mutation is only cacheable when mutation caching is enabled.
func Cacheable(cfg requestconfig.Config, body requestbody.Body) bool {
	if gql, ok := body.(requestbody.GraphQL); ok {
		return gql.Kind == requestbody.Query || cfg.CacheMutations
	}
	return true
}
