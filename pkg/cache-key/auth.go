package cachekey

import (
	"net/http"
	"strings"
)

// Identity holds the auth identifiers of a request:
// a session token and the signature that goes with it.
type Identity struct {
	Token     string
	Signature string
}

// Complete reports whether both identifiers are present.
// Requests with an incomplete identity are keyed as anonymous.
func (i Identity) Complete() bool {
	return i.Token != "" && i.Signature != ""
}

// AuthExtractor gets the auth identifiers from a request.
type AuthExtractor interface {
	Identify(r *http.Request) Identity
}

// CookieAuth reads the identity from two cookies.
type CookieAuth struct {
	TokenCookie     string
	SignatureCookie string
}

// DefaultCookieAuth uses the `session` and `session_sig` cookies.
var DefaultCookieAuth = CookieAuth{
	TokenCookie:     "session",
	SignatureCookie: "session_sig",
}

func (c CookieAuth) Identify(r *http.Request) Identity {
	var id Identity
	if cookie, err := r.Cookie(c.TokenCookie); err == nil {
		id.Token = cookie.Value
	}
	if cookie, err := r.Cookie(c.SignatureCookie); err == nil {
		id.Signature = cookie.Value
	}
	return id
}

// BearerAuth reads the token from the `Authorization: Bearer` header.
// Bearer tokens carry their own signature, so unless SignatureHeader is set,
// the token doubles as the signature.
type BearerAuth struct {
	SignatureHeader string
}

func (b BearerAuth) Identify(r *http.Request) Identity {
	var id Identity
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return id
	}
	id.Token = strings.TrimSpace(token)
	if b.SignatureHeader == "" {
		id.Signature = id.Token
	} else {
		id.Signature = r.Header.Get(b.SignatureHeader)
	}
	return id
}
