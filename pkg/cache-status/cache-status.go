package cachestatus

import (
	"fmt"
	"net/http"
)

// HeaderName is the RFC 9211 response header.
const HeaderName = "Cache-Status"

// cacheName identifies this cache in the header.
const cacheName = "Grache"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"
)

// CacheStatus describes how the cache handled a request.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// FwdStatus is the status code of the forwarded response.
	FwdStatus int
	// Whether the forwarded response was stored.
	Stored bool
	// Remaining freshness in seconds.
	TimeToLive int
	// Why the cache was bypassed.
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response came from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := cacheName
	if cs.Status == StatusHit {
		status += "; hit"
	} else if cs.FwdReason != "" {
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
		if cs.FwdStatus != 0 {
			status = fmt.Sprintf("%s; fwd-status=%d", status, cs.FwdStatus)
		}
	}
	if cs.TimeToLive > 0 {
		status = fmt.Sprintf("%s; ttl=%d", status, cs.TimeToLive)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}

// Write adds the status to the response headers.
func (cs CacheStatus) Write(h http.Header) {
	h.Add(HeaderName, cs.String())
}
