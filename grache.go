package grache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/grache/cache"
	cachekey "github.com/always-cache/grache/pkg/cache-key"
	cachestatus "github.com/always-cache/grache/pkg/cache-status"
	"github.com/always-cache/grache/pkg/headers"
	"github.com/always-cache/grache/pkg/metrics"
	requestbody "github.com/always-cache/grache/pkg/request-body"
	requestconfig "github.com/always-cache/grache/pkg/request-config"
	serializer "github.com/always-cache/grache/pkg/response-serializer"
	"github.com/always-cache/grache/pkg/upstream"

	"github.com/rs/zerolog"
)

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// Upstream URL used when the request does not name one.
	DefaultUpstreamURL string
	// HTTP client for upstream requests. Timeouts are configured here.
	// A client without timeout is used if nil.
	Client *http.Client
	// Where auth identifiers are read from. Session cookies if nil.
	Auth cachekey.AuthExtractor
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Optional metrics collectors.
	Metrics *metrics.Metrics
	// Maximum accepted request body size. Unlimited if zero.
	MaxBodyBytes int64
}

type Grache struct {
	cache        cache.CacheProvider
	keyer        cachekey.CacheKeyer
	forwarder    *upstream.Forwarder
	defaultURL   string
	maxBodyBytes int64
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// CreateProxy initializes the proxy.
func CreateProxy(config Config) *Grache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("upstream", config.DefaultUpstreamURL).
		Logger()

	if config.Cache == nil {
		config.Cache = cache.NewMemCache()
	}

	return &Grache{
		cache:        config.Cache,
		keyer:        cachekey.NewCacheKeyer(config.Auth),
		forwarder:    upstream.NewForwarder(config.Client, logger),
		defaultURL:   config.DefaultUpstreamURL,
		maxBodyBytes: config.MaxBodyBytes,
		metrics:      config.Metrics,
		log:          logger,
	}
}

type stage int

const (
	stageConfiguring stage = iota
	stageClassifying
	stageKeyDerivation
	stageCacheLookup
	stageCacheHit
	stageForwarding
	stageCachePopulation
	stageResponseAssembly
	stageDone
)

func (s stage) String() string {
	return [...]string{
		"configuring",
		"classifying",
		"key-derivation",
		"cache-lookup",
		"cache-hit",
		"forwarding",
		"cache-population",
		"response-assembly",
		"done",
	}[s]
}

type ErrorKind int

const (
	InvalidBody ErrorKind = iota
	UpstreamError
)

func (k ErrorKind) String() string {
	if k == InvalidBody {
		return "invalid-body"
	}
	return "upstream-error"
}

// failure ends a request with an error response.
type failure struct {
	kind   ErrorKind
	status int
	msg    string
	err    error
}

func (f *failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.kind, f.msg, f.err)
}

func (f *failure) Unwrap() error {
	return f.err
}

// lookupResult is either a cacheHit or a cacheMiss.
type lookupResult interface {
	isLookupResult()
}

type cacheHit struct {
	res serializer.StoredResponse
}

type cacheMiss struct {
	reason cachestatus.FwdReason
	detail string
}

func (cacheHit) isLookupResult()  {}
func (cacheMiss) isLookupResult() {}

// requestContext is what the pipeline knows about a request.
// It is not modified after the key has been derived.
type requestContext struct {
	config  requestconfig.Config
	body    requestbody.Body
	id      cachekey.Identity
	key     uint64
	// non-empty when the cache is not used, names why
	bypass  string
	inbound http.Header
}

// ServeHTTP implements the http.Handler interface.
func (g *Grache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer g.recover(w)
	g.handle(w, r)
}

// recover recovers from panics and answers with an internal error.
func (g *Grache) recover(w http.ResponseWriter) {
	if err := recover(); err != nil {
		g.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in proxy handler")
		http.Error(w, "Internal proxy error", http.StatusInternalServerError)
	}
}

func (g *Grache) handle(w http.ResponseWriter, r *http.Request) {
	st := stageConfiguring
	log := g.log.With().Str("sourceIp", getRequestSourceIp(r)).Logger()
	advance := func(next stage) {
		st = next
		log.Trace().Stringer("stage", st).Msg("Pipeline")
	}

	inbound := r.Header.Clone()
	if inbound == nil {
		inbound = http.Header{}
	}
	cfg := requestconfig.Resolve(inbound, r.URL.Query(), g.defaultURL)

	advance(stageClassifying)
	body, err := g.readBody(w, r)
	if err != nil {
		g.fail(w, log, requestbody.Name(requestbody.Unknown{}), err)
		return
	}

	advance(stageKeyDerivation)
	rc := requestContext{
		config:  cfg,
		body:    body,
		id:      g.keyer.Identify(r),
		inbound: inbound,
	}
	if !cachekey.Cacheable(cfg, body) {
		rc.bypass = "mutation"
	} else if cfg.Expiration <= 0 {
		rc.bypass = "no-ttl"
	}
	if rc.bypass == "" {
		rc.key = cachekey.Derive(cfg, rc.id, body)
	}
	log = log.With().Str("body", requestbody.Name(body)).Logger()

	advance(stageCacheLookup)
	cs := cachestatus.CacheStatus{}
	var res serializer.StoredResponse
	switch result := g.lookup(r.Context(), log, rc).(type) {
	case cacheHit:
		advance(stageCacheHit)
		cs.Hit()
		res = result.res
		g.metrics.RecordHit()
	case cacheMiss:
		advance(stageForwarding)
		cs.Forward(result.reason)
		cs.Detail = result.detail
		g.metrics.RecordMiss(string(result.reason))
		upRes, err := g.forward(r.Context(), log, rc)
		if err != nil {
			g.fail(w, log, requestbody.Name(body), err)
			return
		}
		cs.FwdStatus = upRes.StatusCode
		res = serializer.StoredResponse{
			StatusCode: upRes.StatusCode,
			Content:    upRes.Body,
			Headers:    upRes.Header,
		}
		if rc.bypass == "" && upRes.StatusCode == http.StatusOK {
			advance(stageCachePopulation)
			// a received response is written through even if the client went away
			cs.Stored = g.store(context.WithoutCancel(r.Context()), log, rc, res)
			if cs.Stored {
				cs.TimeToLive = int(cfg.Expiration / time.Second)
			}
		}
	}

	advance(stageResponseAssembly)
	g.send(w, log, res, cs)
	g.metrics.RecordRequest(requestbody.Name(body), res.StatusCode)
	advance(stageDone)
}

// readBody reads and classifies the request body.
// A request without body is Unknown.
func (g *Grache) readBody(w http.ResponseWriter, r *http.Request) (requestbody.Body, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return requestbody.Unknown{}, nil
	}
	reader := io.Reader(r.Body)
	if g.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, g.maxBodyBytes)
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		return nil, &failure{kind: InvalidBody, status: status, msg: "Could not read request body", err: err}
	}
	raw := string(b)
	body, ok := requestbody.Classify(&raw)
	if !ok {
		return requestbody.Unknown{}, nil
	}
	return body, nil
}

// lookup consults the cache.
// Backend errors and unreadable entries count as misses.
func (g *Grache) lookup(ctx context.Context, log zerolog.Logger, rc requestContext) lookupResult {
	if rc.bypass != "" {
		log.Trace().Str("reason", rc.bypass).Msg("Bypassing cache")
		return cacheMiss{reason: cachestatus.FwdBypass, detail: rc.bypass}
	}
	b, ok, err := g.cache.Get(ctx, rc.key)
	if err != nil {
		log.Warn().Err(err).Str("key", cache.FormatKey(rc.key)).Msg("Could not read from cache")
		g.metrics.RecordCacheError("get")
		return cacheMiss{reason: cachestatus.FwdMiss}
	}
	if !ok {
		return cacheMiss{reason: cachestatus.FwdUriMiss}
	}
	res, err := serializer.BytesToStoredResponse(b)
	if err != nil {
		log.Warn().Err(err).Str("key", cache.FormatKey(rc.key)).Msg("Purging unreadable cache entry")
		if err := g.cache.Purge(ctx, rc.key); err != nil {
			g.metrics.RecordCacheError("purge")
		}
		return cacheMiss{reason: cachestatus.FwdMiss}
	}
	return cacheHit{res: res}
}

// forward sends the request to its upstream.
func (g *Grache) forward(ctx context.Context, log zerolog.Logger, rc requestContext) (upstream.Response, error) {
	outbound, err := headers.Sanitize(rc.inbound, rc.config.UpstreamURL)
	if errors.Is(err, headers.ErrInvalidHeaderValue) {
		log.Warn().Err(err).Msg("Forwarding unsanitized headers")
		outbound = rc.inbound
	} else if err != nil {
		g.metrics.RecordUpstreamError("invalid-url")
		return upstream.Response{}, &failure{kind: UpstreamError, status: http.StatusBadGateway, msg: "Invalid upstream URL", err: err}
	}

	res, err := g.forwarder.Forward(ctx, rc.config.UpstreamURL, outbound, rc.body)
	if err != nil {
		kind := "other"
		if errors.Is(err, upstream.ErrUpstreamUnreachable) {
			kind = "unreachable"
		} else if errors.Is(err, upstream.ErrUpstreamProtocol) {
			kind = "protocol"
		}
		g.metrics.RecordUpstreamError(kind)
		return res, &failure{kind: UpstreamError, status: http.StatusBadGateway, msg: "Could not get response from upstream", err: err}
	}
	g.metrics.RecordUpstream(res.StatusCode, res.ReceivedAt.Sub(res.RequestedAt))
	return res, nil
}

// store writes the response to the cache and sets its expiry.
// Failures are logged and reported as not stored.
func (g *Grache) store(ctx context.Context, log zerolog.Logger, rc requestContext, res serializer.StoredResponse) bool {
	entry := res
	// cookies belong to the user who caused the response
	entry.Headers = res.Headers.Clone()
	entry.Headers.Del("Set-Cookie")

	b, err := serializer.StoredResponseToBytes(entry)
	if err != nil {
		log.Error().Err(err).Msg("Could not serialize response")
		return false
	}
	key := cache.FormatKey(rc.key)
	log.Trace().Str("key", key).Dur("ttl", rc.config.Expiration).Msg("Writing to cache")
	if err := g.cache.Set(ctx, rc.key, b); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not write to cache")
		g.metrics.RecordCacheError("set")
		return false
	}
	if err := g.cache.Expire(ctx, rc.key, rc.config.Expiration); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not set cache expiry, purging entry")
		g.metrics.RecordCacheError("expire")
		// an entry without expiry would never go away
		if err := g.cache.Purge(ctx, rc.key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Could not purge entry without expiry")
			g.metrics.RecordCacheError("purge")
		}
		return false
	}
	return true
}

func (g *Grache) send(w http.ResponseWriter, log zerolog.Logger, res serializer.StoredResponse, cs cachestatus.CacheStatus) {
	h := w.Header()
	for name, values := range headers.ForClient(res.Headers) {
		h[name] = values
	}
	headers.SetCacheHit(h, cs.IsHit())
	cs.Write(h)
	status := res.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	bytesWritten, err := io.WriteString(w, res.Content)
	if err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}

	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	log.Debug().
		Int("status", status).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("ttl", cs.TimeToLive).
		Int("hit", isHit).
		Int("bytes", bytesWritten).
		Msg("Sending response to client")
}

func (g *Grache) fail(w http.ResponseWriter, log zerolog.Logger, bodyName string, err error) {
	var f *failure
	if !errors.As(err, &f) {
		f = &failure{kind: UpstreamError, status: http.StatusBadGateway, msg: "Upstream request failed", err: err}
	}
	if f.kind == InvalidBody {
		log.Warn().Err(f.err).Msg(f.msg)
	} else {
		log.Error().Err(f.err).Msg(f.msg)
	}
	headers.SetCacheHit(w.Header(), false)
	http.Error(w, f.msg, f.status)
	g.metrics.RecordRequest(bodyName, f.status)
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
