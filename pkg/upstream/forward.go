package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	requestbody "github.com/always-cache/grache/pkg/request-body"

	"github.com/rs/zerolog"
)

var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamProtocol    = errors.New("upstream protocol error")
)

// Response is a fully buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
	// When the request was sent and when the response was read, for logging.
	RequestedAt time.Time
	ReceivedAt  time.Time
}

// Forwarder sends requests to the upstream.
type Forwarder struct {
	client *http.Client
	log    zerolog.Logger
}

// NewForwarder creates a forwarder using the given client.
// Timeouts are the responsibility of the client.
// A client without timeout is used if nil.
func NewForwarder(client *http.Client, logger zerolog.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	// do not follow redirects, they are the client's business
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Forwarder{client: &c, log: logger}
}

// Forward POSTs the body to the upstream url with the given headers
// and reads the complete response. Gzipped responses are decompressed.
// It does not retry.
func (f *Forwarder) Forward(ctx context.Context, upstreamURL string, header http.Header, body requestbody.Body) (Response, error) {
	res := Response{RequestedAt: time.Now()}

	payload, hasBody, err := requestbody.Marshal(body)
	if err != nil {
		return res, fmt.Errorf("could not serialize body: %w", err)
	}
	// need to specifically set body to nil on the outgoing request if there is none
	// see https://github.com/golang/go/issues/16036
	var reqBody io.Reader
	if hasBody {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, reqBody)
	if err != nil {
		return res, fmt.Errorf("%w: %s", ErrUpstreamUnreachable, err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	}
	req.Header.Del("Host")

	f.log.Trace().Str("url", upstreamURL).Int("bytes", len(payload)).Msg("Forwarding to upstream")
	upRes, err := f.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("%w: %s", ErrUpstreamUnreachable, err)
	}
	defer upRes.Body.Close()

	content, err := readBody(upRes)
	if err != nil {
		return res, fmt.Errorf("%w: %s", ErrUpstreamProtocol, err)
	}
	res.ReceivedAt = time.Now()
	res.StatusCode = upRes.StatusCode
	res.Header = upRes.Header.Clone()
	if res.Header == nil {
		res.Header = http.Header{}
	}
	// the body handed on is decoded, so these no longer describe it
	if isGzip(upRes.Header) {
		res.Header.Del("Content-Encoding")
	}
	res.Header.Del("Content-Length")
	res.Body = content

	f.log.Trace().Int("status", res.StatusCode).Dur("took", res.ReceivedAt.Sub(res.RequestedAt)).Msg("Got response from upstream")
	return res, nil
}

func readBody(res *http.Response) (string, error) {
	var r io.Reader = res.Body
	if isGzip(res.Header) {
		gz, err := gzip.NewReader(res.Body)
		if err == io.EOF {
			// empty body
			return "", nil
		} else if err != nil {
			return "", err
		}
		defer gz.Close()
		r = gz
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isGzip(h http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Content-Encoding")), "gzip")
}
