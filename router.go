package grache

import (
	"net/http"
	"time"

	cachestatus "github.com/always-cache/grache/pkg/cache-status"
	"github.com/always-cache/grache/pkg/headers"
	"github.com/always-cache/grache/pkg/metrics"
	requestconfig "github.com/always-cache/grache/pkg/request-config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
)

// NewRouter mounts the proxy on a chi router.
// Only POST requests are proxied; OPTIONS requests get a CORS preflight answer.
// Metrics are served if m is not nil.
func NewRouter(g *Grache, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(g.log))
	r.Use(hlog.RequestIDHandler("reqId", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Access")
	}))

	allowed := append([]string{"Accept", "Authorization", "Content-Type"}, requestconfig.ControlHeaders...)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:   allowed,
		ExposedHeaders:   []string{headers.CacheHitHeader, cachestatus.HeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Post("/*", g.ServeHTTP)
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.MethodNotAllowed(onlyPost)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			onlyPost(w, r)
			return
		}
		http.NotFound(w, r)
	})
	return r
}

func onlyPost(w http.ResponseWriter, r *http.Request) {
	hlog.FromRequest(r).Debug().Str("method", r.Method).Msg("Rejecting method")
	http.Error(w, "Only POST method supported", http.StatusBadRequest)
}
