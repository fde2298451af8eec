// internal/httpapi/router.go

// Package httpapi assembles the lending daemon's HTTP surface.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lendingledger/internal/catalog"
	"lendingledger/internal/lending"
	"lendingledger/internal/membership"
	"lendingledger/internal/platform/httpx"
	"lendingledger/internal/platform/ratelimit"
)

// Services are the handlers' backends.
type Services struct {
	Catalog    catalog.Service
	Membership membership.Service
	Lending    lending.Service
}

// Options tune the router. A nil Limiter disables rate limiting.
type Options struct {
	Logger  *slog.Logger
	Limiter *ratelimit.Store
	KeyFn   ratelimit.KeyFunc
}

// NewRouter mounts every route under /api/v1 plus /healthz.
func NewRouter(svc Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	catalogHandler := catalog.NewHandler(svc.Catalog, logger)
	membershipHandler := membership.NewHandler(svc.Membership, logger)
	lendingHandler := lending.NewHandler(svc.Lending, logger)

	r.Route("/api/v1", func(r chi.Router) {
		catalogHandler.Routes(r)
		membershipHandler.Routes(r)
		lendingHandler.ReadRoutes(r)

		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(ratelimit.Middleware(opts.Limiter, opts.KeyFn))
			}
			lendingHandler.Routes(r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusNotFound, httpx.ErrorResponse{Code: "ROUTE_NOT_FOUND", Message: "no such route"})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
