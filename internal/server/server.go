// Package server exposes the relay over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Routes holds the subscriber endpoints mounted next to the read-only API.
type Routes struct {
	WebSocket http.Handler
	Events    http.Handler
	// Gatherer backs /metrics; nil leaves the endpoint unmounted.
	Gatherer prometheus.Gatherer
	// Limiter throttles new subscriber connections; nil disables it.
	Limiter *rate.Limiter
}

func NewRouter(server *Server, routes Routes, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", server.HandleHealth)
	r.Get("/snapshot", server.HandleSnapshot)
	if routes.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{}))
	}

	// Subscriber routes hold the connection open for the session lifetime.
	r.Group(func(sub chi.Router) {
		sub.Use(acceptLimiter(routes.Limiter, logger))
		if routes.WebSocket != nil {
			sub.Method(http.MethodGet, "/ws", routes.WebSocket)
		}
		if routes.Events != nil {
			sub.Method(http.MethodGet, "/events", routes.Events)
		}
	})

	return r
}

// NewLimiter returns a limiter admitting perSecond new subscribers with the
// given burst, or nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func acceptLimiter(limiter *rate.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("subscriber connection rejected by rate limit",
					zap.String("remote", r.RemoteAddr),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
			next.ServeHTTP(w, r)
		})
	}
}
