package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/menu-sync/internal/observability"
	"github.com/example/menu-sync/internal/ordering"
	"github.com/example/menu-sync/internal/storage"
	"github.com/example/menu-sync/internal/types"
)

// UserHeader carries the identity asserted by the upstream auth proxy.
const UserHeader = "X-User-ID"

type userKey struct{}

var (
	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http",
		Name:      "request_seconds",
		Help:      "Latency of API requests by route template and status.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"route", "method", "status"})

	tracer = otel.Tracer("github.com/example/menu-sync/httpapi")
)

func init() {
	prometheus.MustRegister(requestLatency)
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// UserFrom returns the authenticated user of a request context.
func UserFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe records a span, a latency sample and an access log line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+route)
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		requestLatency.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
		logger := observability.LoggerWithTrace(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request served")
	})
}

// writeStoreError maps domain errors onto status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, storage.ErrLimitReached):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, types.ErrInvalid), errors.Is(err, ordering.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger := observability.LoggerWithTrace(r.Context(), s.logger)
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
