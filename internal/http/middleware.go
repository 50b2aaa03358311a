package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/observability"
)

type contextKey string

const (
	requestIDKey contextKey = "request-id"
	loggerKey    contextKey = "logger"
)

func (s *Server) registerMiddleware() {
	s.mux.Use(s.requestContextMiddleware)
	s.mux.Use(s.recoverMiddleware)
	s.mux.Use(s.observabilityMiddleware)
}

// requestContextMiddleware tags the request with an id and a logger that
// carries it, plus the driver the route addresses, if any.
func (s *Server) requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		log := s.logger.With("request_id", reqID)
		if id := driverIDFromRoute(r); id != "" {
			log = log.With("driver_id", id)
		}
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		ctx = context.WithValue(ctx, loggerKey, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := routeTemplate(r)
		elapsed := time.Since(start)
		log := s.requestLogger(r)

		// A websocket handler returns when the driver disconnects; its
		// lifetime is a session, not a request latency.
		if ww.hijacked {
			log.Info("driver_session_closed", "route", route, "session_s", elapsed.Seconds(), "remote_addr", remoteIP(r))
			return
		}

		status := strconv.Itoa(ww.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())

		log.Info("http_request",
			"method", r.Method,
			"route", route,
			"status", ww.status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", remoteIP(r),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.requestLogger(r).Error("panic recovered", "error", rec, "route", routeTemplate(r))
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":      "internal error",
					"request_id": requestIDFromContext(r.Context()),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger returns the logger bound to r, or the server logger.
func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

type responseWriter struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *responseWriter) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (r *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	r.hijacked = true
	return h.Hijack()
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func driverIDFromRoute(r *http.Request) string {
	vars := mux.Vars(r)
	if id := vars["driver_id"]; id != "" {
		return id
	}
	if strings.Contains(routeTemplate(r), "/drivers/") {
		return vars["id"]
	}
	return ""
}

func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func remoteIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
